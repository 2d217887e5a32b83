// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/internal/base"

// mergingIterHeap is a heap of mergingIterLevels ordered by the level's
// current key. Entries with identical keys are ordered by level index, so
// that the lower (more recent) source is popped first in both directions.
//
// REQUIRES: Every mergingIterLevel.iterKV is non-nil.
type mergingIterHeap struct {
	cmp     base.Compare
	reverse bool
	items   []mergingIterHeapItem
}

type mergingIterHeapItem struct {
	*mergingIterLevel
	winnerChild winnerChild
}

// winnerChild caches which child of an item won the last comparison between
// the two children. It is invalidated whenever either child changes.
type winnerChild uint8

const (
	winnerChildUnknown winnerChild = iota
	winnerChildLeft
	winnerChildRight
)

func (h *mergingIterHeap) len() int {
	return len(h.items)
}

func (h *mergingIterHeap) clear() {
	h.items = h.items[:0]
}

func (h *mergingIterHeap) less(i, j int) bool {
	ikv, jkv := h.items[i].iterKV, h.items[j].iterKV
	if c := h.cmp(ikv.K.UserKey, jkv.K.UserKey); c != 0 {
		if h.reverse {
			return c > 0
		}
		return c < 0
	}
	if ikv.K.Epoch != jkv.K.Epoch {
		if h.reverse {
			return ikv.K.Epoch < jkv.K.Epoch
		}
		return ikv.K.Epoch > jkv.K.Epoch
	}
	return h.items[i].index < h.items[j].index
}

func (h *mergingIterHeap) swap(i, j int) {
	h.items[i].mergingIterLevel, h.items[j].mergingIterLevel =
		h.items[j].mergingIterLevel, h.items[i].mergingIterLevel
}

func (h *mergingIterHeap) init() {
	for i := range h.items {
		h.items[i].winnerChild = winnerChildUnknown
	}
	n := h.len()
	for i := n/2 - 1; i >= 0; i-- {
		h.down(i, n)
	}
}

// fixTop restores the heap property after the top of the heap has been
// modified.
func (h *mergingIterHeap) fixTop() {
	h.down(0, h.len())
}

// pop removes the top of the heap.
func (h *mergingIterHeap) pop() *mergingIterLevel {
	n := h.len() - 1
	h.swap(0, n)
	// Index n is removed, so its parent has at most one child left and its
	// cached winner is irrelevant.
	h.down(0, n)
	item := h.items[n]
	h.items = h.items[:n]
	return item.mergingIterLevel
}

func (h *mergingIterHeap) down(i, n int) {
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n {
			if h.items[i].winnerChild == winnerChildUnknown {
				if h.less(j2, j1) {
					h.items[i].winnerChild = winnerChildRight
				} else {
					h.items[i].winnerChild = winnerChildLeft
				}
			}
			if h.items[i].winnerChild == winnerChildRight {
				j = j2 // right child
			}
		}
		if !h.less(j, i) {
			break
		}
		// NB: j is a child of i.
		h.swap(i, j)
		h.items[i].winnerChild = winnerChildUnknown
		i = j
	}
}
