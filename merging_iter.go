// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/internal/base"

type mergingIterLevel struct {
	index int
	iter  base.InternalIterator
	// iterKV caches the current key-value pair of iter.
	iterKV *base.InternalKV
}

// mergingIter provides a merged view of multiple iterators from different
// sources of the LSM: the memtable, each L0 table and each lower level.
//
// The inputs are ordered from most to least recent. Their key ranges may
// overlap and the same versioned key may appear in more than one input, in
// which case the entry of the more recent input is returned first.
//
// Changing direction repositions every input strictly after (or before) the
// current key, so duplicates of the current key held by other inputs are
// skipped.
type mergingIter struct {
	cmp    base.Compare
	levels []mergingIterLevel
	heap   mergingIterHeap
	// dir is +1 when positioned by a forward operation and -1 when positioned
	// by a reverse one.
	dir    int
	keyBuf base.InternalKey
	err    error
}

var _ base.InternalIterator = (*mergingIter)(nil)

// newMergingIter returns an iterator that merges its inputs. Walking the
// resultant iterator returns all key/value pairs of all inputs in
// InternalCompare order.
//
// None of the iters may be nil.
func newMergingIter(cmp base.Compare, iters ...base.InternalIterator) *mergingIter {
	m := &mergingIter{cmp: cmp}
	m.levels = make([]mergingIterLevel, len(iters))
	m.heap.cmp = cmp
	m.heap.items = make([]mergingIterHeapItem, 0, len(iters))
	for i := range iters {
		m.levels[i] = mergingIterLevel{index: i, iter: iters[i]}
	}
	return m
}

// setKV records the result of a positioning operation on a level, capturing
// an error if the level was exhausted by one.
func (m *mergingIter) setKV(l *mergingIterLevel, kv *base.InternalKV) {
	l.iterKV = kv
	if kv == nil && m.err == nil {
		m.err = l.iter.Error()
	}
}

func (m *mergingIter) initHeap(reverse bool) *base.InternalKV {
	m.heap.clear()
	m.heap.reverse = reverse
	if m.err != nil {
		return nil
	}
	for i := range m.levels {
		if l := &m.levels[i]; l.iterKV != nil {
			m.heap.items = append(m.heap.items, mergingIterHeapItem{mergingIterLevel: l})
		}
	}
	m.heap.init()
	return m.top()
}

func (m *mergingIter) top() *base.InternalKV {
	if m.err != nil || m.heap.len() == 0 {
		return nil
	}
	return m.heap.items[0].iterKV
}

// SeekGE implements base.InternalIterator.
func (m *mergingIter) SeekGE(key base.InternalKey) *base.InternalKV {
	m.err = nil
	m.dir = 1
	for i := range m.levels {
		l := &m.levels[i]
		m.setKV(l, l.iter.SeekGE(key))
	}
	return m.initHeap(false)
}

// SeekLT implements base.InternalIterator.
func (m *mergingIter) SeekLT(key base.InternalKey) *base.InternalKV {
	m.err = nil
	m.dir = -1
	for i := range m.levels {
		l := &m.levels[i]
		m.setKV(l, l.iter.SeekLT(key))
	}
	return m.initHeap(true)
}

// First implements base.InternalIterator.
func (m *mergingIter) First() *base.InternalKV {
	m.err = nil
	m.dir = 1
	for i := range m.levels {
		l := &m.levels[i]
		m.setKV(l, l.iter.First())
	}
	return m.initHeap(false)
}

// Last implements base.InternalIterator.
func (m *mergingIter) Last() *base.InternalKV {
	m.err = nil
	m.dir = -1
	for i := range m.levels {
		l := &m.levels[i]
		m.setKV(l, l.iter.Last())
	}
	return m.initHeap(true)
}

// switchToMinHeap repositions every level at the first entry strictly after
// the current key.
func (m *mergingIter) switchToMinHeap() *base.InternalKV {
	m.keyBuf.CopyFrom(m.heap.items[0].iterKV.K)
	m.dir = 1
	for i := range m.levels {
		l := &m.levels[i]
		kv := l.iter.SeekGE(m.keyBuf)
		for kv != nil && base.InternalCompare(m.cmp, kv.K, m.keyBuf) <= 0 {
			kv = l.iter.Next()
		}
		m.setKV(l, kv)
	}
	return m.initHeap(false)
}

// switchToMaxHeap repositions every level at the last entry strictly before
// the current key.
func (m *mergingIter) switchToMaxHeap() *base.InternalKV {
	m.keyBuf.CopyFrom(m.heap.items[0].iterKV.K)
	m.dir = -1
	for i := range m.levels {
		l := &m.levels[i]
		m.setKV(l, l.iter.SeekLT(m.keyBuf))
	}
	return m.initHeap(true)
}

// Next implements base.InternalIterator.
func (m *mergingIter) Next() *base.InternalKV {
	if m.top() == nil {
		return nil
	}
	if m.dir != 1 {
		return m.switchToMinHeap()
	}
	l := m.heap.items[0].mergingIterLevel
	if m.setKV(l, l.iter.Next()); l.iterKV == nil {
		m.heap.pop()
	} else {
		m.heap.fixTop()
	}
	return m.top()
}

// Prev implements base.InternalIterator.
func (m *mergingIter) Prev() *base.InternalKV {
	if m.top() == nil {
		return nil
	}
	if m.dir != -1 {
		return m.switchToMaxHeap()
	}
	l := m.heap.items[0].mergingIterLevel
	if m.setKV(l, l.iter.Prev()); l.iterKV == nil {
		m.heap.pop()
	} else {
		m.heap.fixTop()
	}
	return m.top()
}

// Error implements base.InternalIterator.
func (m *mergingIter) Error() error {
	return m.err
}

// Close implements base.InternalIterator.
func (m *mergingIter) Close() error {
	for i := range m.levels {
		if err := m.levels[i].iter.Close(); err != nil && m.err == nil {
			m.err = err
		}
	}
	m.levels = nil
	m.heap.items = nil
	return m.err
}

