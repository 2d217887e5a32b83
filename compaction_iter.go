// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"

	"github.com/cockroachdb/hummock/internal/base"
)

// compactionIter provides a forward-only iterator that encapsulates the logic
// for collapsing entries during compaction. It wraps an internal iterator
// over the compaction inputs and drops the entries no reader can observe.
// Unlike a store keyed by sequence numbers, every version of a user key is
// addressable by its epoch, and readers may read at any epoch at or above the
// safe epoch. That shapes the three rules applied to the versions of each
// user key.
//
// 1. Duplicates
//
// The same versioned key may be present in more than one input, for example
// when a flush is retried. The inputs are ordered from most to least recent
// and the merging iterator breaks ties by input order, so the first
// occurrence of a versioned key is the most recent one. Later occurrences are
// dropped.
//
// 2. History below the safe epoch
//
// A read at epoch e >= safe observes the newest version with an epoch <= e.
// Every version above the safe epoch may be the answer to some read and is
// kept. Among the versions at or below the safe epoch, only the newest can
// ever be observed: it shadows the older ones for every valid read epoch.
// Consider the entries below with a safe epoch of 6:
//
//	a@9.SET
//	a@7.DEL
//	a@6.SET
//	a@4.SET
//	a@2.DEL
//
// These collapse to a@9.SET, a@7.DEL and a@6.SET.
//
// 3. Eliding tombstones
//
// A tombstone hides the older versions of its key. When the compaction
// writes into the bottommost populated level for its key range, no older
// version can exist outside of the compaction, and a tombstone that is the
// oldest surviving version of its key hides nothing. It is dropped, and so
// is the tombstone that becomes the oldest version in its place. A read that
// would have observed the tombstone observes no version instead, with the
// same outcome.
type compactionIter struct {
	cmp        base.Compare
	iter       base.InternalIterator
	iterKV     *base.InternalKV
	safeEpoch  Epoch
	bottommost bool

	// pending holds the surviving versions of the current user key, newest
	// first, and pos is the position of the next one to return.
	pending []base.InternalKV
	pos     int
	keyBuf  []byte
	valBuf  []byte
	err     error

	stats compactionIterStats
}

type compactionIterStats struct {
	// EntriesIn counts every entry read from the inputs.
	EntriesIn uint64
	// EntriesOut counts every entry returned.
	EntriesOut uint64
	// DroppedDuplicates counts entries dropped by rule 1.
	DroppedDuplicates uint64
	// DroppedShadowed counts entries dropped by rule 2.
	DroppedShadowed uint64
	// DroppedTombstones counts entries dropped by rule 3.
	DroppedTombstones uint64
}

func (s compactionIterStats) String() string {
	return fmt.Sprintf("in=%d out=%d duplicates=%d shadowed=%d tombstones=%d",
		s.EntriesIn, s.EntriesOut, s.DroppedDuplicates, s.DroppedShadowed, s.DroppedTombstones)
}

func newCompactionIter(
	cmp base.Compare, iter base.InternalIterator, safeEpoch Epoch, bottommost bool,
) *compactionIter {
	return &compactionIter{
		cmp:        cmp,
		iter:       iter,
		safeEpoch:  safeEpoch,
		bottommost: bottommost,
	}
}

// First positions the iterator at the first surviving entry.
func (c *compactionIter) First() *base.InternalKV {
	c.iterKV = c.iter.First()
	c.pending = c.pending[:0]
	c.pos = 0
	return c.Next()
}

// Next returns the next surviving entry, or nil once the inputs are
// exhausted or an error occurred. The returned KV is valid until the
// following call.
func (c *compactionIter) Next() *base.InternalKV {
	if c.pos >= len(c.pending) && !c.nextUserKey() {
		return nil
	}
	kv := &c.pending[c.pos]
	c.pos++
	c.stats.EntriesOut++
	return kv
}

// nextUserKey collapses the versions of the next user key holding at least
// one surviving version into pending.
func (c *compactionIter) nextUserKey() bool {
	for c.iterKV != nil {
		c.pending = c.pending[:0]
		c.pos = 0
		c.keyBuf = append(c.keyBuf[:0], c.iterKV.K.UserKey...)
		c.valBuf = c.valBuf[:0]
		var prevEpoch Epoch
		first, atOrBelowSafe := true, false
		for c.iterKV != nil && c.cmp(c.iterKV.K.UserKey, c.keyBuf) == 0 {
			kv := c.iterKV
			c.stats.EntriesIn++
			switch {
			case !first && kv.K.Epoch == prevEpoch:
				c.stats.DroppedDuplicates++
			case kv.K.Epoch <= c.safeEpoch && atOrBelowSafe:
				c.stats.DroppedShadowed++
			default:
				if kv.K.Epoch <= c.safeEpoch {
					atOrBelowSafe = true
				}
				start := len(c.valBuf)
				c.valBuf = append(c.valBuf, kv.V...)
				c.pending = append(c.pending, base.InternalKV{
					K:    base.MakeInternalKey(c.keyBuf, kv.K.Epoch),
					Kind: kv.Kind,
					V:    c.valBuf[start:len(c.valBuf):len(c.valBuf)],
				})
			}
			first = false
			prevEpoch = kv.K.Epoch
			c.iterKV = c.iter.Next()
		}
		if c.bottommost {
			for n := len(c.pending); n > 0 && c.pending[n-1].IsTombstone(); n-- {
				c.pending = c.pending[:n-1]
				c.stats.DroppedTombstones++
			}
		}
		if len(c.pending) > 0 {
			return true
		}
	}
	c.err = c.iter.Error()
	return false
}

// Error returns any error encountered reading the inputs.
func (c *compactionIter) Error() error {
	return c.err
}
