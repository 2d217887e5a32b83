// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"sort"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
)

// levelIter provides a merged view of the sstables in a level. The tables of
// a level other than L0 are sorted and do not overlap, so at most one table
// is open at a time. A table's meta is loaded when the iterator first moves
// into it.
type levelIter struct {
	ctx    context.Context
	cmp    base.Compare
	ts     *tableStore
	stats  *StoreLocalMetrics
	level  int
	tables []*manifest.TableMetadata
	// index is the position of the open table in tables, or -1.
	index int
	iter  *sstable.Iter
	err   error
}

var _ base.InternalIterator = (*levelIter)(nil)

func newLevelIter(
	ctx context.Context,
	ts *tableStore,
	level int,
	tables []*manifest.TableMetadata,
	stats *StoreLocalMetrics,
) *levelIter {
	return &levelIter{
		ctx:    ctx,
		cmp:    ts.cmp.Compare,
		ts:     ts,
		stats:  stats,
		level:  level,
		tables: tables,
		index:  -1,
	}
}

// loadTable opens the table at index, closing the previously open one.
// Returns false if index is out of range or the table could not be loaded.
func (l *levelIter) loadTable(index int) bool {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	l.index = index
	if l.err != nil || index < 0 || index >= len(l.tables) {
		return false
	}
	t, err := l.ts.loadTable(l.ctx, l.tables[index], l.stats)
	if err != nil {
		l.err = err
		return false
	}
	l.iter = sstable.NewIter(l.ctx, l.cmp, t, l.ts.reader(l.stats))
	return true
}

// iterErr captures an error from the open table, returning true if the
// level iterator has failed.
func (l *levelIter) iterErr() bool {
	if l.iter != nil && l.err == nil {
		l.err = l.iter.Error()
	}
	return l.err != nil
}

func (l *levelIter) skipForward() *base.InternalKV {
	for {
		if l.iterErr() || !l.loadTable(l.index+1) {
			return nil
		}
		if kv := l.iter.First(); kv != nil {
			return kv
		}
	}
}

func (l *levelIter) skipBackward() *base.InternalKV {
	for {
		if l.iterErr() || !l.loadTable(l.index-1) {
			return nil
		}
		if kv := l.iter.Last(); kv != nil {
			return kv
		}
	}
}

// SeekGE implements base.InternalIterator. It opens the first table whose
// largest user key is >= the key's user key.
func (l *levelIter) SeekGE(key base.InternalKey) *base.InternalKV {
	l.err = nil
	i := sort.Search(len(l.tables), func(i int) bool {
		return l.cmp(l.tables[i].Largest, key.UserKey) >= 0
	})
	if !l.loadTable(i) {
		return nil
	}
	if kv := l.iter.SeekGE(key); kv != nil {
		return kv
	}
	return l.skipForward()
}

// SeekLT implements base.InternalIterator. It opens the last table whose
// smallest user key is <= the key's user key.
func (l *levelIter) SeekLT(key base.InternalKey) *base.InternalKV {
	l.err = nil
	i := sort.Search(len(l.tables), func(i int) bool {
		return l.cmp(l.tables[i].Smallest, key.UserKey) > 0
	}) - 1
	if !l.loadTable(i) {
		return nil
	}
	if kv := l.iter.SeekLT(key); kv != nil {
		return kv
	}
	return l.skipBackward()
}

// First implements base.InternalIterator.
func (l *levelIter) First() *base.InternalKV {
	l.err = nil
	if !l.loadTable(0) {
		return nil
	}
	if kv := l.iter.First(); kv != nil {
		return kv
	}
	return l.skipForward()
}

// Last implements base.InternalIterator.
func (l *levelIter) Last() *base.InternalKV {
	l.err = nil
	if !l.loadTable(len(l.tables) - 1) {
		return nil
	}
	if kv := l.iter.Last(); kv != nil {
		return kv
	}
	return l.skipBackward()
}

// Next implements base.InternalIterator.
func (l *levelIter) Next() *base.InternalKV {
	if l.iter == nil {
		return nil
	}
	if kv := l.iter.Next(); kv != nil {
		return kv
	}
	return l.skipForward()
}

// Prev implements base.InternalIterator.
func (l *levelIter) Prev() *base.InternalKV {
	if l.iter == nil {
		return nil
	}
	if kv := l.iter.Prev(); kv != nil {
		return kv
	}
	return l.skipBackward()
}

// Error implements base.InternalIterator.
func (l *levelIter) Error() error {
	l.iterErr()
	return l.err
}

// Close implements base.InternalIterator.
func (l *levelIter) Close() error {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	return l.err
}

