// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/zhangyunhao116/skipmap"
)

// memTableEntrySize is the accounted size of a buffered version.
func memTableEntrySize(keyBytes, valueBytes int) uint64 {
	return uint64(keyBytes+valueBytes) + base.EpochSuffixLen + 1
}

type memTableVersion struct {
	epoch Epoch
	kind  base.InternalKeyKind
	value []byte
}

// memTableEntry holds the buffered versions of one user key, newest first.
type memTableEntry struct {
	mu       sync.RWMutex
	versions []memTableVersion
	// dead is set once the entry has been removed from the skiplist. A writer
	// that finds a dead entry must look the key up again.
	dead bool
}

// A memTable buffers the writes of epochs that have not been synced yet. It
// is an ordered concurrent map from user key to the key's versions, built on
// a lock-free skiplist.
//
// Unlike a write-once memtable, entries are removed once the epoch they were
// written at has been flushed and committed: a sync of epoch e moves every
// version with an epoch <= e into L0 and removes it from the memTable, while
// versions at later epochs stay buffered.
//
// It is safe to call apply, get, snapshot, collect and removeThrough
// concurrently.
type memTable struct {
	cmp   *Comparer
	skl   *skipmap.FuncMap[[]byte, *memTableEntry]
	size  atomic.Uint64
	count atomic.Int64
}

func newMemTable(cmp *Comparer) *memTable {
	compare := cmp.Compare
	return &memTable{
		cmp: cmp,
		skl: skipmap.NewFunc[[]byte, *memTableEntry](func(a, b []byte) bool {
			return compare(a, b) < 0
		}),
	}
}

// apply adds the records of a batch at the given epoch. Keys and values are
// copied. A second write of a key at the same epoch replaces the first.
func (m *memTable) apply(epoch Epoch, b *Batch) error {
	r := b.Reader()
	for {
		kind, ukey, value, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var v []byte
		if kind != base.InternalKeyKindDelete {
			v = append(make([]byte, 0, len(value)), value...)
		}
		m.set(append([]byte(nil), ukey...), memTableVersion{epoch: epoch, kind: kind, value: v})
	}
}

func (m *memTable) set(ukey []byte, v memTableVersion) {
	for {
		e, ok := m.skl.Load(ukey)
		if !ok {
			e, _ = m.skl.LoadOrStore(ukey, &memTableEntry{})
		}
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		i := sort.Search(len(e.versions), func(i int) bool {
			return e.versions[i].epoch <= v.epoch
		})
		if i < len(e.versions) && e.versions[i].epoch == v.epoch {
			m.size.Add(uint64(len(v.value)) - uint64(len(e.versions[i].value)))
			e.versions[i] = v
		} else {
			e.versions = append(e.versions, memTableVersion{})
			copy(e.versions[i+1:], e.versions[i:])
			e.versions[i] = v
			m.size.Add(memTableEntrySize(len(ukey), len(v.value)))
			m.count.Add(1)
		}
		e.mu.Unlock()
		return
	}
}

// get returns the newest buffered version of ukey with an epoch <= epoch.
func (m *memTable) get(ukey []byte, epoch Epoch) (base.InternalKV, bool) {
	e, ok := m.skl.Load(ukey)
	if !ok {
		return base.InternalKV{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, v := range e.versions {
		if v.epoch <= epoch {
			return base.MakeInternalKV(base.MakeInternalKey(ukey, v.epoch), v.kind, v.value), true
		}
	}
	return base.InternalKV{}, false
}

// snapshot returns the buffered versions within the key range with an epoch
// <= maxEpoch, in InternalCompare order. Keys and values are shared with the
// memTable and must not be modified.
func (m *memTable) snapshot(r KeyRange, maxEpoch Epoch) []base.InternalKV {
	var kvs []base.InternalKV
	m.skl.Range(func(ukey []byte, e *memTableEntry) bool {
		if !r.AfterStart(m.cmp.Compare, ukey) {
			return true
		}
		if !r.BeforeEnd(m.cmp.Compare, ukey) {
			return false
		}
		e.mu.RLock()
		for _, v := range e.versions {
			if v.epoch <= maxEpoch {
				kvs = append(kvs, base.MakeInternalKV(base.MakeInternalKey(ukey, v.epoch), v.kind, v.value))
			}
		}
		e.mu.RUnlock()
		return true
	})
	return kvs
}

// collect returns every buffered version with an epoch <= epoch, in
// InternalCompare order.
func (m *memTable) collect(epoch Epoch) []base.InternalKV {
	return m.snapshot(base.FullKeyRange(), epoch)
}

// removeThrough removes every buffered version with an epoch <= epoch. It
// is called once those versions have been committed to a version.
func (m *memTable) removeThrough(epoch Epoch) {
	m.skl.Range(func(ukey []byte, e *memTableEntry) bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		i := sort.Search(len(e.versions), func(i int) bool {
			return e.versions[i].epoch <= epoch
		})
		for _, v := range e.versions[i:] {
			m.size.Add(-memTableEntrySize(len(ukey), len(v.value)))
			m.count.Add(-1)
		}
		clear(e.versions[i:])
		e.versions = e.versions[:i]
		if len(e.versions) == 0 {
			e.dead = true
			m.skl.Delete(ukey)
		}
		return true
	})
}

// inuseBytes returns the accounted size of the buffered versions.
func (m *memTable) inuseBytes() uint64 {
	return m.size.Load()
}

// empty returns true if the memTable holds no versions.
func (m *memTable) empty() bool {
	return m.count.Load() == 0
}

// memTableIter iterates over a snapshot of memTable versions.
type memTableIter struct {
	cmp base.Compare
	kvs []base.InternalKV
	pos int
}

var _ base.InternalIterator = (*memTableIter)(nil)

func newMemTableIter(cmp base.Compare, kvs []base.InternalKV) *memTableIter {
	return &memTableIter{cmp: cmp, kvs: kvs, pos: -1}
}

func (i *memTableIter) kv() *base.InternalKV {
	if i.pos < 0 || i.pos >= len(i.kvs) {
		return nil
	}
	return &i.kvs[i.pos]
}

func (i *memTableIter) search(key base.InternalKey) int {
	return sort.Search(len(i.kvs), func(j int) bool {
		return base.InternalCompare(i.cmp, i.kvs[j].K, key) >= 0
	})
}

// SeekGE implements base.InternalIterator.
func (i *memTableIter) SeekGE(key base.InternalKey) *base.InternalKV {
	i.pos = i.search(key)
	return i.kv()
}

// SeekLT implements base.InternalIterator.
func (i *memTableIter) SeekLT(key base.InternalKey) *base.InternalKV {
	i.pos = i.search(key) - 1
	return i.kv()
}

// First implements base.InternalIterator.
func (i *memTableIter) First() *base.InternalKV {
	i.pos = 0
	return i.kv()
}

// Last implements base.InternalIterator.
func (i *memTableIter) Last() *base.InternalKV {
	i.pos = len(i.kvs) - 1
	return i.kv()
}

// Next implements base.InternalIterator.
func (i *memTableIter) Next() *base.InternalKV {
	if i.pos < 0 || i.pos >= len(i.kvs) {
		return nil
	}
	i.pos++
	return i.kv()
}

// Prev implements base.InternalIterator.
func (i *memTableIter) Prev() *base.InternalKV {
	if i.pos < 0 || i.pos >= len(i.kvs) {
		return nil
	}
	i.pos--
	return i.kv()
}

// Error implements base.InternalIterator.
func (i *memTableIter) Error() error {
	return nil
}

// Close implements base.InternalIterator.
func (i *memTableIter) Close() error {
	i.kvs = nil
	return nil
}
