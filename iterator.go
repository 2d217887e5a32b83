// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
)

// IterOptions hold the optional per-query parameters for NewIter.
type IterOptions struct {
	// KeyRange bounds the user keys the iterator returns. The zero value is
	// unbounded on both sides.
	KeyRange KeyRange
	// Reverse makes the iterator return keys in descending order.
	Reverse bool
	// Pinned, if set, makes the iterator read the tables of a pinned version
	// instead of the current version. Buffered writes are not observed. The
	// iterator holds its own reference on the version, so the caller may
	// release its pin before closing the iterator.
	Pinned *PinnedVersion
}

// Iterator iterates over the user keys of a store as of a read epoch. Each
// user key is returned once, with its newest version whose epoch is <= the
// read epoch. Keys whose newest visible version is a tombstone are hidden.
//
// An Iterator pins the version it was created on until it is closed; it
// observes neither later commits nor later compactions. It also observes the
// buffered writes that were ingested before it was created.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion. An iterator is not goroutine-safe.
type Iterator struct {
	store  *Store
	cmp    base.Compare
	opts   IterOptions
	epoch  Epoch
	pinned *PinnedVersion
	iter   base.InternalIterator
	iterKV *base.InternalKV

	keyBuf   []byte
	valueBuf []byte
	key      []byte
	value    []byte
	kvEpoch  Epoch
	kvKind   base.InternalKeyKind
	valid    bool
	err      error
	closed   bool

	stats StoreLocalMetrics
}

// NewIter returns an iterator over the store as of epoch. The read fails
// with ErrExpiredEpoch if epoch is below the safe epoch of the version it
// reads: the current version, or opts.Pinned if set.
func (s *Store) NewIter(ctx context.Context, epoch Epoch, opts *IterOptions) (*Iterator, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := crtime.NowMono()
	var o IterOptions
	if opts != nil {
		o = *opts
	}
	var it *Iterator
	var err error
	for attempt := 0; ; attempt++ {
		it, err = s.newIter(ctx, epoch, o)
		if err == nil || attempt > 0 || o.Pinned != nil || !base.IsRetriableReadError(err) {
			break
		}
		s.opts.Logger.Infof("hummock: retrying iterator construction: %v", err)
	}
	if err != nil {
		return nil, err
	}
	s.metrics.iterDuration.Observe(start.Elapsed().Seconds())
	return it, nil
}

func (s *Store) newIter(ctx context.Context, epoch Epoch, o IterOptions) (*Iterator, error) {
	cmp := s.cmp.Compare
	// The buffered writes are captured before the version is pinned, so that a
	// concurrent sync cannot move them out of the memtable into a version the
	// iterator does not see.
	var buffered []base.InternalKV
	if o.Pinned == nil {
		buffered = s.mem.snapshot(o.KeyRange, epoch)
	}
	p, err := s.pinForRead(o.Pinned)
	if err != nil {
		return nil, err
	}
	if err := base.ValidateEpoch(p.SafeEpoch(), epoch); err != nil {
		p.Release()
		return nil, err
	}
	it := &Iterator{
		store:  s,
		cmp:    cmp,
		opts:   o,
		epoch:  epoch,
		pinned: p,
	}
	v := p.Version()

	iters := []base.InternalIterator{newMemTableIter(cmp, buffered)}
	var l0 []*manifest.TableMetadata
	for _, t := range v.Overlaps(0, o.KeyRange) {
		if t.MinEpoch <= epoch {
			l0 = append(l0, t)
		}
	}
	if len(l0) > 0 {
		tables, err := s.tables.loadTables(ctx, l0, &it.stats)
		if err != nil {
			p.Release()
			return nil, err
		}
		for _, t := range tables {
			iters = append(iters, sstable.NewIter(ctx, cmp, t, s.tables.reader(&it.stats)))
		}
	}
	for level := 1; level < manifest.NumLevels; level++ {
		if tables := v.Overlaps(level, o.KeyRange); len(tables) > 0 {
			iters = append(iters, newLevelIter(ctx, s.tables, level, tables, &it.stats))
		}
	}
	it.iter = newMergingIter(cmp, iters...)
	return it, nil
}

// findNextEntry moves forward to the first visible, live user key at or
// after the current position.
func (i *Iterator) findNextEntry() bool {
	i.valid = false
	for i.iterKV != nil {
		kv := i.iterKV
		i.stats.ProcessedKeyCount++
		if !i.opts.KeyRange.BeforeEnd(i.cmp, kv.K.UserKey) {
			break
		}
		if !kv.K.Visible(i.epoch) || !i.opts.KeyRange.AfterStart(i.cmp, kv.K.UserKey) {
			i.iterKV = i.iter.Next()
			continue
		}
		if kv.IsTombstone() {
			i.nextUserKey()
			continue
		}
		i.keyBuf = append(i.keyBuf[:0], kv.K.UserKey...)
		i.key = i.keyBuf
		i.value = kv.V
		i.kvEpoch = kv.K.Epoch
		i.kvKind = kv.Kind
		i.valid = true
		i.stats.ScanKeyCount++
		return true
	}
	return i.checkErr()
}

// nextUserKey skips the remaining versions of the current user key.
func (i *Iterator) nextUserKey() {
	i.keyBuf = append(i.keyBuf[:0], i.iterKV.K.UserKey...)
	for {
		i.iterKV = i.iter.Next()
		if i.iterKV == nil || i.cmp(i.iterKV.K.UserKey, i.keyBuf) != 0 {
			return
		}
		i.stats.ProcessedKeyCount++
	}
}

// findPrevEntry moves backward to the last visible, live user key at or
// before the current position. The versions of a user key are visited oldest
// first, so every version of the key is examined before the newest visible
// one is known.
func (i *Iterator) findPrevEntry() bool {
	i.valid = false
	for i.iterKV != nil {
		kv := i.iterKV
		if !i.opts.KeyRange.AfterStart(i.cmp, kv.K.UserKey) {
			i.stats.ProcessedKeyCount++
			break
		}
		if !i.opts.KeyRange.BeforeEnd(i.cmp, kv.K.UserKey) {
			i.stats.ProcessedKeyCount++
			i.iterKV = i.iter.Prev()
			continue
		}
		i.keyBuf = append(i.keyBuf[:0], kv.K.UserKey...)
		found := false
		for i.iterKV != nil && i.cmp(i.iterKV.K.UserKey, i.keyBuf) == 0 {
			kv := i.iterKV
			i.stats.ProcessedKeyCount++
			if kv.K.Visible(i.epoch) && (!found || kv.K.Epoch > i.kvEpoch) {
				found = true
				i.kvEpoch = kv.K.Epoch
				i.kvKind = kv.Kind
				i.valueBuf = append(i.valueBuf[:0], kv.V...)
			}
			i.iterKV = i.iter.Prev()
		}
		if !found || i.kvKind == base.InternalKeyKindDelete {
			continue
		}
		i.key = i.keyBuf
		i.value = i.valueBuf
		i.valid = true
		i.stats.ScanKeyCount++
		return true
	}
	return i.checkErr()
}

func (i *Iterator) checkErr() bool {
	if i.err == nil {
		i.err = i.iter.Error()
	}
	return false
}

func (i *Iterator) find() bool {
	if i.opts.Reverse {
		return i.findPrevEntry()
	}
	return i.findNextEntry()
}

// First moves the iterator to the first key of the iteration order: the
// smallest key in the range for a forward iterator, the largest one for a
// reverse iterator. Returns true if the iterator is pointing at a valid
// entry and false otherwise.
func (i *Iterator) First() bool {
	if i.closed {
		return false
	}
	i.err = nil
	r := i.opts.KeyRange
	if i.opts.Reverse {
		switch r.End.Kind {
		case base.Included:
			// Epoch zero never holds data, so this lands on the oldest version
			// of the end key.
			i.iterKV = i.iter.SeekLT(base.MakeSearchKey(r.End.Key, base.EpochZero))
		case base.Excluded:
			i.iterKV = i.iter.SeekLT(base.MakeSearchKey(r.End.Key, base.EpochMax))
		default:
			i.iterKV = i.iter.Last()
		}
		return i.findPrevEntry()
	}
	switch r.Start.Kind {
	case base.Included:
		i.iterKV = i.iter.SeekGE(base.MakeSearchKey(r.Start.Key, base.EpochMax))
	case base.Excluded:
		i.iterKV = i.iter.SeekGE(base.MakeSearchKey(r.Start.Key, base.EpochZero))
	default:
		i.iterKV = i.iter.First()
	}
	return i.findNextEntry()
}

// Seek moves the iterator to the first key at or after key in the iteration
// order: the smallest key >= key for a forward iterator, the largest key <=
// key for a reverse iterator. The iterator never leaves its key range.
func (i *Iterator) Seek(key []byte) bool {
	if i.closed {
		return false
	}
	i.err = nil
	if i.opts.Reverse {
		if !i.opts.KeyRange.BeforeEnd(i.cmp, key) {
			return i.First()
		}
		i.iterKV = i.iter.SeekLT(base.MakeSearchKey(key, base.EpochZero))
		return i.findPrevEntry()
	}
	if !i.opts.KeyRange.AfterStart(i.cmp, key) {
		return i.First()
	}
	i.iterKV = i.iter.SeekGE(base.MakeSearchKey(key, base.EpochMax))
	return i.findNextEntry()
}

// Next moves the iterator to the next key in the iteration order. Returns
// true if the iterator is pointing at a valid entry and false otherwise.
func (i *Iterator) Next() bool {
	if !i.valid {
		return false
	}
	if i.opts.Reverse {
		// The versions of the current key have already been consumed.
		return i.findPrevEntry()
	}
	i.nextUserKey()
	return i.findNextEntry()
}

// Key returns the user key of the current entry. The caller should not
// modify the contents of the returned slice, and its contents may change on
// the next call to Next.
func (i *Iterator) Key() []byte {
	return i.key
}

// Value returns the value of the current entry. The caller should not modify
// the contents of the returned slice, and its contents may change on the next
// call to Next.
func (i *Iterator) Value() []byte {
	return i.value
}

// Epoch returns the epoch at which the current entry was written.
func (i *Iterator) Epoch() Epoch {
	return i.kvEpoch
}

// Valid returns true if the iterator is positioned at a valid key/value pair
// and false otherwise.
func (i *Iterator) Valid() bool {
	return i.valid
}

// Error returns any accumulated error.
func (i *Iterator) Error() error {
	return i.err
}

// Stats returns the counters accumulated by the iterator so far.
func (i *Iterator) Stats() StoreLocalMetrics {
	return i.stats
}

// Close closes the iterator, releases its pinned version and reports its
// counters to the store's metrics. It returns any accumulated error. It is
// valid to call Close more than once.
func (i *Iterator) Close() error {
	if i.closed {
		return i.err
	}
	i.closed = true
	i.valid = false
	if err := i.iter.Close(); err != nil && i.err == nil {
		i.err = err
	}
	i.pinned.Release()
	i.store.reportLocal(&i.stats)
	if i.err != nil && !errors.Is(i.err, context.Canceled) {
		i.store.opts.Logger.Errorf("hummock: iterator failed: %v", i.err)
	}
	return i.err
}

// KV is a user key and its visible value, as returned by Scan.
type KV struct {
	Key   []byte
	Value []byte
	Epoch Epoch
}

// Scan returns up to limit visible key/value pairs of the range as of epoch,
// in the order given by opts. A limit <= 0 returns every pair. The returned
// slices are owned by the caller.
func (s *Store) Scan(ctx context.Context, epoch Epoch, opts *IterOptions, limit int) ([]KV, error) {
	it, err := s.NewIter(ctx, epoch, opts)
	if err != nil {
		return nil, err
	}
	var res []KV
	for valid := it.First(); valid && (limit <= 0 || len(res) < limit); valid = it.Next() {
		res = append(res, KV{
			Key:   append([]byte(nil), it.Key()...),
			Value: append([]byte(nil), it.Value()...),
			Epoch: it.Epoch(),
		})
	}
	if err := it.Close(); err != nil {
		return nil, err
	}
	return res, nil
}
