// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
)

// Get returns the value of the newest version of key whose epoch is <=
// epoch. It returns ErrNotFound if there is no such version or if it is a
// tombstone, and ErrExpiredEpoch if epoch is below the safe epoch of the
// current version. The returned slice is owned by the caller.
func (s *Store) Get(ctx context.Context, key []byte, epoch Epoch) ([]byte, error) {
	return s.getInternal(ctx, key, epoch, nil)
}

// GetPinned is like Get, but reads the tables of a pinned version instead of
// the current version. Buffered writes and versions published after p are
// not observed, and the read fails with ErrExpiredEpoch if epoch is below
// the safe epoch of p. The read fails with an error marked ErrVersionStale
// if p was released.
func (s *Store) GetPinned(
	ctx context.Context, p *PinnedVersion, key []byte, epoch Epoch,
) ([]byte, error) {
	if p == nil {
		return nil, errors.AssertionFailedf("hummock: GetPinned called without a pinned version")
	}
	return s.getInternal(ctx, key, epoch, p)
}

func (s *Store) getInternal(
	ctx context.Context, key []byte, epoch Epoch, pinned *PinnedVersion,
) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := crtime.NowMono()
	var stats StoreLocalMetrics
	defer s.reportLocal(&stats)

	var kv base.InternalKV
	var found bool
	var err error
	for attempt := 0; ; attempt++ {
		kv, found, err = s.get(ctx, key, epoch, pinned, &stats)
		// A read through the caller's pin cannot observe a different version.
		if err == nil || attempt > 0 || pinned != nil || !base.IsRetriableReadError(err) {
			break
		}
		// The pinned version raced with a compaction and garbage collection.
		// A newly pinned version references the compaction's outputs.
		s.opts.Logger.Infof("hummock: retrying get: %v", err)
	}
	s.metrics.getDuration.Observe(start.Elapsed().Seconds())
	if err != nil {
		return nil, err
	}
	if !found || kv.IsTombstone() {
		return nil, ErrNotFound
	}
	return bytes.Clone(kv.V), nil
}

// get searches the memtable, then L0 newest first, then a single table in
// each lower level. A read through a caller's pin skips the memtable. Every source may hold a version of the key, so the
// newest visible version across all of them wins. A table whose epochs are
// all <= the best version found so far cannot improve on it and is skipped
// without being read.
func (s *Store) get(
	ctx context.Context, key []byte, epoch Epoch, pinned *PinnedVersion, stats *StoreLocalMetrics,
) (best base.InternalKV, found bool, _ error) {
	cmp := s.cmp.Compare
	// Read the buffered writes before pinning; see newIter.
	if pinned == nil {
		if kv, ok := s.mem.get(key, epoch); ok {
			best, found = base.InternalKV{K: kv.K.Clone(), Kind: kv.Kind, V: kv.V}, true
		}
	}
	p, err := s.pinForRead(pinned)
	if err != nil {
		return best, false, err
	}
	defer p.Release()
	if err := base.ValidateEpoch(p.SafeEpoch(), epoch); err != nil {
		return best, false, err
	}
	v := p.Version()

	useful := func(t *manifest.TableMetadata) bool {
		return t.MinEpoch <= epoch && (!found || t.MaxEpoch > best.K.Epoch)
	}
	consider := func(t *sstable.Table) error {
		if found && t.Meta.MaxEpoch <= best.K.Epoch {
			return nil
		}
		kv, ok, err := sstable.Get(ctx, cmp, t, s.tables.reader(stats), key, epoch)
		if err != nil {
			return err
		}
		if ok && (!found || kv.K.Epoch > best.K.Epoch) {
			best, found = kv, true
		}
		return nil
	}

	var l0 []*manifest.TableMetadata
	for _, t := range v.Levels[0] {
		if t.ContainsKey(cmp, key) && useful(t) {
			l0 = append(l0, t)
		}
	}
	if len(l0) > 0 {
		tables, err := s.tables.loadTables(ctx, l0, stats)
		if err != nil {
			return best, false, err
		}
		for _, t := range sstable.FilterTables(tables, key) {
			if err := consider(t); err != nil {
				return best, false, err
			}
		}
	}

	for level := 1; level < manifest.NumLevels; level++ {
		m := v.FindTable(level, key)
		if m == nil || !useful(m) {
			continue
		}
		t, err := s.tables.loadTable(ctx, m, stats)
		if err != nil {
			return best, false, err
		}
		if err := consider(t); err != nil {
			return best, false, err
		}
	}
	return best, found, nil
}
