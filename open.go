// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/cockroachdb/hummock/sstable"
)

// Open opens a store whose objects live in objs. If objs holds a checkpoint,
// the store recovers the newest one: its version becomes the current
// version, and table objects it does not reference are deleted. Otherwise
// the store starts empty.
//
// Writes that were ingested but not synced before the store was last closed
// are not recovered. The returned store does not take ownership of objs.
func Open(ctx context.Context, objs remote.Storage, opts *Options) (*Store, error) {
	opts = opts.Clone().EnsureDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	objs = remote.WithRetry(objs, opts.Retry, opts.Logger)

	v, nextTableNum, err := ReadCheckpoint(ctx, objs, opts.Comparer)
	if err != nil {
		return nil, err
	}
	if v != nil {
		if err := v.CheckOrdering(); err != nil {
			return nil, errors.Wrap(err, "hummock: recovered version")
		}
	}
	orphans, maxTableNum, err := scanTables(ctx, objs, v)
	if err != nil {
		return nil, err
	}
	nextTableNum = max(nextTableNum, maxTableNum+1, 1)

	s := &Store{
		opts:        opts,
		cmp:         opts.Comparer,
		objs:        objs,
		tables:      newTableStore(opts.Comparer, objs, opts.BlockCacheSize, opts.MetaCacheSize),
		mem:         newMemTable(opts.Comparer),
		metrics:     NewMetrics(opts.MetricsRegisterer),
		compactKick: make(chan struct{}, 1),
	}
	s.versions = newVersionSet(opts.Comparer, opts.Logger, s.tables, v, nextTableNum)
	if v != nil {
		s.versions.mu.Lock()
		s.versions.mu.durableID = v.ID
		s.versions.mu.Unlock()
		s.writeMu.sealedEpoch = v.MaxCommittedEpoch
		opts.Logger.Infof("hummock: recovered version %d (committed=%s safe=%s, %d tables)",
			v.ID, v.MaxCommittedEpoch, v.SafeEpoch, v.NumTables())
	}
	for _, num := range orphans {
		if err := s.tables.remove(ctx, num); err != nil {
			s.opts.Logger.Errorf("hummock: deleting orphaned table %06d: %v", num, err)
			continue
		}
		s.opts.Logger.Infof("hummock: deleted orphaned table %06d", num)
	}
	s.compactor = newCompactor(s)

	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())
	if !opts.DisableAutomaticCompactions {
		s.bgWG.Add(1)
		go s.compactionLoop()
		s.maybeScheduleCompaction()
	}
	return s, nil
}

// scanTables lists the table objects in objs. It returns the tables not
// referenced by v, in increasing order, and the largest table number seen.
// Every table referenced by v must have a meta object.
func scanTables(
	ctx context.Context, objs remote.Storage, v *manifest.Version,
) (orphans []uint64, maxTableNum uint64, err error) {
	names, err := objs.List(ctx, "")
	if err != nil {
		return nil, 0, errors.Wrap(err, "hummock: listing objects")
	}
	present := make(map[uint64]bool)
	for _, name := range names {
		num, isMeta, ok := sstable.ParseObjectName(name)
		if !ok {
			continue
		}
		present[num] = present[num] || isMeta
		maxTableNum = max(maxTableNum, num)
	}
	live := make(map[uint64]struct{})
	if v != nil {
		var missing error
		v.Tables(func(level int, t *manifest.TableMetadata) bool {
			live[t.TableNum] = struct{}{}
			maxTableNum = max(maxTableNum, t.TableNum)
			if !present[t.TableNum] {
				missing = base.CorruptionErrorf("hummock: L%d table %06d of version %d is missing",
					errors.Safe(level), errors.Safe(t.TableNum), errors.Safe(v.ID))
				return false
			}
			return true
		})
		if missing != nil {
			return nil, 0, missing
		}
	}
	for num := range present {
		if _, ok := live[num]; !ok {
			orphans = append(orphans, num)
		}
	}
	slices.Sort(orphans)
	return orphans, maxTableNum, nil
}
