// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/cockroachdb/tokenbucket"
)

// CompactionLevel is the set of input tables of a compaction at one level.
type CompactionLevel struct {
	Level  int
	Tables []*manifest.TableMetadata
}

// CompactionTask describes a compaction: the input tables at one or more
// levels, merged into new non-overlapping tables at the target level.
type CompactionTask struct {
	// ID identifies the compaction in logs. Store.Compact assigns one if it is
	// zero.
	ID uint64
	// Inputs holds the input tables, ordered by increasing level. Tables at
	// L0 are ordered newest first.
	Inputs []CompactionLevel
	// TargetLevel is the level the outputs are written to. It must be
	// greater than zero and no smaller than any input level.
	TargetLevel int
	// KeyRange covers the user keys of the inputs. Store.Compact computes it
	// from the inputs if it is unbounded.
	KeyRange KeyRange
	// SafeEpoch is the safe epoch of the version the task was planned
	// against. Store.Compact sets it.
	SafeEpoch Epoch
	// Bottommost is true if no table outside the compaction may hold an older
	// version of a key in KeyRange. Store.Compact sets it.
	Bottommost bool
}

// NumTables returns the number of input tables.
func (t *CompactionTask) NumTables() int {
	var n int
	for _, in := range t.Inputs {
		n += len(in.Tables)
	}
	return n
}

// inputRange returns the inclusive range covering every input table.
func (t *CompactionTask) inputRange(cmp base.Compare) KeyRange {
	var smallest, largest []byte
	for _, in := range t.Inputs {
		for _, m := range in.Tables {
			if smallest == nil || cmp(m.Smallest, smallest) < 0 {
				smallest = m.Smallest
			}
			if largest == nil || cmp(m.Largest, largest) > 0 {
				largest = m.Largest
			}
		}
	}
	return base.KeyRangeInclusive(smallest, largest)
}

func (t *CompactionTask) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "compaction %d to L%d safe=%s bottommost=%t:", t.ID, t.TargetLevel, t.SafeEpoch, t.Bottommost)
	for _, in := range t.Inputs {
		fmt.Fprintf(&buf, " L%d[", in.Level)
		for i, m := range in.Tables {
			if i > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "%06d", m.TableNum)
		}
		buf.WriteByte(']')
	}
	return buf.String()
}

// CompactionStats holds the counters of a finished compaction.
type CompactionStats struct {
	BytesRead         uint64
	BytesWritten      uint64
	EntriesIn         uint64
	EntriesOut        uint64
	DroppedDuplicates uint64
	DroppedShadowed   uint64
	DroppedTombstones uint64
	Duration          time.Duration
	// Local holds the cache counters of the compaction's reads.
	Local StoreLocalMetrics
}

// CompactionResult is the outcome of a compaction whose outputs are durable
// but not yet part of a version.
type CompactionResult struct {
	Task    *CompactionTask
	Outputs []*manifest.TableMetadata
	Stats   CompactionStats
}

// writePacer limits the rate at which compaction outputs are written.
type writePacer struct {
	mu    sync.Mutex
	tb    tokenbucket.TokenBucket
	burst tokenbucket.Tokens
}

// newWritePacer returns a pacer admitting rate bytes per second, or nil if
// rate is not positive. A nil pacer never waits.
func newWritePacer(rate int64) *writePacer {
	if rate <= 0 {
		return nil
	}
	p := &writePacer{burst: tokenbucket.Tokens(rate)}
	p.tb.Init(tokenbucket.TokensPerSecond(rate), tokenbucket.Tokens(rate))
	return p
}

// wait blocks until n bytes may be written. Requests larger than the burst
// are admitted in burst-sized chunks.
func (p *writePacer) wait(ctx context.Context, n int) error {
	if p == nil {
		return nil
	}
	for remaining := tokenbucket.Tokens(n); remaining > 0; {
		chunk := min(remaining, p.burst)
		p.mu.Lock()
		ok, d := p.tb.TryToFulfill(chunk)
		p.mu.Unlock()
		if ok {
			remaining -= chunk
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return nil
}

// Compactor merges the input tables of compaction tasks into new tables. It
// writes the outputs to the object store but does not install them in a
// version; see Store.Compact.
type Compactor struct {
	s     *Store
	pacer *writePacer
}

func newCompactor(s *Store) *Compactor {
	return &Compactor{s: s, pacer: newWritePacer(s.opts.CompactionWriteRate)}
}

// Compact runs a compaction task. The task's SafeEpoch and Bottommost fields
// must be set. On error, including cancellation of ctx, every output already
// written is deleted and no result is returned.
func (c *Compactor) Compact(ctx context.Context, task *CompactionTask) (_ *CompactionResult, err error) {
	start := crtime.NowMono()
	s := c.s
	cmp := s.cmp.Compare
	res := &CompactionResult{Task: task}
	jobID := fmt.Sprintf("%d", task.ID)

	var iters []base.InternalIterator
	defer func() {
		for _, it := range iters {
			if cerr := it.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()
	for _, in := range task.Inputs {
		for _, m := range in.Tables {
			res.Stats.BytesRead += m.Size
		}
		if in.Level > 0 {
			iters = append(iters, newLevelIter(ctx, s.tables, in.Level, in.Tables, &res.Stats.Local))
			continue
		}
		tables, err := s.tables.loadTables(ctx, in.Tables, &res.Stats.Local)
		if err != nil {
			return nil, err
		}
		for _, t := range tables {
			iters = append(iters, sstable.NewIter(ctx, cmp, t, s.tables.reader(&res.Stats.Local)))
		}
	}
	s.opts.Logger.Infof("[JOB %s] compacting %s", jobID, task)

	merged := newMergingIter(cmp, iters...)
	iters = []base.InternalIterator{merged}
	ci := newCompactionIter(cmp, merged, task.SafeEpoch, task.Bottommost)
	o := newOutputWriter(ctx, s, jobID, c.pacer)
	defer func() {
		if err != nil {
			o.abandon()
		}
	}()
	for kv := ci.First(); kv != nil; kv = ci.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.add(kv); err != nil {
			return nil, err
		}
	}
	if err := ci.Error(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.Outputs, err = o.finish(); err != nil {
		return nil, err
	}
	res.Stats.BytesWritten = o.bytesWritten
	res.Stats.EntriesIn = ci.stats.EntriesIn
	res.Stats.EntriesOut = ci.stats.EntriesOut
	res.Stats.DroppedDuplicates = ci.stats.DroppedDuplicates
	res.Stats.DroppedShadowed = ci.stats.DroppedShadowed
	res.Stats.DroppedTombstones = ci.stats.DroppedTombstones
	res.Stats.Duration = start.Elapsed()
	return res, nil
}

// validateTask checks a task against the version it is planned on. The
// inputs must be in the version at their stated levels, and every table at
// the target level that overlaps the inputs must itself be an input.
func validateTask(v *manifest.Version, task *CompactionTask) error {
	if task.TargetLevel <= 0 || task.TargetLevel >= manifest.NumLevels {
		return errors.Newf("hummock: invalid compaction target level %d", task.TargetLevel)
	}
	if task.NumTables() == 0 {
		return errors.New("hummock: compaction has no inputs")
	}
	inputs := make(map[uint64]struct{})
	prevLevel := -1
	for _, in := range task.Inputs {
		if in.Level <= prevLevel || in.Level > task.TargetLevel {
			return errors.Newf("hummock: invalid compaction input level %d", in.Level)
		}
		prevLevel = in.Level
		for _, t := range in.Tables {
			if !v.Contains(in.Level, t) {
				return errors.Mark(
					errors.Newf("hummock: table %s is not in L%d of version %d", t, in.Level, v.ID),
					base.ErrVersionStale)
			}
			inputs[t.TableNum] = struct{}{}
		}
	}
	for _, t := range v.Overlaps(task.TargetLevel, task.KeyRange) {
		if _, ok := inputs[t.TableNum]; !ok {
			return errors.Mark(
				errors.Newf("hummock: table %s in L%d overlaps the compaction but is not an input",
					t, task.TargetLevel),
				base.ErrVersionStale)
		}
	}
	return nil
}

// isBottommost returns true if no table outside the task may hold a version
// of a key in the task's range older than the versions in the inputs. Every
// level is checked, including the levels above the inputs: a compaction may
// move a newer table below an older one. A table outside the task is
// ignored only if all of its entries are newer than every input entry.
func isBottommost(v *manifest.Version, task *CompactionTask) bool {
	inputs := make(map[uint64]struct{})
	var maxEpoch Epoch
	for _, in := range task.Inputs {
		for _, t := range in.Tables {
			inputs[t.TableNum] = struct{}{}
			maxEpoch = max(maxEpoch, t.MaxEpoch)
		}
	}
	for level := 0; level < manifest.NumLevels; level++ {
		for _, t := range v.Overlaps(level, task.KeyRange) {
			if _, ok := inputs[t.TableNum]; ok {
				continue
			}
			if t.MinEpoch > maxEpoch {
				continue
			}
			return false
		}
	}
	return true
}

// Compact runs a compaction task and installs its outputs in a new version.
// The input tables are marked as compacting for the duration of the call,
// and a task sharing an input with a running compaction is rejected. The
// task's SafeEpoch and Bottommost fields are computed from the current
// version.
//
// The outputs are installed only once all of them are durable. If the
// version changed in a way that conflicts with the task, the outputs are
// deleted and an error marked ErrVersionStale is returned. Either way, a
// failed compaction leaves the current version untouched.
func (s *Store) Compact(ctx context.Context, task *CompactionTask) (*CompactionResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var marked []*manifest.TableMetadata
	defer func() {
		for _, t := range marked {
			t.SetCompacting(false)
		}
	}()
	for _, in := range task.Inputs {
		for _, t := range in.Tables {
			if !t.SetCompacting(true) {
				return nil, errors.Newf("hummock: table %s is already being compacted", t)
			}
			marked = append(marked, t)
		}
	}

	p := s.versions.Pin()
	defer p.Release()
	v := p.Version()
	if task.ID == 0 {
		task.ID = s.nextJobID.Add(1)
	}
	if task.KeyRange.IsFull() {
		task.KeyRange = task.inputRange(s.cmp.Compare)
	}
	if err := validateTask(v, task); err != nil {
		s.recordCompaction(nil, err)
		return nil, err
	}
	task.SafeEpoch = v.SafeEpoch
	task.Bottommost = isBottommost(v, task)

	res, err := s.compactor.Compact(ctx, task)
	if err != nil {
		s.recordCompaction(nil, err)
		s.opts.Logger.Errorf("[JOB %d] compaction failed: %v", task.ID, err)
		return nil, err
	}
	if _, err := s.versions.ApplyCompaction(res); err != nil {
		dctx := context.WithoutCancel(ctx)
		for _, t := range res.Outputs {
			if err := s.tables.remove(dctx, t.TableNum); err != nil {
				s.opts.Logger.Errorf("[JOB %d] deleting stale output %s: %v", task.ID, t, err)
			}
		}
		s.recordCompaction(nil, err)
		s.opts.Logger.Errorf("[JOB %d] installing compaction failed: %v", task.ID, err)
		return nil, err
	}
	s.recordCompaction(res, nil)
	s.opts.Logger.Infof("[JOB %d] compacted %d tables (%d bytes) to %d tables (%d bytes) in L%d in %s: %s",
		task.ID, task.NumTables(), res.Stats.BytesRead, len(res.Outputs), res.Stats.BytesWritten,
		task.TargetLevel, res.Stats.Duration, compactionIterStats{
			EntriesIn:         res.Stats.EntriesIn,
			EntriesOut:        res.Stats.EntriesOut,
			DroppedDuplicates: res.Stats.DroppedDuplicates,
			DroppedShadowed:   res.Stats.DroppedShadowed,
			DroppedTombstones: res.Stats.DroppedTombstones,
		})

	// The inputs stay referenced by v until the pin is released.
	p.Release()
	s.checkpointAndCollect(ctx)
	return res, nil
}

// CompactOnce picks the compaction with the highest score, if any level is
// over its threshold, and runs it. It returns a nil result if there is
// nothing to compact.
func (s *Store) CompactOnce(ctx context.Context) (*CompactionResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	task := PickCompaction(s.versions.Current(), s.opts)
	if task == nil {
		return nil, nil
	}
	return s.Compact(ctx, task)
}

// maybeScheduleCompaction wakes the background compaction loop.
func (s *Store) maybeScheduleCompaction() {
	if s.opts.DisableAutomaticCompactions {
		return
	}
	select {
	case s.compactKick <- struct{}{}:
	default:
	}
}

// compactionLoop runs compactions in the background until the store is
// closed. After each wakeup it compacts until no level is over its
// threshold.
func (s *Store) compactionLoop() {
	defer s.bgWG.Done()
	for {
		select {
		case <-s.bgCtx.Done():
			return
		case <-s.compactKick:
		}
		for s.bgCtx.Err() == nil {
			res, err := s.CompactOnce(s.bgCtx)
			if err != nil || res == nil {
				break
			}
		}
	}
}
