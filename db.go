// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package hummock provides an epoch-versioned LSM key/value store whose
// tables live in an object store.
//
// Every write carries an epoch, a logical timestamp. Writes are buffered in
// a memtable until Sync seals an epoch, at which point every buffered write
// at or below it is flushed into L0 tables and committed in a new immutable
// version of the LSM. Reads name the epoch they read at and observe, for
// each key, the newest version at or below it. The safe epoch bounds how far
// back reads may go; compactions discard the history below it that no valid
// read can observe.
package hummock // import "github.com/cockroachdb/hummock"

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/objstorage/remote"
)

type (
	// Comparer defines a total ordering over the space of user keys.
	Comparer = base.Comparer
	// Compare returns -1, 0, or +1 depending on whether a is 'less than',
	// 'equal to' or 'greater than' b.
	Compare = base.Compare
	// Logger defines an interface for writing log messages.
	Logger = base.Logger
	// Epoch is the logical timestamp of a write.
	Epoch = base.Epoch
	// KeyRange is a user key range with independent start and end bounds.
	KeyRange = base.KeyRange
	// Bound is one end of a KeyRange.
	Bound = base.Bound
)

// DefaultComparer is the default implementation of the Comparer interface.
// It uses the natural ordering, consistent with bytes.Compare.
var DefaultComparer = base.DefaultComparer

// DefaultLogger logs to the Go stdlib logs.
var DefaultLogger = base.DefaultLogger{}

var (
	// ErrNotFound is returned when a get operation does not find a visible
	// version of the requested key.
	ErrNotFound = base.ErrNotFound
	// ErrExpiredEpoch is returned by a read below the safe epoch.
	ErrExpiredEpoch = base.ErrExpiredEpoch
	// ErrCorruption marks errors caused by malformed tables, checkpoints or
	// trace records.
	ErrCorruption = base.ErrCorruption
	// ErrObjectStore marks object store failures that persisted after
	// retries.
	ErrObjectStore = base.ErrObjectStore
	// ErrTableNotFound marks reads of tables that have been deleted.
	ErrTableNotFound = base.ErrTableNotFound
	// ErrVersionStale marks operations planned against a superseded version.
	ErrVersionStale = base.ErrVersionStale
	// ErrClosed is returned when an operation is performed on a closed
	// store.
	ErrClosed = errors.New("hummock: closed")
)

// Store is an epoch-versioned key/value store. It is safe for concurrent
// use by multiple goroutines. Reads never block on writes, flushes or
// compactions: each read pins the current version and works against it.
type Store struct {
	opts      *Options
	cmp       *Comparer
	objs      remote.Storage
	tables    *tableStore
	versions  *VersionSet
	mem       *memTable
	metrics   *Metrics
	compactor *Compactor
	nextJobID atomic.Uint64

	// writeMu orders ingestion against the sealing of epochs by Sync. Ingest
	// holds it for reading; Sync holds it for writing while it raises the
	// sealed epoch, after which no write at or below the sealed epoch can
	// enter the memtable.
	writeMu struct {
		sync.RWMutex
		sealedEpoch Epoch
	}
	// flushMu serializes syncs.
	flushMu sync.Mutex

	compactKick chan struct{}
	bgCtx       context.Context
	bgCancel    context.CancelFunc
	bgWG        sync.WaitGroup

	closed atomic.Bool

	mu struct {
		sync.Mutex
		local  StoreLocalMetrics
		levels [manifest.NumLevels]struct {
			bytesIn   uint64
			bytesRead uint64
		}
		compact struct {
			count  int64
			failed int64
			stale  int64
		}
	}
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Ingest buffers the writes of a batch at the given epoch. The writes are
// visible to reads at or above the epoch as soon as Ingest returns, and
// become durable once the epoch is synced.
//
// Ingesting at an epoch that has already been committed or sealed by Sync
// is an error. Epoch zero and the maximal epoch are reserved.
func (s *Store) Ingest(ctx context.Context, epoch Epoch, b *Batch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if epoch == base.EpochZero || epoch == base.EpochMax {
		return errors.Newf("hummock: invalid epoch %s", epoch)
	}
	if b.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	if epoch <= s.writeMu.sealedEpoch {
		return errors.Newf("hummock: epoch %s is sealed (sealed epoch %s)", epoch, s.writeMu.sealedEpoch)
	}
	if committed := s.versions.Current().MaxCommittedEpoch; epoch <= committed {
		return errors.Newf("hummock: epoch %s is committed (max committed epoch %s)", epoch, committed)
	}
	if err := s.mem.apply(epoch, b); err != nil {
		return err
	}
	s.metrics.ingestBytes.Add(float64(b.Len()))
	return nil
}

// Sync seals epoch and makes every write buffered at or below it durable:
// the writes are flushed into L0 tables, committed in a new version with
// its max committed epoch raised to epoch, and the version is checkpointed.
// Syncing an epoch below the max committed epoch is an error.
//
// If Sync fails the buffered writes are kept, and a later Sync of the same
// or a higher epoch retries them.
func (s *Store) Sync(ctx context.Context, epoch Epoch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	start := crtime.NowMono()
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	committed := s.versions.Current().MaxCommittedEpoch
	if epoch < committed {
		return errors.Newf("hummock: sync of epoch %s below the max committed epoch %s", epoch, committed)
	}
	s.writeMu.Lock()
	s.writeMu.sealedEpoch = max(s.writeMu.sealedEpoch, epoch)
	s.writeMu.Unlock()

	tables, err := s.flush(ctx, epoch)
	if err != nil {
		s.opts.Logger.Errorf("[JOB flush] flush through epoch %s failed: %v", epoch, err)
		return err
	}
	if len(tables) > 0 || epoch > committed {
		if err := s.commitFlush(ctx, epoch, tables); err != nil {
			return err
		}
	} else if s.versions.DurableVersionID() == s.versions.Current().ID {
		return nil
	}
	if err := s.checkpointAndCollect(ctx); err != nil {
		return err
	}
	s.metrics.syncDuration.Observe(start.Elapsed().Seconds())
	s.maybeScheduleCompaction()
	return nil
}

// commitFlush installs the tables flushed through epoch in a new version and
// drops the flushed writes from the memtable. The tables are deleted if the
// version cannot be installed.
func (s *Store) commitFlush(ctx context.Context, epoch Epoch, tables []*manifest.TableMetadata) error {
	if _, err := s.versions.Commit(epoch, tables); err != nil {
		dctx := context.WithoutCancel(ctx)
		for _, t := range tables {
			if err := s.tables.remove(dctx, t.TableNum); err != nil {
				s.opts.Logger.Errorf("[JOB flush] deleting uncommitted table %s: %v", t, err)
			}
		}
		return err
	}
	s.mem.removeThrough(epoch)
	s.mu.Lock()
	s.mu.levels[0].bytesIn += tablesSize(tables)
	s.mu.Unlock()
	return nil
}

// checkpointAndCollect writes a checkpoint of the current version and
// deletes the tables that became obsolete as a result. Only a failure to
// write the checkpoint is returned.
func (s *Store) checkpointAndCollect(ctx context.Context) error {
	if _, err := s.versions.Checkpoint(ctx); err != nil {
		s.opts.Logger.Errorf("hummock: checkpoint failed: %v", err)
		return err
	}
	n, err := s.versions.DeleteObsoleteTables(ctx)
	s.metrics.obsoleteTablesDeleted.Add(float64(n))
	if err != nil {
		s.opts.Logger.Errorf("[JOB gc] deleting obsolete tables: %v", err)
	}
	return nil
}

// AdvanceSafeEpoch raises the safe epoch. Reads below the new safe epoch
// fail with ErrExpiredEpoch, and later compactions may discard the history
// they would have observed. Lowering the safe epoch is a no-op; raising it
// above the max committed epoch is an error.
func (s *Store) AdvanceSafeEpoch(epoch Epoch) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.versions.AdvanceSafeEpoch(epoch)
	return err
}

// Pin pins the current version: its tables are not deleted until the pin is
// released. Reads through the pin, with GetPinned or IterOptions.Pinned,
// observe the state of the pinned version.
func (s *Store) Pin() *PinnedVersion {
	return s.versions.Pin()
}

// pinForRead returns the pin a read session holds for its duration: a new
// pin on the current version, or another reference on the caller's pin.
func (s *Store) pinForRead(pinned *PinnedVersion) (*PinnedVersion, error) {
	if pinned == nil {
		return s.versions.Pin(), nil
	}
	if pinned.vs != s.versions {
		return nil, errors.New("hummock: pinned version belongs to another store")
	}
	return pinned.ref()
}

// PinVersion pins the live version with the given id. See
// VersionSet.PinVersion.
func (s *Store) PinVersion(id uint64) (*PinnedVersion, error) {
	return s.versions.PinVersion(id)
}

// Unpin releases a pin on the version with the given id. See
// VersionSet.Unpin.
func (s *Store) Unpin(id uint64) error {
	return s.versions.Unpin(id)
}

// Checkpoint writes the current version to the object store and returns its
// id.
func (s *Store) Checkpoint(ctx context.Context) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.versions.Checkpoint(ctx)
}

// Versions returns the store's version set.
func (s *Store) Versions() *VersionSet {
	return s.versions
}

// Compactor returns the store's compactor. Its results are not installed in
// a version; Store.Compact runs a task and installs its result.
func (s *Store) Compactor() *Compactor {
	return s.compactor
}

// reportLocal reports the counters of a finished read session.
func (s *Store) reportLocal(stats *StoreLocalMetrics) {
	stats.Report(s.metrics)
	s.mu.Lock()
	s.mu.local.Add(*stats)
	s.mu.Unlock()
}

// recordCompaction accounts for a finished compaction. Exactly one of res
// and err is non-nil.
func (s *Store) recordCompaction(res *CompactionResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.mu.compact.count++
		s.metrics.compactions.WithLabelValues("success").Inc()
	case errors.Is(err, ErrVersionStale):
		s.mu.compact.stale++
		s.metrics.compactions.WithLabelValues("stale").Inc()
		return
	default:
		s.mu.compact.failed++
		s.metrics.compactions.WithLabelValues("failed").Inc()
		return
	}
	for _, in := range res.Task.Inputs {
		s.mu.levels[in.Level].bytesRead += tablesSize(in.Tables)
	}
	s.mu.levels[res.Task.TargetLevel].bytesIn += res.Stats.BytesWritten
	s.mu.local.Add(res.Stats.Local)
	res.Stats.Local.Report(s.metrics)
	s.metrics.compactionBytesRead.Add(float64(res.Stats.BytesRead))
	s.metrics.compactionBytesWritten.Add(float64(res.Stats.BytesWritten))
	s.metrics.compactionDuration.Observe(res.Stats.Duration.Seconds())
}

// LocalMetrics returns the sum of the local metrics of every finished read
// session and compaction.
func (s *Store) LocalMetrics() StoreLocalMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.local
}

// Metrics returns a snapshot of the store's metrics.
func (s *Store) Metrics() *StoreMetrics {
	m := &StoreMetrics{}
	p := s.versions.Pin()
	defer p.Release()
	v := p.Version()
	m.Version.ID = v.ID
	m.Version.MaxCommittedEpoch = v.MaxCommittedEpoch
	m.Version.SafeEpoch = v.SafeEpoch
	m.Version.Live = s.versions.LiveVersions()
	scores := levelScores(v, s.opts)

	s.mu.Lock()
	for level := range m.Levels {
		l := &m.Levels[level]
		l.NumTables = int64(len(v.Levels[level]))
		l.Size = v.LevelSize(level)
		l.Score = scores[level]
		l.BytesIn = s.mu.levels[level].bytesIn
		l.BytesRead = s.mu.levels[level].bytesRead
	}
	m.Compact.Count = s.mu.compact.count
	m.Compact.FailedCount = s.mu.compact.failed
	m.Compact.StaleCount = s.mu.compact.stale
	m.Local = s.mu.local
	s.mu.Unlock()

	m.BlockCache = s.tables.blocks.Metrics()
	m.MetaCache = s.tables.metas.Metrics()
	m.MemTable.Size = s.mem.inuseBytes()
	m.MemTable.Count = s.mem.count.Load()
	m.Table.ObsoleteCount = s.versions.ObsoleteTables()
	return m
}

// Close closes the store. Writes that have not been synced are discarded.
// The background compaction loop is stopped, and a running compaction is
// cancelled. The object store passed to Open is not closed.
//
// It is not safe to close a store until all outstanding iterators are
// closed. Calling Close more than once returns ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.bgCancel()
	s.bgWG.Wait()
	if n := s.mem.count.Load(); n > 0 {
		s.opts.Logger.Infof("hummock: discarding %d unsynced entries", n)
	}
	s.versions.close()
	return nil
}
