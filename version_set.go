// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// initialVersionID is the id of the version of an empty store.
const initialVersionID = 1

// obsoleteTable is a table no longer referenced by any live version.
type obsoleteTable struct {
	meta *manifest.TableMetadata
	// supersededBy is the id of the current version at the time the table
	// became unreferenced. The table may be deleted once a checkpoint of this
	// version or a later one is durable.
	supersededBy uint64
}

// VersionSet manages the immutable versions of a store. A new version is
// created from the current one by applying a version edit; every advance is
// serialized on a single mutex and assigned the next version id. The current
// version is published through an atomic pointer, so pinning it never
// blocks.
//
// Every live version holds a reference on its tables. When a superseded
// version's last pin is released its references are dropped, and tables
// left without references are queued as obsolete until
// DeleteObsoleteTables removes their objects.
type VersionSet struct {
	cmp    *Comparer
	logger Logger
	tables *tableStore

	current      atomic.Pointer[manifest.Version]
	nextTableNum atomic.Uint64

	// mu serializes version advances. It is also the mutex of the version
	// list, so it is held when a version's last reference is dropped.
	mu struct {
		sync.Mutex
		versions manifest.VersionList
		obsolete []obsoleteTable
		// durableID is the id of the newest durable checkpoint.
		durableID uint64
	}
}

func newVersionSet(cmp *Comparer, logger Logger, tables *tableStore, v *manifest.Version, nextTableNum uint64) *VersionSet {
	vs := &VersionSet{
		cmp:    cmp,
		logger: logger,
		tables: tables,
	}
	vs.mu.versions.Init(&vs.mu.Mutex)
	vs.nextTableNum.Store(nextTableNum)
	if v == nil {
		v = manifest.NewVersion(cmp, initialVersionID, [manifest.NumLevels][]*manifest.TableMetadata{}, 0, 0)
	}
	vs.mu.Lock()
	vs.installLocked(v)
	vs.mu.Unlock()
	return vs
}

// installLocked makes v the current version, dropping the set's reference on
// the previous one. REQUIRES: vs.mu is held.
func (vs *VersionSet) installLocked(v *manifest.Version) {
	v.Deleted = vs.obsoleteLocked
	v.Ref()
	vs.mu.versions.PushBack(v)
	prev := vs.current.Swap(v)
	if prev != nil {
		prev.UnrefLocked()
	}
}

// obsoleteLocked is the Deleted callback of every version.
// REQUIRES: vs.mu is held.
func (vs *VersionSet) obsoleteLocked(tables []*manifest.TableMetadata) {
	id := vs.current.Load().ID
	for _, t := range tables {
		vs.mu.obsolete = append(vs.mu.obsolete, obsoleteTable{meta: t, supersededBy: id})
	}
}

// Current returns the current version without pinning it. The version may
// be superseded and its tables deleted at any time; use Pin to read from it.
func (vs *VersionSet) Current() *manifest.Version {
	return vs.current.Load()
}

// newTableNum allocates a table number.
func (vs *VersionSet) newTableNum() uint64 {
	return vs.nextTableNum.Add(1) - 1
}

// applyLocked applies a version edit to the current version and installs
// the result. REQUIRES: vs.mu is held.
func (vs *VersionSet) applyLocked(ve *manifest.VersionEdit) (*manifest.Version, error) {
	var bve manifest.BulkVersionEdit
	if err := bve.Accumulate(ve); err != nil {
		return nil, err
	}
	curr := vs.current.Load()
	v, err := bve.Apply(curr, vs.cmp, curr.ID+1)
	if err != nil {
		return nil, err
	}
	vs.installLocked(v)
	return v, nil
}

// Commit installs a new version with the given tables prepended to L0 and
// the max committed epoch raised to epoch. Committing an epoch below the max
// committed epoch is an error, as is committing a table holding data from a
// later epoch.
func (vs *VersionSet) Commit(epoch Epoch, tables []*manifest.TableMetadata) (*manifest.Version, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	curr := vs.current.Load()
	if epoch < curr.MaxCommittedEpoch {
		return nil, errors.Newf("hummock: commit of epoch %s below the max committed epoch %s",
			epoch, curr.MaxCommittedEpoch)
	}
	ve := &manifest.VersionEdit{MaxCommittedEpoch: epoch}
	for _, t := range tables {
		if t.MaxEpoch > epoch {
			return nil, errors.Newf("hummock: table %s holds epoch %s, above the committed epoch %s",
				t, t.MaxEpoch, epoch)
		}
		ve.NewTables = append(ve.NewTables, manifest.NewTableEntry{Level: 0, Meta: t})
	}
	return vs.applyLocked(ve)
}

// ApplyCompaction installs a new version with the inputs of a compaction
// replaced by its outputs. The max committed epoch is unchanged. If any
// input is no longer part of the current version, or a table has since been
// added to the target level within the compacted key range, the result is
// stale and ErrVersionStale is returned.
func (vs *VersionSet) ApplyCompaction(res *CompactionResult) (*manifest.Version, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	curr := vs.current.Load()
	task := res.Task
	inputs := make(map[uint64]struct{})
	ve := &manifest.VersionEdit{DeletedTables: make(map[manifest.DeletedTableEntry]*manifest.TableMetadata)}
	for _, in := range task.Inputs {
		for _, t := range in.Tables {
			if !curr.Contains(in.Level, t) {
				return nil, errors.Mark(
					errors.Newf("hummock: compaction %d input %s is no longer in L%d of version %d",
						task.ID, t, in.Level, curr.ID),
					base.ErrVersionStale)
			}
			inputs[t.TableNum] = struct{}{}
			ve.DeletedTables[manifest.DeletedTableEntry{Level: in.Level, TableNum: t.TableNum}] = t
		}
	}
	for _, t := range res.Outputs {
		for _, o := range curr.Overlaps(task.TargetLevel, base.KeyRangeInclusive(t.Smallest, t.Largest)) {
			if _, ok := inputs[o.TableNum]; !ok {
				return nil, errors.Mark(
					errors.Newf("hummock: compaction %d output %s overlaps %s in L%d of version %d",
						task.ID, t, o, task.TargetLevel, curr.ID),
					base.ErrVersionStale)
			}
		}
		ve.NewTables = append(ve.NewTables, manifest.NewTableEntry{Level: task.TargetLevel, Meta: t})
	}
	return vs.applyLocked(ve)
}

// AdvanceSafeEpoch raises the safe epoch to epoch. Lowering the safe epoch
// is a no-op that returns the current version; raising it above the max
// committed epoch is an error.
func (vs *VersionSet) AdvanceSafeEpoch(epoch Epoch) (*manifest.Version, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	curr := vs.current.Load()
	if epoch > curr.MaxCommittedEpoch {
		return nil, errors.Newf("hummock: safe epoch %s above the max committed epoch %s",
			epoch, curr.MaxCommittedEpoch)
	}
	if epoch <= curr.SafeEpoch {
		return curr, nil
	}
	return vs.applyLocked(&manifest.VersionEdit{SafeEpoch: epoch})
}

// Pin pins the current version. The returned handle must be released.
func (vs *VersionSet) Pin() *PinnedVersion {
	for {
		v := vs.current.Load()
		// The ref fails only if v was superseded and released after the load.
		if v.TryRef() {
			return &PinnedVersion{vs: vs, v: v}
		}
	}
}

// PinVersion pins the live version with the given id. A version is live
// while it is current or pinned. Pinning a version that is no longer live
// returns an error marked ErrVersionStale.
func (vs *VersionSet) PinVersion(id uint64) (*PinnedVersion, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v := vs.mu.versions.Get(id)
	if v == nil || !v.TryRef() {
		return nil, errors.Mark(errors.Newf("hummock: version %d is not live", id), base.ErrVersionStale)
	}
	return &PinnedVersion{vs: vs, v: v}, nil
}

// Unpin releases one pin on the live version with the given id. It is the
// id-based counterpart of PinnedVersion.Release for callers that only hold a
// version id; the handle of the released pin must not be released again.
func (vs *VersionSet) Unpin(id uint64) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v := vs.mu.versions.Get(id)
	if v == nil {
		return errors.Newf("hummock: version %d is not live", id)
	}
	pins := v.Refs()
	if v == vs.current.Load() {
		pins--
	}
	if pins <= 0 {
		return errors.Newf("hummock: version %d is not pinned", id)
	}
	v.UnrefLocked()
	return nil
}

// LiveVersions returns the number of versions that are current or pinned.
func (vs *VersionSet) LiveVersions() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.mu.versions.Len()
}

// ObsoleteTables returns the number of tables awaiting deletion.
func (vs *VersionSet) ObsoleteTables() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.mu.obsolete)
}

// close releases the set's reference on the current version. Obsolete
// tables are not deleted.
func (vs *VersionSet) close() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if v := vs.current.Load(); v != nil {
		v.UnrefLocked()
	}
}

// PinnedVersion is a reader's reference on a version. While it is held, the
// version's tables are not deleted.
type PinnedVersion struct {
	vs       *VersionSet
	v        *manifest.Version
	released atomic.Bool
}

// ID returns the id of the pinned version.
func (p *PinnedVersion) ID() uint64 {
	return p.v.ID
}

// Version returns the pinned version.
func (p *PinnedVersion) Version() *manifest.Version {
	return p.v
}

// MaxCommittedEpoch returns the max committed epoch of the pinned version.
func (p *PinnedVersion) MaxCommittedEpoch() Epoch {
	return p.v.MaxCommittedEpoch
}

// SafeEpoch returns the safe epoch of the pinned version.
func (p *PinnedVersion) SafeEpoch() Epoch {
	return p.v.SafeEpoch
}

// ref takes another reference on the pinned version, for a read that
// outlives the caller's use of p. It fails with an error marked
// ErrVersionStale if p was released.
func (p *PinnedVersion) ref() (*PinnedVersion, error) {
	if p.released.Load() || !p.v.TryRef() {
		return nil, errors.Mark(errors.Newf("hummock: pin on version %d was released", p.v.ID), base.ErrVersionStale)
	}
	return &PinnedVersion{vs: p.vs, v: p.v}, nil
}

// Release releases the pin. It is safe to call Release more than once.
func (p *PinnedVersion) Release() {
	if p.released.CompareAndSwap(false, true) {
		p.v.Unref()
	}
}
