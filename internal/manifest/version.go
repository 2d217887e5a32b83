// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// Version is a collection of table descriptors at each level of the LSM,
// along with the epochs that bound the reads it can serve. A Version is
// immutable once published.
//
// L0 holds the tables committed by flushes, ordered newest first; they may
// overlap. Tables at every other level are sorted by key and pairwise
// non-overlapping.
type Version struct {
	// ID increases by one with each version published by a store.
	ID uint64
	// Levels holds the tables at each level.
	Levels [NumLevels][]*TableMetadata
	// MaxCommittedEpoch is the highest epoch whose data has been committed.
	MaxCommittedEpoch base.Epoch
	// SafeEpoch is the lowest epoch reads may be served at. Versions of a key
	// older than the newest one below the safe epoch may be discarded by
	// compactions.
	SafeEpoch base.Epoch

	cmp *base.Comparer

	refs atomic.Int32

	// Deleted is called with the tables no longer referenced by any version
	// once the version's last reference is dropped. It is called with the
	// version list's mutex held.
	Deleted func(obsolete []*TableMetadata)

	// The list the version is linked into.
	list *VersionList

	// The next/prev link for the versionList doubly-linked list of versions.
	prev, next *Version
}

// NewVersion constructs a version with the given tables and adds a reference
// to each of them. The tables at levels other than L0 must already be sorted.
func NewVersion(
	cmp *base.Comparer,
	id uint64,
	levels [NumLevels][]*TableMetadata,
	maxCommittedEpoch, safeEpoch base.Epoch,
) *Version {
	v := &Version{
		ID:                id,
		Levels:            levels,
		MaxCommittedEpoch: maxCommittedEpoch,
		SafeEpoch:         safeEpoch,
		cmp:               cmp.EnsureDefaults(),
	}
	for _, tables := range v.Levels {
		for _, t := range tables {
			t.ref()
		}
	}
	return v
}

// Comparer returns the comparer the version orders its tables with.
func (v *Version) Comparer() *base.Comparer {
	return v.cmp
}

// Refs returns the number of references to the version.
func (v *Version) Refs() int32 {
	return v.refs.Load()
}

// Ref increments the version refcount. The caller must already hold a
// reference, or the version must not have been published yet.
func (v *Version) Ref() {
	v.refs.Add(1)
}

// TryRef increments the version refcount unless it has already dropped to
// zero, in which case the version is dead and TryRef returns false. It allows
// a reader to pin a version loaded from an atomic pointer without holding
// any lock.
func (v *Version) TryRef() bool {
	for {
		n := v.refs.Load()
		if n <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Unref decrements the version refcount. If the last reference to the version
// was removed, the version is removed from the list of versions and the
// Deleted callback is invoked. Requires that the VersionList mutex is NOT
// locked.
func (v *Version) Unref() {
	if v.refs.Add(-1) == 0 {
		l := v.list
		l.mu.Lock()
		l.Remove(v)
		v.deleted(v.unrefTables())
		l.mu.Unlock()
	}
}

// UnrefLocked decrements the version refcount. If the last reference to the
// version was removed, the version is removed from the list of versions and
// the Deleted callback is invoked. Requires that the VersionList mutex is
// already locked.
func (v *Version) UnrefLocked() {
	if v.refs.Add(-1) == 0 {
		v.list.Remove(v)
		v.deleted(v.unrefTables())
	}
}

func (v *Version) deleted(obsolete []*TableMetadata) {
	if v.Deleted != nil {
		v.Deleted(obsolete)
	}
}

func (v *Version) unrefTables() []*TableMetadata {
	var obsolete []*TableMetadata
	for _, tables := range v.Levels {
		for _, t := range tables {
			if t.unref() {
				obsolete = append(obsolete, t)
			}
		}
	}
	return obsolete
}

// NumTables returns the total number of tables in the version.
func (v *Version) NumTables() int {
	var n int
	for _, tables := range v.Levels {
		n += len(tables)
	}
	return n
}

// LevelSize returns the total size of the tables at the given level.
func (v *Version) LevelSize(level int) uint64 {
	var n uint64
	for _, t := range v.Levels[level] {
		n += t.Size
	}
	return n
}

// Tables calls fn for every table in the version, from L0 downwards and, in
// L0, newest first. Iteration stops early if fn returns false.
func (v *Version) Tables(fn func(level int, t *TableMetadata) bool) {
	for level, tables := range v.Levels {
		for _, t := range tables {
			if !fn(level, t) {
				return
			}
		}
	}
}

// Contains returns true if the table is present at the given level.
func (v *Version) Contains(level int, t *TableMetadata) bool {
	for _, m := range v.Levels[level] {
		if m.TableNum == t.TableNum {
			return true
		}
	}
	return false
}

// Overlaps returns the tables at the given level whose bounds overlap the key
// range, in level order. At levels other than L0 the search is a binary
// search over the sorted tables.
func (v *Version) Overlaps(level int, r base.KeyRange) []*TableMetadata {
	cmp := v.cmp.Compare
	tables := v.Levels[level]
	if level == 0 {
		var res []*TableMetadata
		for _, t := range tables {
			if t.Overlaps(cmp, r) {
				res = append(res, t)
			}
		}
		return res
	}
	// The first table whose largest key is not entirely before the range.
	start := sort.Search(len(tables), func(i int) bool {
		return r.AfterStart(cmp, tables[i].Largest)
	})
	end := start
	for end < len(tables) && tables[end].Overlaps(cmp, r) {
		end++
	}
	return tables[start:end:end]
}

// FindTable returns the table at the given level, which must not be L0,
// whose bounds contain the user key, or nil.
func (v *Version) FindTable(level int, key []byte) *TableMetadata {
	if level == 0 {
		panic(errors.AssertionFailedf("FindTable called on L0"))
	}
	cmp := v.cmp.Compare
	tables := v.Levels[level]
	i := sort.Search(len(tables), func(i int) bool {
		return cmp(tables[i].Largest, key) >= 0
	})
	if i < len(tables) && cmp(tables[i].Smallest, key) <= 0 {
		return tables[i]
	}
	return nil
}

// CheckOrdering checks that the tables are consistent with respect to
// decreasing table numbers (for L0 tables) and increasing and non-overlapping
// user key ranges (for tables at other levels), and that the safe epoch does
// not exceed the committed epoch.
func (v *Version) CheckOrdering() error {
	if v.SafeEpoch > v.MaxCommittedEpoch {
		return base.CorruptionErrorf("safe epoch %s is above the max committed epoch %s",
			v.SafeEpoch, v.MaxCommittedEpoch)
	}
	for level, tables := range v.Levels {
		if err := CheckOrdering(v.cmp, level, tables); err != nil {
			return base.MarkCorruptionError(errors.WithDetailf(err, "%s", v.DebugString()))
		}
	}
	return nil
}

// CheckOrdering checks the ordering of the tables of a single level.
func CheckOrdering(cmp *base.Comparer, level int, tables []*TableMetadata) error {
	for i, t := range tables {
		if err := t.Validate(cmp.Compare, cmp.FormatKey); err != nil {
			return errors.Wrapf(err, "L%d", level)
		}
		if i == 0 {
			continue
		}
		prev := tables[i-1]
		if level == 0 {
			if prev.TableNum <= t.TableNum {
				return base.CorruptionErrorf("L0 tables %06d and %06d are not properly ordered",
					errors.Safe(prev.TableNum), errors.Safe(t.TableNum))
			}
			continue
		}
		if cmp.Compare(prev.Largest, t.Smallest) >= 0 {
			return base.CorruptionErrorf("L%d tables %s and %s have overlapping ranges",
				errors.Safe(level), prev.DebugString(cmp.FormatKey, false), t.DebugString(cmp.FormatKey, false))
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (v *Version) String() string {
	return v.string(false)
}

// DebugString returns an alternative format to String() which includes the
// epochs and sizes of the tables.
func (v *Version) DebugString() string {
	return v.string(true)
}

func (v *Version) string(verbose bool) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "version %d: committed=%s safe=%s\n", v.ID, v.MaxCommittedEpoch, v.SafeEpoch)
	for level, tables := range v.Levels {
		if len(tables) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "L%d:\n", level)
		for _, t := range tables {
			fmt.Fprintf(&buf, "  %s\n", t.DebugString(v.cmp.FormatKey, verbose))
		}
	}
	return buf.String()
}

// ParseVersionDebug parses a Version from its DebugString output. The tables
// are not validated against the version's ordering.
func ParseVersionDebug(cmp *base.Comparer, s string) (*Version, error) {
	var levels [NumLevels][]*TableMetadata
	var id uint64
	var committed, safe base.Epoch
	level := -1
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "version "):
			if _, err := fmt.Sscanf(line, "version %d: committed=%d safe=%d", &id, &committed, &safe); err != nil {
				return nil, errors.Wrapf(err, "malformed version header %q", line)
			}
		case strings.HasPrefix(line, "L") && strings.HasSuffix(line, ":"):
			if _, err := fmt.Sscanf(line, "L%d:", &level); err != nil || level < 0 || level >= NumLevels {
				return nil, errors.Newf("malformed level %q", line)
			}
		default:
			if level < 0 {
				return nil, errors.Newf("table %q outside of a level", line)
			}
			t, err := ParseTableMetadataDebug(line)
			if err != nil {
				return nil, err
			}
			levels[level] = append(levels[level], t)
		}
	}
	return NewVersion(cmp, id, levels, committed, safe), nil
}

// VersionList holds a list of versions. The versions are ordered from oldest
// to newest.
type VersionList struct {
	mu   *sync.Mutex
	root Version
}

// Init initializes the version list.
func (l *VersionList) Init(mu *sync.Mutex) {
	l.mu = mu
	l.root.next = &l.root
	l.root.prev = &l.root
}

// Empty returns true if the list is empty, and false otherwise.
func (l *VersionList) Empty() bool {
	return l.root.next == &l.root
}

// Front returns the oldest version in the list. Note that this version is only
// valid if Empty() returns false.
func (l *VersionList) Front() *Version {
	return l.root.next
}

// Back returns the newest version in the list. Note that this version is only
// valid if Empty() returns false.
func (l *VersionList) Back() *Version {
	return l.root.prev
}

// Len returns the number of versions in the list.
func (l *VersionList) Len() int {
	var n int
	for v := l.root.next; v != &l.root; v = v.next {
		n++
	}
	return n
}

// Get returns the live version with the given id, or nil.
func (l *VersionList) Get(id uint64) *Version {
	for v := l.root.prev; v != &l.root; v = v.prev {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// PushBack adds a new version to the back of the list. This new version
// becomes the "newest" version in the list.
func (l *VersionList) PushBack(v *Version) {
	if v.list != nil || v.prev != nil || v.next != nil {
		panic("hummock: version list is inconsistent")
	}
	v.prev = l.root.prev
	v.prev.next = v
	v.next = &l.root
	v.next.prev = v
	v.list = l
}

// Remove removes the specified version from the list.
func (l *VersionList) Remove(v *Version) {
	if v == &l.root {
		panic("hummock: cannot remove version list root node")
	}
	if v.list != l {
		panic("hummock: version list is inconsistent")
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	v.next = nil // avoid memory leaks
	v.prev = nil // avoid memory leaks
	v.list = nil // avoid memory leaks
}
