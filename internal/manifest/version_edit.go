// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// A VersionEdit is encoded as a sequence of tagged fields. Each tag is a
// uvarint followed by the field's value; integers are uvarints and byte
// strings are length prefixed.
const (
	tagComparator        = 1
	tagVersionID         = 2
	tagNextTableNum      = 3
	tagMaxCommittedEpoch = 4
	tagSafeEpoch         = 5
	tagDeletedTable      = 6
	tagNewTable          = 7
)

var errCorruptEdit = base.CorruptionErrorf("hummock: corrupt version edit")

type byteReader interface {
	io.ByteReader
	io.Reader
}

// DeletedTableEntry holds the state for a table deletion from a level.
type DeletedTableEntry struct {
	Level    int
	TableNum uint64
}

// NewTableEntry holds the state for a new table at a level.
type NewTableEntry struct {
	Level int
	Meta  *TableMetadata
}

// VersionEdit holds the state for an edit to a Version. A checkpoint of a
// version is encoded as a single edit that adds every table of the version to
// an empty one.
type VersionEdit struct {
	// ComparerName is the name of the comparer the tables are ordered by. It
	// is only set in checkpoints, and is used to verify that the comparer
	// specified at Open matches the one previously used.
	ComparerName string

	// VersionID is the id of the version a checkpoint captures. Zero means
	// unset.
	VersionID uint64

	// NextTableNum is the next table number to allocate. Zero means unset.
	NextTableNum uint64

	// MaxCommittedEpoch and SafeEpoch, if non-zero, raise the corresponding
	// epochs of the version the edit is applied to.
	MaxCommittedEpoch base.Epoch
	SafeEpoch         base.Epoch

	// DeletedTables are the tables removed from each level. The metadata may
	// be nil for decoded edits.
	DeletedTables map[DeletedTableEntry]*TableMetadata
	NewTables     []NewTableEntry
}

// Decode decodes an edit from the specified reader. A malformed edit is a
// corruption error.
func (v *VersionEdit) Decode(r io.Reader) error {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := versionEditDecoder{br}
	for {
		tag, err := binary.ReadUvarint(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return errCorruptEdit
		}
		switch tag {
		case tagComparator:
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			v.ComparerName = string(s)

		case tagVersionID:
			if v.VersionID, err = d.readUvarint(); err != nil {
				return err
			}

		case tagNextTableNum:
			if v.NextTableNum, err = d.readUvarint(); err != nil {
				return err
			}

		case tagMaxCommittedEpoch:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.MaxCommittedEpoch = base.Epoch(n)

		case tagSafeEpoch:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			v.SafeEpoch = base.Epoch(n)

		case tagDeletedTable:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			tableNum, err := d.readUvarint()
			if err != nil {
				return err
			}
			if v.DeletedTables == nil {
				v.DeletedTables = make(map[DeletedTableEntry]*TableMetadata)
			}
			v.DeletedTables[DeletedTableEntry{Level: level, TableNum: tableNum}] = nil

		case tagNewTable:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			m := &TableMetadata{}
			if m.TableNum, err = d.readUvarint(); err != nil {
				return err
			}
			if m.Size, err = d.readUvarint(); err != nil {
				return err
			}
			if m.Smallest, err = d.readBytes(); err != nil {
				return err
			}
			if m.Largest, err = d.readBytes(); err != nil {
				return err
			}
			minEpoch, err := d.readUvarint()
			if err != nil {
				return err
			}
			maxEpoch, err := d.readUvarint()
			if err != nil {
				return err
			}
			m.MinEpoch, m.MaxEpoch = base.Epoch(minEpoch), base.Epoch(maxEpoch)
			if m.KeyCount, err = d.readUvarint(); err != nil {
				return err
			}
			v.NewTables = append(v.NewTables, NewTableEntry{Level: level, Meta: m})

		default:
			return errCorruptEdit
		}
	}
	return nil
}

// Encode encodes an edit to the specified writer. Deleted tables are encoded
// in (level, table number) order so that encoding is deterministic.
func (v *VersionEdit) Encode(w io.Writer) error {
	e := versionEditEncoder{new(bytes.Buffer)}
	if v.ComparerName != "" {
		e.writeUvarint(tagComparator)
		e.writeString(v.ComparerName)
	}
	if v.VersionID != 0 {
		e.writeUvarint(tagVersionID)
		e.writeUvarint(v.VersionID)
	}
	if v.NextTableNum != 0 {
		e.writeUvarint(tagNextTableNum)
		e.writeUvarint(v.NextTableNum)
	}
	if v.MaxCommittedEpoch != 0 {
		e.writeUvarint(tagMaxCommittedEpoch)
		e.writeUvarint(uint64(v.MaxCommittedEpoch))
	}
	if v.SafeEpoch != 0 {
		e.writeUvarint(tagSafeEpoch)
		e.writeUvarint(uint64(v.SafeEpoch))
	}
	deleted := make([]DeletedTableEntry, 0, len(v.DeletedTables))
	for x := range v.DeletedTables {
		deleted = append(deleted, x)
	}
	slices.SortFunc(deleted, func(a, b DeletedTableEntry) int {
		if c := cmp.Compare(a.Level, b.Level); c != 0 {
			return c
		}
		return cmp.Compare(a.TableNum, b.TableNum)
	})
	for _, x := range deleted {
		e.writeUvarint(tagDeletedTable)
		e.writeUvarint(uint64(x.Level))
		e.writeUvarint(x.TableNum)
	}
	for _, x := range v.NewTables {
		e.writeUvarint(tagNewTable)
		e.writeUvarint(uint64(x.Level))
		e.writeUvarint(x.Meta.TableNum)
		e.writeUvarint(x.Meta.Size)
		e.writeBytes(x.Meta.Smallest)
		e.writeBytes(x.Meta.Largest)
		e.writeUvarint(uint64(x.Meta.MinEpoch))
		e.writeUvarint(uint64(x.Meta.MaxEpoch))
		e.writeUvarint(x.Meta.KeyCount)
	}
	_, err := w.Write(e.Bytes())
	return err
}

type versionEditDecoder struct {
	byteReader
}

func (d versionEditDecoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if n > 1<<30 {
		return nil, errCorruptEdit
	}
	s := make([]byte, n)
	_, err = io.ReadFull(d, s)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errCorruptEdit
		}
		return nil, err
	}
	return s, nil
}

func (d versionEditDecoder) readLevel() (int, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u >= NumLevels {
		return 0, errCorruptEdit
	}
	return int(u), nil
}

func (d versionEditDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, errCorruptEdit
		}
		return 0, errors.Mark(err, base.ErrCorruption)
	}
	return u, nil
}

type versionEditEncoder struct {
	*bytes.Buffer
}

func (e versionEditEncoder) writeBytes(p []byte) {
	e.writeUvarint(uint64(len(p)))
	e.Write(p)
}

func (e versionEditEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.WriteString(s)
}

func (e versionEditEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.Write(buf[:n])
}

// BulkVersionEdit summarizes the tables added and deleted from a set of
// version edits.
type BulkVersionEdit struct {
	Added   [NumLevels]map[uint64]*TableMetadata
	Deleted [NumLevels]map[uint64]struct{}

	MaxCommittedEpoch base.Epoch
	SafeEpoch         base.Epoch
}

// Accumulate adds the table additions and deletions in the specified version
// edit to the bulk edit's internal state. A table added by a preceding edit
// and deleted by this one cancels out.
func (b *BulkVersionEdit) Accumulate(ve *VersionEdit) error {
	for df := range ve.DeletedTables {
		if added := b.Added[df.Level]; added != nil {
			if _, ok := added[df.TableNum]; ok {
				delete(added, df.TableNum)
				continue
			}
		}
		if b.Deleted[df.Level] == nil {
			b.Deleted[df.Level] = make(map[uint64]struct{})
		}
		b.Deleted[df.Level][df.TableNum] = struct{}{}
	}

	for _, nf := range ve.NewTables {
		// A new table should not have been deleted in this or a preceding
		// VersionEdit at the same level.
		if _, ok := b.Deleted[nf.Level][nf.Meta.TableNum]; ok {
			return base.CorruptionErrorf("table %06d deleted from L%d before it was inserted",
				errors.Safe(nf.Meta.TableNum), errors.Safe(nf.Level))
		}
		if b.Added[nf.Level] == nil {
			b.Added[nf.Level] = make(map[uint64]*TableMetadata)
		}
		b.Added[nf.Level][nf.Meta.TableNum] = nf.Meta
	}
	b.MaxCommittedEpoch = max(b.MaxCommittedEpoch, ve.MaxCommittedEpoch)
	b.SafeEpoch = max(b.SafeEpoch, ve.SafeEpoch)
	return nil
}

// Apply applies the delta b to the current version to produce a new version
// with the given id. L0 is ordered newest first; the other levels are sorted
// by smallest key. The new version is checked for consistency before it is
// returned. The epochs of the new version are the larger of curr's and b's.
//
// curr may be nil, which is equivalent to a pointer to a zero version.
func (b *BulkVersionEdit) Apply(
	curr *Version, comparer *base.Comparer, id uint64,
) (*Version, error) {
	comparer = comparer.EnsureDefaults()
	var levels [NumLevels][]*TableMetadata
	var committed, safe base.Epoch
	if curr != nil {
		committed, safe = curr.MaxCommittedEpoch, curr.SafeEpoch
	}
	committed = max(committed, b.MaxCommittedEpoch)
	safe = max(safe, b.SafeEpoch)

	for level := range levels {
		var currTables []*TableMetadata
		if curr != nil {
			currTables = curr.Levels[level]
		}
		added, deleted := b.Added[level], b.Deleted[level]
		if len(added) == 0 && len(deleted) == 0 {
			levels[level] = currTables
			continue
		}
		tables := make([]*TableMetadata, 0, len(currTables)+len(added))
		for _, t := range currTables {
			if _, ok := deleted[t.TableNum]; ok {
				continue
			}
			if _, ok := added[t.TableNum]; ok {
				return nil, base.CorruptionErrorf("table %06d added to L%d twice",
					errors.Safe(t.TableNum), errors.Safe(level))
			}
			tables = append(tables, t)
		}
		if n := len(currTables) - len(tables); n != len(deleted) {
			return nil, errors.Newf("hummock: %d of %d deleted tables not found in L%d",
				len(deleted)-n, len(deleted), errors.Safe(level))
		}
		for _, t := range added {
			tables = append(tables, t)
		}
		if level == 0 {
			slices.SortFunc(tables, func(a, b *TableMetadata) int {
				return cmp.Compare(b.TableNum, a.TableNum)
			})
		} else {
			slices.SortFunc(tables, func(a, b *TableMetadata) int {
				return comparer.Compare(a.Smallest, b.Smallest)
			})
		}
		levels[level] = tables
	}

	v := NewVersion(comparer, id, levels, committed, safe)
	if err := v.CheckOrdering(); err != nil {
		v.unrefTables()
		return nil, errors.Wrap(err, "hummock: internal error")
	}
	return v, nil
}

// Snapshot returns an edit that, applied to an empty version, reproduces v.
func (v *Version) Snapshot(nextTableNum uint64) *VersionEdit {
	ve := &VersionEdit{
		ComparerName:      v.cmp.Name,
		VersionID:         v.ID,
		NextTableNum:      nextTableNum,
		MaxCommittedEpoch: v.MaxCommittedEpoch,
		SafeEpoch:         v.SafeEpoch,
	}
	v.Tables(func(level int, t *TableMetadata) bool {
		ve.NewTables = append(ve.NewTables, NewTableEntry{Level: level, Meta: t})
		return true
	})
	return ve
}

// DecodeVersion decodes a version checkpoint written by Snapshot and
// VersionEdit.Encode. The comparer name recorded in the checkpoint must match
// comparer. It returns the version, whose refcount is zero, and the
// checkpoint's next table number.
func DecodeVersion(data []byte, comparer *base.Comparer) (*Version, uint64, error) {
	comparer = comparer.EnsureDefaults()
	var ve VersionEdit
	if err := ve.Decode(bytes.NewReader(data)); err != nil {
		return nil, 0, err
	}
	if ve.ComparerName != comparer.Name {
		return nil, 0, errors.Newf("hummock: checkpoint comparer %q does not match %q",
			errors.Safe(ve.ComparerName), errors.Safe(comparer.Name))
	}
	var bve BulkVersionEdit
	if err := bve.Accumulate(&ve); err != nil {
		return nil, 0, err
	}
	v, err := bve.Apply(nil, comparer, ve.VersionID)
	if err != nil {
		return nil, 0, base.MarkCorruptionError(err)
	}
	return v, ve.NextTableNum, nil
}
