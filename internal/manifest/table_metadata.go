// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package manifest holds the immutable versions of the store's LSM: the set
// of tables at each level along with the committed and safe epochs, and the
// edits that advance one version to the next.
package manifest

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// NumLevels is the number of levels a Version contains.
const NumLevels = 7

// TableMetadata is the version-level descriptor of a table. It is shared by
// every version that contains the table and must not be modified once the
// table has been added to a version.
type TableMetadata struct {
	// TableNum is the table's id. It is unique across the lifetime of the
	// store and names the table's objects.
	TableNum uint64
	// Size is the total size of the table's data and meta objects.
	Size uint64
	// Smallest and Largest are the inclusive user key bounds of the table.
	Smallest []byte
	Largest  []byte
	// MinEpoch and MaxEpoch bound the epochs of the table's entries.
	MinEpoch base.Epoch
	MaxEpoch base.Epoch
	// KeyCount is the number of entries, counting every version of a key.
	KeyCount uint64

	// refs is the number of versions the table belongs to.
	refs atomic.Int32
	// compacting is set while the table is an input of a running compaction.
	compacting atomic.Bool
}

// Refs returns the number of versions the table belongs to.
func (m *TableMetadata) Refs() int32 {
	return m.refs.Load()
}

func (m *TableMetadata) ref() {
	m.refs.Add(1)
}

// unref removes a reference and reports whether it was the last one.
func (m *TableMetadata) unref() bool {
	v := m.refs.Add(-1)
	if v < 0 {
		panic(errors.AssertionFailedf("hummock: table %s has negative refs %d", m, v))
	}
	return v == 0
}

// IsCompacting reports whether the table is an input of a running
// compaction.
func (m *TableMetadata) IsCompacting() bool {
	return m.compacting.Load()
}

// SetCompacting marks or unmarks the table as a compaction input. It returns
// false if the table was already in the requested state.
func (m *TableMetadata) SetCompacting(v bool) bool {
	return m.compacting.CompareAndSwap(!v, v)
}

// Overlaps returns true if the table's user key bounds overlap the range.
func (m *TableMetadata) Overlaps(cmp base.Compare, r base.KeyRange) bool {
	return base.RangeOverlap(cmp, r, m.Smallest, m.Largest, false)
}

// ContainsKey returns true if the user key lies within the table's bounds.
func (m *TableMetadata) ContainsKey(cmp base.Compare, key []byte) bool {
	return cmp(m.Smallest, key) <= 0 && cmp(key, m.Largest) <= 0
}

// Validate checks the internal consistency of the descriptor.
func (m *TableMetadata) Validate(cmp base.Compare, formatKey base.FormatKey) error {
	if cmp(m.Smallest, m.Largest) > 0 {
		return base.CorruptionErrorf("table %d has inconsistent bounds: %s vs %s",
			errors.Safe(m.TableNum), formatKey(m.Smallest), formatKey(m.Largest))
	}
	if m.MinEpoch > m.MaxEpoch {
		return base.CorruptionErrorf("table %d has inconsistent epochs: %s vs %s",
			errors.Safe(m.TableNum), m.MinEpoch, m.MaxEpoch)
	}
	return nil
}

// Clone returns a copy of the descriptor without its reference count.
func (m *TableMetadata) Clone() *TableMetadata {
	return &TableMetadata{
		TableNum: m.TableNum,
		Size:     m.Size,
		Smallest: m.Smallest,
		Largest:  m.Largest,
		MinEpoch: m.MinEpoch,
		MaxEpoch: m.MaxEpoch,
		KeyCount: m.KeyCount,
	}
}

// String implements fmt.Stringer, printing the table number and the key
// bounds.
func (m *TableMetadata) String() string {
	return fmt.Sprintf("%06d:[%s, %s]", m.TableNum, m.Smallest, m.Largest)
}

// DebugString returns a verbose representation of the descriptor, parseable
// by ParseTableMetadataDebug.
func (m *TableMetadata) DebugString(format base.FormatKey, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%06d:[%s, %s]", m.TableNum, format(m.Smallest), format(m.Largest))
	if !verbose {
		return b.String()
	}
	fmt.Fprintf(&b, " epochs=[%d, %d] size=%d", m.MinEpoch, m.MaxEpoch, m.Size)
	if m.KeyCount > 0 {
		fmt.Fprintf(&b, " keys=%d", m.KeyCount)
	}
	return b.String()
}

// ParseTableMetadataDebug parses a descriptor from its DebugString
// representation, for example "000005:[a, c] epochs=[3, 5] size=100". The
// epochs, size and keys fields are optional.
func ParseTableMetadataDebug(s string) (*TableMetadata, error) {
	s = strings.TrimSpace(s)
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return nil, errors.Newf("malformed table %q: missing table number", s)
	}
	num, err := strconv.ParseUint(s[:colon], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed table %q", s)
	}
	m := &TableMetadata{TableNum: num}
	rest := s[colon+1:]
	end := strings.IndexByte(rest, ']')
	if !strings.HasPrefix(rest, "[") || end < 0 {
		return nil, errors.Newf("malformed table %q: missing bounds", s)
	}
	smallest, largest, ok := strings.Cut(rest[1:end], ", ")
	if !ok {
		return nil, errors.Newf("malformed table %q: bounds must be separated by ', '", s)
	}
	m.Smallest, m.Largest = []byte(smallest), []byte(largest)
	rest = strings.TrimSpace(rest[end+1:])

	for rest != "" {
		field, value, ok := strings.Cut(rest, "=")
		if !ok {
			return nil, errors.Newf("malformed table %q: bad field %q", s, rest)
		}
		if strings.HasPrefix(value, "[") {
			j := strings.IndexByte(value, ']')
			if j < 0 {
				return nil, errors.Newf("malformed table %q: unterminated %s", s, field)
			}
			rest = strings.TrimSpace(value[j+1:])
			value = value[1:j]
		} else if sp := strings.IndexByte(value, ' '); sp >= 0 {
			rest = strings.TrimSpace(value[sp+1:])
			value = value[:sp]
		} else {
			rest = ""
		}
		switch field {
		case "epochs":
			lo, hi, ok := strings.Cut(value, ",")
			if !ok {
				return nil, errors.Newf("malformed table %q: bad epochs %q", s, value)
			}
			m.MinEpoch, err = parseEpoch(lo)
			if err != nil {
				return nil, err
			}
			m.MaxEpoch, err = parseEpoch(hi)
			if err != nil {
				return nil, err
			}
		case "size":
			if m.Size, err = strconv.ParseUint(value, 10, 64); err != nil {
				return nil, errors.Wrapf(err, "malformed table %q", s)
			}
		case "keys":
			if m.KeyCount, err = strconv.ParseUint(value, 10, 64); err != nil {
				return nil, errors.Wrapf(err, "malformed table %q", s)
			}
		default:
			return nil, errors.Newf("malformed table %q: unknown field %q", s, field)
		}
	}
	if err := m.Validate(base.DefaultComparer.Compare, base.DefaultFormatter); err != nil {
		return nil, err
	}
	return m, nil
}

func parseEpoch(s string) (base.Epoch, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed epoch %q", s)
	}
	return base.Epoch(v), nil
}
