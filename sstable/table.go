// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

/*
Package sstable implements the immutable sorted tables Hummock stores its data
in.

A table is written once, by a flush or by a compaction, and never modified.
It is stored as two objects: a data object holding the data blocks back to
back, and a meta object holding everything needed to locate and filter keys
without touching the data object.

The data object looks like:

	<start_of_object>
	[data block 0]
	[data block 1]
	...
	[data block N-1]
	<end_of_object>

Each block consists of some data and a 5 byte trailer: a 1 byte compression
algorithm and a 4 byte checksum. The checksum is the low 32 bits of the
xxhash64 of the compressed data followed by the compression byte. Each block
is compressed independently.

The decompressed block data consists of a sequence of key/value entries
followed by a trailer. Each key is an encoded versioned key (see
base.EncodeVersionedKey) and each value a tagged value (see base.EncodeValue).
Keys are encoded as a shared prefix length and a remainder string. For
example, if two adjacent keys are "tweedledee" and "tweedledum", then the
second key would be encoded as {8, "um"}. The shared prefix length, the
remainder length and the value length are varint encoded, followed by the
literal contents of the remainder and the value.

Every block has a restart interval I. Every I'th key/value entry in that block
is called a restart point, and shares no key prefix with the previous entry.
If a block has P restart points, then the block trailer consists of (P+1)*4
bytes: (P+1) little-endian uint32 values. The first P of these uint32 values
are the block offsets of each restart point. The final uint32 value is P
itself. Thus, when seeking for a particular key, one can use binary search to
find the largest restart point whose key is <= the key sought.

The meta object looks like:

	<start_of_object>
	[format version: 1 byte]
	[block count: uvarint]
	[block index: per block offset, length, uncompressed length and first key]
	[bloom filter]
	[smallest key, largest key]
	[min epoch, max epoch, key count, tombstone count, data size]
	[comparer name]
	[checksum: 4 bytes][magic: 4 bytes]
	<end_of_object>

Variable length fields are prefixed with their uvarint length. The checksum
covers every preceding byte of the meta object.
*/
package sstable // import "github.com/cockroachdb/hummock/sstable"

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/hummock/internal/base"
)

const (
	blockTrailerLen = 5

	metaFormatVersion = 1
	metaFooterLen     = 8
	// metaMagic is "HMST" in little-endian byte order.
	metaMagic uint32 = 0x54534d48
)

// DataObjectName returns the object store path of a table's data object.
func DataObjectName(id uint64) string {
	return fmt.Sprintf("%d.data", id)
}

// MetaObjectName returns the object store path of a table's meta object.
func MetaObjectName(id uint64) string {
	return fmt.Sprintf("%d.meta", id)
}

// ParseObjectName parses a data or meta object name, returning the table id
// and whether the name is a meta object. It returns ok=false for names that
// are not table objects.
func ParseObjectName(name string) (id uint64, isMeta bool, ok bool) {
	stem, ext, found := strings.Cut(name, ".")
	if !found || (ext != "data" && ext != "meta") {
		return 0, false, false
	}
	id, err := strconv.ParseUint(stem, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return id, ext == "meta", true
}

// Table is a sealed sstable: its id and its decoded meta object.
type Table struct {
	ID   uint64
	Meta *Meta
}

// ContainsPossibly returns false if the table's bloom filter proves that the
// table holds no version of userKey. False negatives are impossible; a table
// without a filter may contain anything.
func (t *Table) ContainsPossibly(userKey []byte) bool {
	return t.Meta.MayContain(userKey)
}

// KeyRange returns the inclusive user key bounds of the table.
func (t *Table) KeyRange() (smallest, largest []byte) {
	return t.Meta.SmallestUserKey(), t.Meta.LargestUserKey()
}

// BlockCount returns the number of data blocks in the table.
func (t *Table) BlockCount() int {
	return len(t.Meta.Blocks)
}

func (t *Table) String() string {
	s, l := t.KeyRange()
	return fmt.Sprintf("%d:[%s-%s]", t.ID, base.FormatBytes(s), base.FormatBytes(l))
}

// FilterTables returns the subset of tables whose bloom filter does not prove
// the absence of userKey, preserving their order. It never drops a table
// that contains userKey.
func FilterTables(tables []*Table, userKey []byte) []*Table {
	var out []*Table
	for _, t := range tables {
		if t.ContainsPossibly(userKey) {
			out = append(out, t)
		}
	}
	return out
}
