// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/hummock/bloom"
	"github.com/cockroachdb/hummock/internal/base"
)

// BlockHandle is the position of a sealed block within a table's data object.
// Length includes the block trailer.
type BlockHandle struct {
	Offset, Length uint64
}

// BlockMeta describes one data block.
type BlockMeta struct {
	BlockHandle
	// UncompressedLen is the length of the block once decompressed, without
	// its trailer.
	UncompressedLen uint64
	// FirstKey is the encoded versioned key of the first entry in the block.
	FirstKey []byte
}

// Meta is the decoded meta object of a table.
type Meta struct {
	Blocks []BlockMeta
	// Bloom is the bloom filter over the table's user keys. It is empty if the
	// table was written without a filter.
	Bloom []byte
	// SmallestKey and LargestKey are the encoded versioned keys of the first
	// and last entries of the table.
	SmallestKey []byte
	LargestKey  []byte
	MinEpoch    base.Epoch
	MaxEpoch    base.Epoch
	// KeyCount is the number of entries, counting every version of a key.
	KeyCount       uint64
	TombstoneCount uint64
	// DataSize is the size of the data object.
	DataSize uint64
	// ComparerName is the name of the comparer the table was written with.
	ComparerName string
}

// SmallestUserKey returns the smallest user key in the table.
func (m *Meta) SmallestUserKey() []byte {
	return m.SmallestKey[:len(m.SmallestKey)-base.EpochSuffixLen]
}

// LargestUserKey returns the largest user key in the table.
func (m *Meta) LargestUserKey() []byte {
	return m.LargestKey[:len(m.LargestKey)-base.EpochSuffixLen]
}

// MayContain tests the table's bloom filter. A table without a filter may
// contain anything.
func (m *Meta) MayContain(userKey []byte) bool {
	if len(m.Bloom) == 0 {
		return true
	}
	return bloom.MayContain(m.Bloom, userKey)
}

// Size returns the total size of the table: its data object plus its bloom
// filter and index.
func (m *Meta) Size() uint64 {
	return m.DataSize + m.EncodedSize()
}

// EncodedSize returns the length of the encoded meta object.
func (m *Meta) EncodedSize() uint64 {
	return uint64(len(m.Encode(nil)))
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// Encode appends the encoded meta object to dst.
func (m *Meta) Encode(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, metaFormatVersion)
	dst = binary.AppendUvarint(dst, uint64(len(m.Blocks)))
	for i := range m.Blocks {
		b := &m.Blocks[i]
		dst = binary.AppendUvarint(dst, b.Offset)
		dst = binary.AppendUvarint(dst, b.Length)
		dst = binary.AppendUvarint(dst, b.UncompressedLen)
		dst = appendBytes(dst, b.FirstKey)
	}
	dst = appendBytes(dst, m.Bloom)
	dst = appendBytes(dst, m.SmallestKey)
	dst = appendBytes(dst, m.LargestKey)
	dst = binary.AppendUvarint(dst, uint64(m.MinEpoch))
	dst = binary.AppendUvarint(dst, uint64(m.MaxEpoch))
	dst = binary.AppendUvarint(dst, m.KeyCount)
	dst = binary.AppendUvarint(dst, m.TombstoneCount)
	dst = binary.AppendUvarint(dst, m.DataSize)
	dst = appendBytes(dst, []byte(m.ComparerName))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(xxhash.Sum64(dst[start:])))
	return binary.LittleEndian.AppendUint32(dst, metaMagic)
}

type metaDecoder struct {
	buf []byte
	err error
}

func (d *metaDecoder) uvarint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = base.CorruptionErrorf("hummock/table: invalid meta: truncated %s", field)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *metaDecoder) bytes(field string) []byte {
	n := d.uvarint(field)
	if d.err != nil {
		return nil
	}
	if uint64(len(d.buf)) < n {
		d.err = base.CorruptionErrorf("hummock/table: invalid meta: truncated %s", field)
		return nil
	}
	b := d.buf[:n:n]
	d.buf = d.buf[n:]
	return b
}

// DecodeMeta decodes a meta object. A bad magic number, a checksum mismatch
// or a truncated field is reported as a corruption error. The returned Meta
// aliases data.
func DecodeMeta(data []byte) (*Meta, error) {
	if len(data) < metaFooterLen+1 {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta (object too short)")
	}
	footer := data[len(data)-metaFooterLen:]
	if magic := binary.LittleEndian.Uint32(footer[4:]); magic != metaMagic {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta (bad magic number 0x%x)", magic)
	}
	body := data[:len(data)-metaFooterLen]
	want := binary.LittleEndian.Uint32(footer[:4])
	if got := uint32(xxhash.Sum64(body)); got != want {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta (checksum mismatch %08x != %08x)", got, want)
	}
	if body[0] != metaFormatVersion {
		return nil, base.CorruptionErrorf("hummock/table: unsupported meta format version %d", body[0])
	}
	d := metaDecoder{buf: body[1:]}
	m := &Meta{}
	n := d.uvarint("block count")
	if d.err == nil && n > uint64(len(d.buf)) {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta: %d blocks in %d bytes", n, len(d.buf))
	}
	m.Blocks = make([]BlockMeta, n)
	for i := range m.Blocks {
		b := &m.Blocks[i]
		b.Offset = d.uvarint("block offset")
		b.Length = d.uvarint("block length")
		b.UncompressedLen = d.uvarint("block length")
		b.FirstKey = d.bytes("block first key")
	}
	m.Bloom = d.bytes("bloom filter")
	m.SmallestKey = d.bytes("smallest key")
	m.LargestKey = d.bytes("largest key")
	m.MinEpoch = base.Epoch(d.uvarint("min epoch"))
	m.MaxEpoch = base.Epoch(d.uvarint("max epoch"))
	m.KeyCount = d.uvarint("key count")
	m.TombstoneCount = d.uvarint("tombstone count")
	m.DataSize = d.uvarint("data size")
	m.ComparerName = string(d.bytes("comparer name"))
	if d.err != nil {
		return nil, d.err
	}
	if len(d.buf) != 0 {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta: %d trailing bytes", len(d.buf))
	}
	if len(m.SmallestKey) < base.EpochSuffixLen || len(m.LargestKey) < base.EpochSuffixLen {
		return nil, base.CorruptionErrorf("hummock/table: invalid meta: malformed bounds")
	}
	for i := range m.Blocks {
		if len(m.Blocks[i].FirstKey) < base.EpochSuffixLen {
			return nil, base.CorruptionErrorf("hummock/table: invalid meta: malformed first key of block %d", i)
		}
	}
	return m, nil
}

func (m *Meta) String() string {
	var buf strings.Builder
	smallest, _ := base.DecodeVersionedKey(m.SmallestKey)
	largest, _ := base.DecodeVersionedKey(m.LargestKey)
	fmt.Fprintf(&buf, "bounds:    [%s, %s]\n", smallest, largest)
	fmt.Fprintf(&buf, "epochs:    [%s, %s]\n", m.MinEpoch, m.MaxEpoch)
	fmt.Fprintf(&buf, "keys:      %d (%d tombstones)\n", m.KeyCount, m.TombstoneCount)
	fmt.Fprintf(&buf, "blocks:    %d\n", len(m.Blocks))
	fmt.Fprintf(&buf, "data size: %d\n", m.DataSize)
	fmt.Fprintf(&buf, "bloom:     %d bytes\n", len(m.Bloom))
	return buf.String()
}
