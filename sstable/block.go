// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/compression"
)

type blockWriter struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	curKey          []byte
	prevKey         []byte
	tmp             [50]byte
}

func (w *blockWriter) store(value []byte) {
	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = base.SharedPrefixLen(w.curKey, w.prevKey)
	}

	n := binary.PutUvarint(w.tmp[0:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(w.curKey)-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, w.curKey[shared:]...)
	w.buf = append(w.buf, value...)

	w.nEntries++
}

// add appends an entry. The encoded key must sort after every key previously
// added to the block.
func (w *blockWriter) add(encodedKey, value []byte) {
	w.curKey, w.prevKey = w.prevKey, w.curKey
	w.curKey = append(w.curKey[:0], encodedKey...)
	w.store(value)
}

func (w *blockWriter) finish() []byte {
	// Write the restart points to the buffer.
	if w.nEntries == 0 {
		// Every block must have at least one restart point.
		w.restarts = append(w.restarts[:0], 0)
	}
	tmp4 := w.tmp[:4]
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp4, x)
		w.buf = append(w.buf, tmp4...)
	}
	binary.LittleEndian.PutUint32(tmp4, uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp4...)
	return w.buf
}

func (w *blockWriter) reset() {
	w.nEntries = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
	w.curKey = w.curKey[:0]
	w.prevKey = w.prevKey[:0]
}

func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

// sealBlock compresses a finished block and appends it with its trailer to
// dst.
func sealBlock(dst []byte, c compression.Compressor, block []byte) []byte {
	start := len(dst)
	compressed := c.Compress(nil, block)
	algo := c.Algorithm()
	if len(compressed) >= len(block)-len(block)/8 {
		// Not worth it.
		compressed, algo = block, compression.NoCompression
	}
	dst = append(dst, compressed...)
	dst = append(dst, byte(algo))
	checksum := uint32(xxhash.Sum64(dst[start:]))
	return binary.LittleEndian.AppendUint32(dst, checksum)
}

// DecodeBlock verifies the trailer of a sealed block and returns the
// decompressed block contents. A checksum mismatch or an unknown compression
// algorithm is a corruption error.
func DecodeBlock(sealed []byte) ([]byte, error) {
	if len(sealed) < blockTrailerLen {
		return nil, base.CorruptionErrorf("hummock/table: block too short: %d bytes", len(sealed))
	}
	n := len(sealed) - 4
	want := binary.LittleEndian.Uint32(sealed[n:])
	if got := uint32(xxhash.Sum64(sealed[:n])); got != want {
		return nil, base.CorruptionErrorf("hummock/table: block checksum mismatch: %08x != %08x", got, want)
	}
	algo := compression.Algorithm(sealed[n-1])
	return compression.Decompress(algo, sealed[:n-1])
}

// blockIter is an iterator over a single decompressed data block.
//
// The key and value slices of the returned KV point into the block or into
// the iterator's key buffer and are invalidated by the next positioning call.
type blockIter struct {
	cmp base.Compare
	// offset is the byte index that marks where the current key/value is
	// encoded in the block.
	offset int
	// nextOffset is the byte index where the next key/value is encoded in the
	// block.
	nextOffset int
	// All restart offsets are listed in increasing order in
	// data[restarts:len(data)-4], while numRestarts is encoded in the last
	// 4 bytes of the block as a uint32. restarts can therefore be seen as the
	// point where data in the block ends, and a list of offsets of all restart
	// points begins.
	restarts    int
	numRestarts int
	data        []byte
	// key is a buffer used for key prefix decompression.
	key []byte
	val []byte
	kv  base.InternalKV
	err error
}

func (i *blockIter) init(cmp base.Compare, block []byte) error {
	if len(block) < 4 {
		return base.CorruptionErrorf("hummock/table: invalid table (block too short)")
	}
	numRestarts := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	restarts := len(block) - 4*(1+numRestarts)
	if numRestarts == 0 || restarts < 0 {
		return base.CorruptionErrorf("hummock/table: invalid table (block has %d restart points)", numRestarts)
	}
	*i = blockIter{
		cmp:         cmp,
		restarts:    restarts,
		numRestarts: numRestarts,
		data:        block,
		key:         i.key[:0],
	}
	i.offset = restarts
	return nil
}

func (i *blockIter) restartOffset(j int) int {
	return int(binary.LittleEndian.Uint32(i.data[i.restarts+4*j:]))
}

// readEntry decodes the entry at i.offset into i.key and i.val. It returns
// false if the offset is past the last entry or the entry is malformed.
func (i *blockIter) readEntry() bool {
	if i.offset >= i.restarts {
		return false
	}
	p := i.offset
	shared, n := binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 {
		return i.corrupt()
	}
	p += n
	unshared, n := binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 {
		return i.corrupt()
	}
	p += n
	valueLen, n := binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 {
		return i.corrupt()
	}
	p += n
	if shared > uint64(len(i.key)) || uint64(i.restarts-p) < unshared+valueLen {
		return i.corrupt()
	}
	i.key = append(i.key[:shared], i.data[p:p+int(unshared)]...)
	p += int(unshared)
	i.val = i.data[p : p+int(valueLen)]
	i.nextOffset = p + int(valueLen)
	return true
}

func (i *blockIter) corrupt() bool {
	if i.err == nil {
		i.err = base.CorruptionErrorf("hummock/table: malformed block entry at offset %d", errors.Safe(i.offset))
	}
	i.offset = i.restarts
	return false
}

// decode materializes the current entry into i.kv.
func (i *blockIter) decode() *base.InternalKV {
	k, err := base.DecodeVersionedKey(i.key)
	if err != nil {
		i.err = err
		i.offset = i.restarts
		return nil
	}
	kind, v, err := base.DecodeValue(i.val)
	if err != nil {
		i.err = err
		i.offset = i.restarts
		return nil
	}
	i.kv = base.InternalKV{K: k, Kind: kind, V: v}
	return &i.kv
}

// seekRestart positions the iterator at restart point j.
func (i *blockIter) seekRestart(j int) bool {
	i.offset = i.restartOffset(j)
	i.key = i.key[:0]
	return i.readEntry()
}

// restartKey returns the full encoded key stored at restart point j.
func (i *blockIter) restartKey(j int) []byte {
	p := i.restartOffset(j)
	// A restart point shares no prefix, so the first varint is zero.
	_, n := binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 {
		return nil
	}
	p += n
	unshared, n := binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 {
		return nil
	}
	p += n
	_, n = binary.Uvarint(i.data[p:i.restarts])
	if n <= 0 || uint64(i.restarts-p-n) < unshared {
		return nil
	}
	p += n
	return i.data[p : p+int(unshared)]
}

func (i *blockIter) compareRestart(j int, target []byte) int {
	k := i.restartKey(j)
	if len(k) < base.EpochSuffixLen {
		i.corrupt()
		return 0
	}
	return base.CompareEncoded(i.cmp, k, target)
}

// SeekGE moves the iterator to the first entry whose key is >= target.
func (i *blockIter) SeekGE(target []byte) *base.InternalKV {
	// Find the index of the smallest restart point whose key is > the key
	// sought; index will be numRestarts if there is no such restart point.
	index := sort.Search(i.numRestarts, func(j int) bool {
		return i.compareRestart(j, target) > 0
	})
	if i.err != nil {
		return nil
	}
	// index is the first restart point with key > target. The previous restart
	// point is the last one with key <= target, where the scan starts.
	if index > 0 {
		index--
	}
	if !i.seekRestart(index) {
		return nil
	}
	for base.CompareEncoded(i.cmp, i.key, target) < 0 {
		if !i.next() {
			return nil
		}
	}
	return i.decode()
}

// SeekLT moves the iterator to the last entry whose key is < target.
func (i *blockIter) SeekLT(target []byte) *base.InternalKV {
	// Find the index of the smallest restart point whose key is >= the key
	// sought.
	index := sort.Search(i.numRestarts, func(j int) bool {
		return i.compareRestart(j, target) >= 0
	})
	if i.err != nil || index == 0 {
		i.offset = i.restarts
		return nil
	}
	if !i.seekRestart(index - 1) {
		return nil
	}
	// The restart key is < target. Scan forward for the last such entry.
	for {
		prev := i.offset
		if !i.next() || base.CompareEncoded(i.cmp, i.key, target) >= 0 {
			if i.err != nil {
				return nil
			}
			return i.seekOffset(prev)
		}
	}
}

// next advances to the following entry without decoding it.
func (i *blockIter) next() bool {
	i.offset = i.nextOffset
	return i.readEntry()
}

// seekOffset positions the iterator at the entry starting at offset, which
// must be the start of an entry.
func (i *blockIter) seekOffset(offset int) *base.InternalKV {
	// The largest restart point <= offset.
	j := sort.Search(i.numRestarts, func(j int) bool {
		return i.restartOffset(j) > offset
	}) - 1
	if j < 0 || !i.seekRestart(j) {
		return nil
	}
	for i.offset < offset {
		if !i.next() {
			return nil
		}
	}
	return i.decode()
}

// First moves the iterator to the first entry in the block.
func (i *blockIter) First() *base.InternalKV {
	if !i.seekRestart(0) {
		return nil
	}
	return i.decode()
}

// Last moves the iterator to the last entry in the block.
func (i *blockIter) Last() *base.InternalKV {
	if !i.seekRestart(i.numRestarts - 1) {
		return nil
	}
	for i.nextOffset < i.restarts {
		if !i.next() {
			return nil
		}
	}
	return i.decode()
}

// Next moves the iterator to the next entry in the block.
func (i *blockIter) Next() *base.InternalKV {
	if i.offset >= i.restarts || !i.next() {
		i.offset = i.restarts
		return nil
	}
	return i.decode()
}

// Prev moves the iterator to the previous entry in the block. Since keys are
// prefix compressed, Prev rescans forward from the closest preceding restart
// point.
func (i *blockIter) Prev() *base.InternalKV {
	cur := i.offset
	if cur == 0 || cur > i.restarts {
		i.offset = i.restarts
		return nil
	}
	// Find the last restart point strictly before the current entry.
	j := sort.Search(i.numRestarts, func(j int) bool {
		return i.restartOffset(j) >= cur
	}) - 1
	if j < 0 || !i.seekRestart(j) {
		i.offset = i.restarts
		return nil
	}
	for i.nextOffset < cur {
		if !i.next() {
			return nil
		}
	}
	return i.decode()
}

// Error returns any accumulated error.
func (i *blockIter) Error() error {
	return i.err
}
