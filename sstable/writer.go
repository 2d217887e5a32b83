// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/bloom"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/compression"
)

// WriterOptions holds the parameters used to build a table.
type WriterOptions struct {
	// BlockRestartInterval is the number of keys between restart points
	// for delta encoding of keys.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each data block.
	//
	// The default value is 4096.
	BlockSize int

	// BloomBitsPerKey is the number of bloom filter bits per user key.
	//
	// The default value is 10.
	BloomBitsPerKey int

	// Comparer defines a total ordering over the space of user keys.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// Compression defines the per-block compression to use.
	//
	// The zero value disables compression.
	Compression compression.Algorithm

	// DisableBloom disables the bloom filter regardless of BloomBitsPerKey.
	DisableBloom bool
}

// EnsureDefaults ensures that the default values for all of the options have
// been initialized.
func (o WriterOptions) EnsureDefaults() WriterOptions {
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BloomBitsPerKey == 0 && !o.DisableBloom {
		o.BloomBitsPerKey = 10
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	return o
}

// Writer builds a table in memory. Keys must be added in strictly increasing
// InternalCompare order. A Writer is not safe for concurrent use.
type Writer struct {
	opts       WriterOptions
	compressor compression.Compressor
	block      blockWriter
	filter     *bloom.FilterWriter

	data     []byte
	meta     Meta
	blockKey []byte
	lastKey  []byte
	keyBuf   []byte
	valueBuf []byte
	finished bool
	err      error
}

// NewWriter returns a new table writer.
func NewWriter(o WriterOptions) *Writer {
	o = o.EnsureDefaults()
	w := &Writer{
		opts:       o,
		compressor: compression.GetCompressor(o.Compression),
		block:      blockWriter{restartInterval: o.BlockRestartInterval},
	}
	if !o.DisableBloom && o.BloomBitsPerKey > 0 {
		w.filter = bloom.NewFilterWriter(uint32(o.BloomBitsPerKey))
	}
	w.meta.MinEpoch = base.EpochMax
	w.meta.ComparerName = o.Comparer.Name
	return w
}

// Add adds a versioned key and its value to the table. For a tombstone the
// value is ignored.
func (w *Writer) Add(key base.InternalKey, kind base.InternalKeyKind, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.finished {
		return errors.AssertionFailedf("hummock: Add called on a finished writer")
	}
	if kind > base.InternalKeyKindMax {
		w.err = errors.AssertionFailedf("hummock: invalid key kind %s", kind)
		return w.err
	}
	w.keyBuf = key.Encode(w.keyBuf[:0])
	if w.meta.KeyCount > 0 && base.CompareEncoded(w.opts.Comparer.Compare, w.lastKey, w.keyBuf) >= 0 {
		prev, _ := base.DecodeVersionedKey(w.lastKey)
		w.err = errors.AssertionFailedf("hummock: keys must be added in strictly increasing order: %s, %s",
			prev.Pretty(w.opts.Comparer.FormatKey), key.Pretty(w.opts.Comparer.FormatKey))
		return w.err
	}

	if w.block.nEntries == 0 {
		w.blockKey = append(w.blockKey[:0], w.keyBuf...)
	}
	w.valueBuf = base.EncodeValue(w.valueBuf[:0], kind, value)
	w.block.add(w.keyBuf, w.valueBuf)

	if w.filter != nil && (w.meta.KeyCount == 0 ||
		!w.opts.Comparer.Equal(w.lastKey[:len(w.lastKey)-base.EpochSuffixLen], key.UserKey)) {
		w.filter.AddKey(key.UserKey)
	}
	if w.meta.KeyCount == 0 {
		w.meta.SmallestKey = append([]byte(nil), w.keyBuf...)
	}
	w.lastKey = append(w.lastKey[:0], w.keyBuf...)
	w.meta.KeyCount++
	if kind == base.InternalKeyKindDelete {
		w.meta.TombstoneCount++
	}
	w.meta.MinEpoch = min(w.meta.MinEpoch, key.Epoch)
	w.meta.MaxEpoch = max(w.meta.MaxEpoch, key.Epoch)

	if w.block.estimatedSize() >= w.opts.BlockSize {
		w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() {
	if w.block.nEntries == 0 {
		return
	}
	raw := w.block.finish()
	offset := uint64(len(w.data))
	w.data = sealBlock(w.data, w.compressor, raw)
	w.meta.Blocks = append(w.meta.Blocks, BlockMeta{
		BlockHandle:     BlockHandle{Offset: offset, Length: uint64(len(w.data)) - offset},
		UncompressedLen: uint64(len(raw)),
		FirstKey:        append([]byte(nil), w.blockKey...),
	})
	w.block.reset()
}

// EstimatedSize returns the estimated size of the table if it were finished
// now.
func (w *Writer) EstimatedSize() uint64 {
	n := uint64(len(w.data))
	if w.block.nEntries > 0 {
		n += uint64(w.block.estimatedSize())
	}
	return n
}

// KeyCount returns the number of entries added so far.
func (w *Writer) KeyCount() uint64 {
	return w.meta.KeyCount
}

// LastUserKey returns the user key of the last entry added, or nil.
func (w *Writer) LastUserKey() []byte {
	if w.meta.KeyCount == 0 {
		return nil
	}
	return w.lastKey[:len(w.lastKey)-base.EpochSuffixLen]
}

// Finish seals the table and returns its data object and meta. A table must
// contain at least one entry. The Writer cannot be reused.
func (w *Writer) Finish() (data []byte, meta *Meta, err error) {
	if w.err != nil {
		return nil, nil, w.err
	}
	if w.finished {
		return nil, nil, errors.AssertionFailedf("hummock: Finish called twice")
	}
	w.finished = true
	defer w.compressor.Close()
	if w.meta.KeyCount == 0 {
		return nil, nil, errors.AssertionFailedf("hummock: cannot finish an empty table")
	}
	w.flushBlock()
	if w.filter != nil {
		w.meta.Bloom = w.filter.Finish()
	}
	w.meta.LargestKey = append([]byte(nil), w.lastKey...)
	w.meta.DataSize = uint64(len(w.data))
	m := w.meta
	return w.data, &m, nil
}

// Abandon releases the resources of a writer that will not be finished. It
// is a no-op after Finish.
func (w *Writer) Abandon() {
	if !w.finished {
		w.finished = true
		w.compressor.Close()
	}
}
