// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/golang/snappy"
	"github.com/minio/minlz"
)

// checkDecoded verifies that a codec wrote the whole block into buf rather
// than into a buffer of its own. A length disagreement means the block's
// length header lied.
func checkDecoded(a Algorithm, result, buf []byte) error {
	if len(result) == len(buf) && (len(buf) == 0 || &result[0] == &buf[0]) {
		return nil
	}
	return base.CorruptionErrorf("hummock: %s block decoded to %d bytes, expected %d",
		errors.Safe(a), errors.Safe(len(result)), errors.Safe(len(buf)))
}

// Uncompressed blocks.

type noopCompressor struct{}

var _ Compressor = noopCompressor{}

func (noopCompressor) Algorithm() Algorithm { return NoCompression }
func (noopCompressor) Compress(dst, src []byte) []byte { return append(dst[:0], src...) }
func (noopCompressor) Close() {}

type noopDecompressor struct{}

var _ Decompressor = noopDecompressor{}

func (noopDecompressor) DecompressInto(buf, compressed []byte) error {
	if len(buf) != len(compressed) {
		return checkDecoded(NoCompression, compressed, buf)
	}
	copy(buf, compressed)
	return nil
}

func (noopDecompressor) DecompressedLen(b []byte) (int, error) { return len(b), nil }
func (noopDecompressor) Close() {}

// Snappy blocks carry their decoded length in the snappy header, so the
// decompressor needs no framing of its own.

type snappyCompressor struct{}

var _ Compressor = snappyCompressor{}

func (snappyCompressor) Algorithm() Algorithm { return Snappy }

func (snappyCompressor) Compress(dst, src []byte) []byte {
	// snappy.Encode only reuses dst when its length suffices.
	return snappy.Encode(dst[:cap(dst)], src)
}

func (snappyCompressor) Close() {}

type snappyDecompressor struct{}

var _ Decompressor = snappyDecompressor{}

func (snappyDecompressor) DecompressInto(buf, compressed []byte) error {
	result, err := snappy.Decode(buf, compressed)
	if err != nil {
		return err
	}
	return checkDecoded(Snappy, result, buf)
}

func (snappyDecompressor) DecompressedLen(b []byte) (int, error) { return snappy.DecodedLen(b) }
func (snappyDecompressor) Close() {}

// MinLZ blocks. The format decodes snappy blocks too, which lets oversized
// inputs fall back to snappy while still being tagged MinLZ.

// minlzLevel is the MinLZ level used for sstable blocks.
const minlzLevel = minlz.LevelBalanced

type minlzCompressor struct {
	level int
}

var _ Compressor = minlzCompressor{}

func (minlzCompressor) Algorithm() Algorithm { return MinLZ }

func (c minlzCompressor) Compress(dst, src []byte) []byte {
	if len(src) > minlz.MaxBlockSize {
		return snappyCompressor{}.Compress(dst, src)
	}
	out, err := minlz.Encode(dst, src, c.level)
	if err != nil {
		// Encode fails only for invalid levels or oversized blocks.
		panic(errors.Wrapf(err, "hummock: minlz level %d", c.level))
	}
	return out
}

func (minlzCompressor) Close() {}

type minlzDecompressor struct{}

var _ Decompressor = minlzDecompressor{}

func (minlzDecompressor) DecompressInto(buf, compressed []byte) error {
	result, err := minlz.Decode(buf, compressed)
	if err != nil {
		return err
	}
	return checkDecoded(MinLZ, result, buf)
}

func (minlzDecompressor) DecompressedLen(b []byte) (int, error) { return minlz.DecodedLen(b) }
func (minlzDecompressor) Close() {}
