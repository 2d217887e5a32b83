// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package compression implements the block compression codecs used by
// sstables.
package compression

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// Algorithm identifies a compression codec. The value is persisted in every
// block trailer and must not change.
type Algorithm uint8

const (
	NoCompression Algorithm = iota
	Snappy
	Zstd
	MinLZ
	numAlgorithms
)

var algorithmNames = [numAlgorithms]string{
	NoCompression: "none",
	Snappy:        "snappy",
	Zstd:          "zstd",
	MinLZ:         "minlz",
}

func (a Algorithm) String() string {
	if a < numAlgorithms {
		return algorithmNames[a]
	}
	return fmt.Sprintf("Algorithm(%d)", uint8(a))
}

// ParseAlgorithm parses the name of a compression algorithm, as produced by
// Algorithm.String.
func ParseAlgorithm(s string) (Algorithm, error) {
	for i, n := range algorithmNames {
		if strings.EqualFold(s, n) {
			return Algorithm(i), nil
		}
	}
	return 0, errors.Newf("unknown compression algorithm %q", s)
}

// Compressor compresses blocks with a single algorithm.
type Compressor interface {
	Algorithm() Algorithm
	// Compress a block, appending the compressed data to dst[:0].
	Compress(dst, src []byte) []byte
	// Close must be called when the Compressor is no longer needed.
	// After Close is called, the Compressor must not be used again.
	Close()
}

// Decompressor decompresses blocks written by the Compressor of the same
// algorithm.
type Decompressor interface {
	// DecompressInto decompresses compressed into buf. The buf slice must have
	// the exact size as the decompressed value.
	DecompressInto(buf, compressed []byte) error
	// DecompressedLen returns the length of the provided block once
	// decompressed.
	DecompressedLen(b []byte) (decompressedLen int, err error)
	// Close must be called when the Decompressor is no longer needed.
	Close()
}

// zstdLevel is the zstd level used for sstable blocks.
const zstdLevel = 3

// GetCompressor returns a Compressor for the given algorithm.
func GetCompressor(a Algorithm) Compressor {
	switch a {
	case NoCompression:
		return noopCompressor{}
	case Snappy:
		return snappyCompressor{}
	case Zstd:
		return getZstdCompressor(zstdLevel)
	case MinLZ:
		return minlzCompressor{level: minlzLevel}
	default:
		panic(errors.AssertionFailedf("invalid compression algorithm %d", a))
	}
}

// GetDecompressor returns a Decompressor for the given algorithm.
func GetDecompressor(a Algorithm) (Decompressor, error) {
	switch a {
	case NoCompression:
		return noopDecompressor{}, nil
	case Snappy:
		return snappyDecompressor{}, nil
	case Zstd:
		return zstdDecompressor{}, nil
	case MinLZ:
		return minlzDecompressor{}, nil
	default:
		return nil, base.CorruptionErrorf("hummock: unknown block compression: %d", errors.Safe(a))
	}
}

// Decompress decompresses a block compressed with algorithm a into a newly
// allocated buffer. When a is NoCompression, b is returned as-is.
func Decompress(a Algorithm, b []byte) ([]byte, error) {
	if a == NoCompression {
		return b, nil
	}
	d, err := GetDecompressor(a)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	n, err := d.DecompressedLen(b)
	if err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	buf := make([]byte, n)
	if err := d.DecompressInto(buf, b); err != nil {
		return nil, base.MarkCorruptionError(err)
	}
	return buf, nil
}
