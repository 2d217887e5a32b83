// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/klauspost/compress/zstd"
)

type zstdCompressor zstd.Encoder

var _ Compressor = (*zstdCompressor)(nil)

func getZstdCompressor(level int) *zstdCompressor {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		panic(errors.Wrap(err, "zstd encoder"))
	}
	return (*zstdCompressor)(enc)
}

func (z *zstdCompressor) Algorithm() Algorithm { return Zstd }

// Compress prefixes the payload with a varint encoding the length of the
// decompressed block.
func (z *zstdCompressor) Compress(compressedBuf, b []byte) []byte {
	compressedBuf = compressedBuf[:0]
	compressedBuf = binary.AppendUvarint(compressedBuf, uint64(len(b)))
	return (*zstd.Encoder)(z).EncodeAll(b, compressedBuf)
}

func (z *zstdCompressor) Close() {
	if err := (*zstd.Encoder)(z).Close(); err != nil {
		panic(err)
	}
}

type zstdDecompressor struct{}

var _ Decompressor = zstdDecompressor{}

func (zstdDecompressor) DecompressInto(dst, src []byte) error {
	_, prefixLen := binary.Uvarint(src)
	if prefixLen <= 0 {
		return base.CorruptionErrorf("hummock: compression block has invalid length")
	}
	src = src[prefixLen:]
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer decoder.Close()
	result, err := decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return err
	}
	return checkDecoded(Zstd, result, dst)
}

func (zstdDecompressor) DecompressedLen(b []byte) (decompressedLen int, err error) {
	decodedLenU64, varIntLen := binary.Uvarint(b)
	if varIntLen <= 0 {
		return 0, base.CorruptionErrorf("hummock: compression block has invalid length")
	}
	return int(decodedLenU64), nil
}

func (zstdDecompressor) Close() {}
