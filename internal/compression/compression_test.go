// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func TestCompressionRoundtrip(t *testing.T) {
	defer leaktest.AfterTest(t)()

	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))

	for a := NoCompression; a < numAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			// Half random bytes, half a repeated pattern so that every codec
			// actually has something to compress.
			payload := make([]byte, 1+rng.IntN(10<<10 /* 10 KiB */))
			for i := range payload {
				if i%2 == 0 {
					payload[i] = byte(rng.Uint32())
				} else {
					payload[i] = 'x'
				}
			}
			// Create a randomly-sized buffer to house the compressed output. If it's
			// not sufficient, Compress should allocate one that is.
			compressedBuf := make([]byte, 1+rng.IntN(1<<10 /* 1 KiB */))
			compressor := GetCompressor(a)
			defer compressor.Close()
			require.Equal(t, a, compressor.Algorithm())
			compressed := compressor.Compress(compressedBuf, payload)
			got, err := Decompress(a, compressed)
			require.NoError(t, err)
			require.Equal(t, payload, got)
		})
	}
}

func TestCompressionShrinks(t *testing.T) {
	payload := bytes.Repeat([]byte("hummock"), 1000)
	for _, a := range []Algorithm{Snappy, Zstd, MinLZ} {
		c := GetCompressor(a)
		compressed := c.Compress(nil, payload)
		c.Close()
		require.Less(t, len(compressed), len(payload), "%s", a)
	}
}

// TestDecompressionError tests that a decompressing a value that does not
// decompress returns a corruption error.
func TestDecompressionError(t *testing.T) {
	defer leaktest.AfterTest(t)()
	rng := rand.New(rand.NewPCG(0, 1 /* fixed seed */))

	// Create a buffer to represent a faux zstd compressed block. It's prefixed
	// with a uvarint of the appropriate length, followed by garbage.
	fauxCompressed := make([]byte, 64+rng.IntN(10<<10 /* 10 KiB */))
	compressedPayloadLen := len(fauxCompressed) - binary.MaxVarintLen64
	n := binary.PutUvarint(fauxCompressed, uint64(compressedPayloadLen))
	fauxCompressed = fauxCompressed[:n+compressedPayloadLen]
	for i := range fauxCompressed[n:] {
		fauxCompressed[n+i] = byte(rng.Uint32())
	}

	v, err := Decompress(Zstd, fauxCompressed)
	t.Log(err)
	require.Error(t, err)
	require.True(t, errors.Is(err, base.ErrCorruption))
	require.Nil(t, v)

	_, err = Decompress(Algorithm(42), []byte("x"))
	require.True(t, errors.Is(err, base.ErrCorruption))
}

func TestParseAlgorithm(t *testing.T) {
	for a := NoCompression; a < numAlgorithms; a++ {
		got, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	_, err := ParseAlgorithm("lz4")
	require.Error(t, err)
}

// TestDecompressIntoWrongLength checks that every codec rejects a destination
// whose length disagrees with the block's decoded length.
func TestDecompressIntoWrongLength(t *testing.T) {
	payload := bytes.Repeat([]byte("epoch"), 64)
	for a := NoCompression; a < numAlgorithms; a++ {
		t.Run(a.String(), func(t *testing.T) {
			c := GetCompressor(a)
			compressed := c.Compress(nil, payload)
			c.Close()

			d, err := GetDecompressor(a)
			require.NoError(t, err)
			defer d.Close()
			n, err := d.DecompressedLen(compressed)
			require.NoError(t, err)
			require.Equal(t, len(payload), n)

			require.NoError(t, d.DecompressInto(make([]byte, n), compressed))
			for _, size := range []int{n - 1, n + 1} {
				require.Error(t, d.DecompressInto(make([]byte, size), compressed), "size %d", size)
			}
			err = d.DecompressInto(make([]byte, n+1), compressed)
			if a == NoCompression || a == Zstd {
				require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)
			}
		})
	}
}
