// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package bloom

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFilter(bitsPerKey uint32, keys ...[]byte) []byte {
	w := NewFilterWriter(bitsPerKey)
	for _, key := range keys {
		w.AddKey(key)
	}
	return w.Finish()
}

func TestSmallBloomFilter(t *testing.T) {
	f := newFilter(10, []byte("hello"), []byte("world"))
	require.Len(t, f, cacheLineSize+trailerLen)

	require.True(t, MayContain(f, []byte("hello")))
	require.True(t, MayContain(f, []byte("world")))
}

func TestEmptyFilter(t *testing.T) {
	w := NewFilterWriter(10)
	require.Nil(t, w.Finish())
	require.True(t, MayContain(nil, []byte("anything")))
	require.True(t, MayContain([]byte{1, 2, 3}, []byte("anything")))
}

func TestDuplicateKeys(t *testing.T) {
	w := NewFilterWriter(10)
	for i := 0; i < 5; i++ {
		w.AddKey([]byte("a"))
	}
	w.AddKey([]byte("b"))
	require.Equal(t, 2, w.NumKeys())
}

func TestBloomFilter(t *testing.T) {
	nextLength := func(x int) int {
		if x < 10 {
			return x + 1
		}
		if x < 100 {
			return x + 10
		}
		if x < 1000 {
			return x + 100
		}
		return x + 1000
	}
	le32 := func(i int) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(i))
		return b
	}

	nMediocreFilters, nGoodFilters := 0, 0
loop:
	for length := 1; length <= 10000; length = nextLength(length) {
		keys := make([][]byte, 0, length)
		for i := 0; i < length; i++ {
			keys = append(keys, le32(i))
		}
		f := newFilter(10, keys...)
		// The size of the table bloom filter is measured in multiples of the
		// cache line size. The '+2' contribution captures the rounding up in the
		// length division plus preferring an odd number of cache lines.
		maxLen := trailerLen + ((length*10)/cacheLineBits+2)*cacheLineSize
		if len(f) > maxLen {
			t.Errorf("length=%d: len(f)=%d > max len %d", length, len(f), maxLen)
			continue
		}

		// All added keys must match.
		for _, key := range keys {
			if !MayContain(f, key) {
				t.Errorf("length=%d: did not contain key %q", length, key)
				continue loop
			}
		}

		// Check false positive rate.
		nFalsePositive := 0
		for i := 0; i < 10000; i++ {
			if MayContain(f, le32(1e9+i)) {
				nFalsePositive++
			}
		}
		if nFalsePositive > 0.02*10000 {
			t.Errorf("length=%d: %d false positives in 10000", length, nFalsePositive)
			continue
		}
		if nFalsePositive > 0.0125*10000 {
			nMediocreFilters++
		} else {
			nGoodFilters++
		}
	}

	if nMediocreFilters > nGoodFilters/5 {
		t.Errorf("%d mediocre filters but only %d good filters", nMediocreFilters, nGoodFilters)
	}
}

func TestBitsPerKey(t *testing.T) {
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
	}
	for _, bits := range []uint32{1, 4, 10, 20} {
		f := newFilter(bits, keys...)
		for _, k := range keys {
			require.True(t, MayContain(f, k), "bits=%d key=%s", bits, k)
		}
	}
	require.Panics(t, func() { NewFilterWriter(0) })
}
