// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	var b Batch
	require.True(t, b.Empty())
	require.Zero(t, b.Count())

	b.Set([]byte("k1"), []byte("v1"))
	b.Delete([]byte("k2"))
	b.Set([]byte("k3"), nil)
	require.Equal(t, uint32(3), b.Count())

	type entry struct {
		kind       base.InternalKeyKind
		key, value string
	}
	read := func(b *Batch) []entry {
		var res []entry
		r := b.Reader()
		for {
			kind, k, v, ok, err := r.Next()
			require.NoError(t, err)
			if !ok {
				return res
			}
			res = append(res, entry{kind, string(k), string(v)})
		}
	}
	want := []entry{
		{base.InternalKeyKindSet, "k1", "v1"},
		{base.InternalKeyKindDelete, "k2", ""},
		{base.InternalKeyKindSet, "k3", ""},
	}
	require.Equal(t, want, read(&b))

	var c Batch
	require.NoError(t, c.SetRepr(append([]byte(nil), b.Repr()...)))
	require.Equal(t, want, read(&c))

	b.Reset()
	require.True(t, b.Empty())
	require.Empty(t, read(&b))
}

func TestBatchSetReprCorruption(t *testing.T) {
	var b Batch
	b.Set([]byte("key"), []byte("value"))
	repr := b.Repr()

	var c Batch
	for n := 0; n < len(repr); n++ {
		err := c.SetRepr(repr[:n])
		require.True(t, errors.Is(err, ErrInvalidBatch), "length %d: %v", n, err)
		require.True(t, errors.Is(err, ErrCorruption), "length %d: %v", n, err)
	}
	bad := append([]byte(nil), repr...)
	bad[batchHeaderLen] = 0x7f
	require.True(t, errors.Is(c.SetRepr(bad), ErrInvalidBatch))
	// A header count that disagrees with the records.
	bad = append([]byte(nil), repr...)
	bad[0] = 2
	require.True(t, errors.Is(c.SetRepr(bad), ErrInvalidBatch))
}
