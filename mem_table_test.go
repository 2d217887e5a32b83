// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func formatKVs(kvs []base.InternalKV) string {
	var parts []string
	for i := range kvs {
		parts = append(parts, kvs[i].String())
	}
	return strings.Join(parts, " ")
}

func TestMemTable(t *testing.T) {
	m := newMemTable(DefaultComparer)
	require.True(t, m.empty())

	var b Batch
	b.Set([]byte("b"), []byte("b3"))
	b.Set([]byte("a"), []byte("a3"))
	require.NoError(t, m.apply(3, &b))
	b.Reset()
	b.Delete([]byte("b"))
	b.Set([]byte("c"), []byte("c5"))
	require.NoError(t, m.apply(5, &b))
	b.Reset()
	b.Set([]byte("b"), []byte("b4"))
	require.NoError(t, m.apply(4, &b))
	require.Equal(t, int64(5), m.count.Load())

	kv, ok := m.get([]byte("b"), 4)
	require.True(t, ok)
	require.Equal(t, "b@4.SET:b4", kv.String())
	kv, ok = m.get([]byte("b"), 9)
	require.True(t, ok)
	require.Equal(t, "b@5.DEL", kv.String())
	_, ok = m.get([]byte("b"), 2)
	require.False(t, ok)
	_, ok = m.get([]byte("d"), 9)
	require.False(t, ok)

	// Versions are ordered by user key, newest first.
	require.Equal(t, "a@3.SET:a3 b@5.DEL b@4.SET:b4 b@3.SET:b3 c@5.SET:c5",
		formatKVs(m.snapshot(base.FullKeyRange(), base.EpochMax)))
	require.Equal(t, "b@4.SET:b4 b@3.SET:b3",
		formatKVs(m.snapshot(base.ParseKeyRange("(a, c)"), 4)))
	require.Equal(t, "a@3.SET:a3 b@3.SET:b3", formatKVs(m.collect(3)))

	// Rewriting a versioned key replaces it.
	b.Reset()
	b.Set([]byte("a"), []byte("a3-new"))
	require.NoError(t, m.apply(3, &b))
	require.Equal(t, int64(5), m.count.Load())

	size := m.inuseBytes()
	m.removeThrough(4)
	require.Less(t, m.inuseBytes(), size)
	require.Equal(t, int64(2), m.count.Load())
	require.Equal(t, "b@5.DEL c@5.SET:c5", formatKVs(m.collect(base.EpochMax)))
	m.removeThrough(5)
	require.True(t, m.empty())
	require.Zero(t, m.inuseBytes())
}

func TestMemTableConcurrent(t *testing.T) {
	m := newMemTable(DefaultComparer)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				var b Batch
				b.Set(fmt.Appendf(nil, "key-%03d", i), fmt.Appendf(nil, "%d", w))
				if err := m.apply(Epoch(w+1), &b); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, int64(800), m.count.Load())
	kvs := m.collect(base.EpochMax)
	require.Len(t, kvs, 800)
	for i := 1; i < len(kvs); i++ {
		require.Negative(t, base.InternalCompare(DefaultComparer.Compare, kvs[i-1].K, kvs[i].K))
	}
	kv, ok := m.get([]byte("key-042"), 5)
	require.True(t, ok)
	require.Equal(t, "4", string(kv.V))
}
