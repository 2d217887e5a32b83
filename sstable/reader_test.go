// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/compression"
	"github.com/stretchr/testify/require"
)

// buildTable builds a table from "<key>@<epoch>.SET:<value>" lines.
func buildTable(t *testing.T, id uint64, opts WriterOptions, input string) (*Table, []byte) {
	w := NewWriter(opts)
	for line := range crstrings.LinesSeq(input) {
		kv := base.ParseInternalKV(line)
		require.NoError(t, w.Add(kv.K, kv.Kind, kv.V))
	}
	data, meta, err := w.Finish()
	require.NoError(t, err)
	return &Table{ID: id, Meta: meta}, data
}

func describeMeta(m *Meta) string {
	smallest, _ := base.DecodeVersionedKey(m.SmallestKey)
	largest, _ := base.DecodeVersionedKey(m.LargestKey)
	return fmt.Sprintf("keys=%d tombstones=%d blocks=%d epochs=[%s, %s] bounds=[%s, %s]\n",
		m.KeyCount, m.TombstoneCount, len(m.Blocks), m.MinEpoch, m.MaxEpoch, smallest, largest)
}

func formatKV(kv *base.InternalKV) string {
	if kv == nil {
		return "."
	}
	return kv.String()
}

func TestTableIter(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	cmp := base.DefaultComparer.Compare

	var table *Table
	reader := MemBlockReader{}
	datadriven.RunTest(t, "testdata/iter", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "build":
			opts := WriterOptions{Compression: compression.NoCompression}
			td.MaybeScanArgs(t, "block-size", &opts.BlockSize)
			td.MaybeScanArgs(t, "restart-interval", &opts.BlockRestartInterval)
			var data []byte
			table, data = buildTable(t, 1, opts, td.Input)
			reader[table.ID] = data

			// Round trip the meta object as the store would.
			meta, err := DecodeMeta(table.Meta.Encode(nil))
			require.NoError(t, err)
			table = &Table{ID: table.ID, Meta: meta}
			return describeMeta(meta)

		case "iter":
			it := NewIter(ctx, cmp, table, reader)
			var buf strings.Builder
			for line := range crstrings.LinesSeq(td.Input) {
				parts := strings.Fields(line)
				var kv *base.InternalKV
				switch parts[0] {
				case "first":
					kv = it.First()
				case "last":
					kv = it.Last()
				case "next":
					kv = it.Next()
				case "prev":
					kv = it.Prev()
				case "seek-ge":
					kv = it.SeekGE(base.ParseInternalKey(parts[1]))
				case "seek-lt":
					kv = it.SeekLT(base.ParseInternalKey(parts[1]))
				default:
					td.Fatalf(t, "unknown op %s", parts[0])
				}
				fmt.Fprintln(&buf, formatKV(kv))
			}
			require.NoError(t, it.Close())
			return buf.String()

		case "get":
			var buf strings.Builder
			for line := range crstrings.LinesSeq(td.Input) {
				parts := strings.Fields(line)
				kv, ok, err := Get(ctx, cmp, table, reader, []byte(parts[0]), base.ParseEpoch(parts[1]))
				require.NoError(t, err)
				if !ok {
					fmt.Fprintln(&buf, "not found")
					continue
				}
				fmt.Fprintln(&buf, kv.String())
			}
			return buf.String()

		default:
			td.Fatalf(t, "unknown command: %s", td.Cmd)
			return ""
		}
	})
}

func TestTableIterRandomized(t *testing.T) {
	defer leaktest.AfterTest(t)()
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))
	ctx := context.Background()
	cmp := base.DefaultComparer.Compare

	for a := compression.NoCompression; a <= compression.MinLZ; a++ {
		t.Run(a.String(), func(t *testing.T) {
			var kvs []base.InternalKV
			for i := 0; i < 500; i++ {
				uk := []byte(fmt.Sprintf("key-%05d", i*3))
				for e := 1 + rng.IntN(4); e > 0; e-- {
					kind := base.InternalKeyKindSet
					if rng.IntN(10) == 0 {
						kind = base.InternalKeyKindDelete
					}
					var v []byte
					if kind == base.InternalKeyKindSet {
						v = bytes.Repeat([]byte{byte('a' + e)}, rng.IntN(40))
					}
					kvs = append(kvs, base.MakeInternalKV(base.MakeInternalKey(uk, base.Epoch(90+e)), kind, v))
				}
			}
			w := NewWriter(WriterOptions{
				BlockSize:            64 + rng.IntN(2048),
				BlockRestartInterval: 1 + rng.IntN(16),
				Compression:          a,
			})
			for _, kv := range kvs {
				require.NoError(t, w.Add(kv.K, kv.Kind, kv.V))
			}
			data, meta, err := w.Finish()
			require.NoError(t, err)
			table := &Table{ID: 7, Meta: meta}
			reader := MemBlockReader{7: data}
			require.Equal(t, uint64(len(kvs)), meta.KeyCount)

			it := NewIter(ctx, cmp, table, reader)
			defer it.Close()
			var i int
			for kv := it.First(); kv != nil; kv = it.Next() {
				require.Equal(t, kvs[i].String(), kv.String())
				i++
			}
			require.NoError(t, it.Error())
			require.Equal(t, len(kvs), i)

			for kv := it.Last(); kv != nil; kv = it.Prev() {
				i--
				require.Equal(t, kvs[i].String(), kv.String())
			}
			require.Zero(t, i)

			for j := 0; j < 200; j++ {
				idx := rng.IntN(len(kvs))
				k := kvs[idx].K
				require.Equal(t, kvs[idx].String(), formatKV(it.SeekGE(k)))
				want := "."
				if idx > 0 {
					want = kvs[idx-1].String()
				}
				require.Equal(t, want, formatKV(it.SeekLT(k)))
			}
			require.NoError(t, it.Error())

			// Every user key passes the bloom filter.
			for _, kv := range kvs {
				require.True(t, table.ContainsPossibly(kv.K.UserKey))
			}
		})
	}
}

func TestWriterErrors(t *testing.T) {
	w := NewWriter(WriterOptions{})
	_, _, err := w.Finish()
	require.Error(t, err)

	w = NewWriter(WriterOptions{})
	require.NoError(t, w.Add(base.ParseInternalKey("b@5"), base.InternalKeyKindSet, nil))
	// Same user key at a higher epoch sorts earlier.
	require.Error(t, w.Add(base.ParseInternalKey("b@6"), base.InternalKeyKindSet, nil))
	// The error is sticky.
	require.Error(t, w.Add(base.ParseInternalKey("c@1"), base.InternalKeyKindSet, nil))
	_, _, err = w.Finish()
	require.Error(t, err)
	w.Abandon()

	w = NewWriter(WriterOptions{})
	require.NoError(t, w.Add(base.ParseInternalKey("b@5"), base.InternalKeyKindSet, nil))
	require.Error(t, w.Add(base.ParseInternalKey("b@5"), base.InternalKeyKindDelete, nil))
	w.Abandon()
}

func TestMetaCorruption(t *testing.T) {
	table, _ := buildTable(t, 1, WriterOptions{}, "a@1.SET:x\nb@2.SET:y")
	enc := table.Meta.Encode(nil)

	m, err := DecodeMeta(enc)
	require.NoError(t, err)
	require.Equal(t, table.Meta.Bloom, m.Bloom)
	require.Equal(t, []byte("a"), m.SmallestUserKey())
	require.Equal(t, []byte("b"), m.LargestUserKey())

	for i := range enc {
		corrupt := slices.Clone(enc)
		corrupt[i] ^= 0x40
		_, err := DecodeMeta(corrupt)
		require.Truef(t, errors.Is(err, base.ErrCorruption), "byte %d: %v", i, err)
	}
	for n := 0; n < len(enc); n++ {
		_, err := DecodeMeta(enc[:n])
		require.Truef(t, errors.Is(err, base.ErrCorruption), "length %d: %v", n, err)
	}
}

func TestBlockChecksum(t *testing.T) {
	ctx := context.Background()
	table, data := buildTable(t, 1, WriterOptions{}, "a@1.SET:x\nb@2.SET:y")
	data = slices.Clone(data)
	data[0] ^= 0xff

	it := NewIter(ctx, base.DefaultComparer.Compare, table, MemBlockReader{1: data})
	require.Nil(t, it.First())
	err := it.Close()
	require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)

	it = NewIter(ctx, base.DefaultComparer.Compare, table, MemBlockReader{})
	require.Nil(t, it.First())
	require.True(t, errors.Is(it.Close(), base.ErrTableNotFound))
}

func TestFilterTables(t *testing.T) {
	seed := uint64(time.Now().UnixNano())
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewPCG(0, seed))

	var tables []*Table
	contents := map[uint64][]string{}
	for id := uint64(1); id <= 20; id++ {
		var keys []string
		for i := 0; i < 50; i++ {
			keys = append(keys, fmt.Sprintf("k%05d", rng.IntN(5000)))
		}
		slices.Sort(keys)
		keys = slices.Compact(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s@1.SET:v\n", k)
		}
		table, _ := buildTable(t, id, WriterOptions{}, b.String())
		tables = append(tables, table)
		contents[id] = keys
	}
	// A table written without a filter is never dropped.
	noFilter, _ := buildTable(t, 21, WriterOptions{DisableBloom: true}, "zzz@1.SET:v")
	require.Empty(t, noFilter.Meta.Bloom)
	tables = append(tables, noFilter)

	for i := 0; i < 5000; i++ {
		probe := fmt.Sprintf("k%05d", i)
		filtered := FilterTables(tables, []byte(probe))
		require.Contains(t, filtered, noFilter)
		for _, table := range tables {
			if slices.Contains(contents[table.ID], probe) {
				require.Contains(t, filtered, table, "table %d dropped for key %s", table.ID, probe)
			}
		}
		// The result is an order-preserving subset of the input.
		j := 0
		for _, table := range tables {
			if j < len(filtered) && filtered[j] == table {
				j++
			}
		}
		require.Equal(t, len(filtered), j)
	}
}
