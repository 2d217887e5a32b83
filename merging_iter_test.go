// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

// parseSources parses KV lines into sources. A line reading "source" starts
// a new source.
func parseSources(input string) [][]base.InternalKV {
	var sources [][]base.InternalKV
	for line := range crstrings.LinesSeq(input) {
		if line == "source" || len(sources) == 0 {
			sources = append(sources, nil)
			if line == "source" {
				continue
			}
		}
		n := len(sources) - 1
		sources[n] = append(sources[n], base.ParseInternalKV(line))
	}
	return sources
}

func newSourcesIter(cmp base.Compare, sources [][]base.InternalKV) *mergingIter {
	iters := make([]base.InternalIterator, len(sources))
	for i, kvs := range sources {
		iters[i] = newMemTableIter(cmp, kvs)
	}
	return newMergingIter(cmp, iters...)
}

func formatKV(kv *base.InternalKV) string {
	if kv == nil {
		return "."
	}
	return kv.String()
}

func TestMergingIter(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	var iter *mergingIter
	datadriven.RunTest(t, "testdata/merging_iter", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "define":
			if iter != nil {
				require.NoError(t, iter.Close())
			}
			iter = newSourcesIter(cmp, parseSources(td.Input))
			return ""

		case "iter":
			var buf strings.Builder
			for line := range crstrings.LinesSeq(td.Input) {
				fields := strings.Fields(line)
				var kv *base.InternalKV
				switch fields[0] {
				case "first":
					kv = iter.First()
				case "last":
					kv = iter.Last()
				case "next":
					kv = iter.Next()
				case "prev":
					kv = iter.Prev()
				case "seek-ge":
					kv = iter.SeekGE(base.ParseInternalKey(fields[1]))
				case "seek-lt":
					kv = iter.SeekLT(base.ParseInternalKey(fields[1]))
				default:
					td.Fatalf(t, "unknown op %q", fields[0])
				}
				fmt.Fprintf(&buf, "%s\n", formatKV(kv))
			}
			return buf.String()

		default:
			td.Fatalf(t, "unknown command: %s", td.Cmd)
			return ""
		}
	})
}

// TestMergingIterRandomized compares random operation sequences over random
// sources with the same operations over the sorted union of the sources.
func TestMergingIterRandomized(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	seed := rand.Uint64()
	t.Logf("seed: %d", seed)
	rng := rand.New(rand.NewPCG(seed, seed))

	for round := 0; round < 50; round++ {
		sources := make([][]base.InternalKV, 1+rng.IntN(5))
		seen := make(map[string]struct{})
		var all []base.InternalKV
		for i := range sources {
			for j := rng.IntN(20); j > 0; j-- {
				k := base.MakeInternalKey(fmt.Appendf(nil, "k%02d", rng.IntN(30)), base.Epoch(1+rng.IntN(10)))
				if _, ok := seen[k.String()]; ok {
					continue
				}
				seen[k.String()] = struct{}{}
				kv := base.MakeInternalKV(k, base.InternalKeyKindSet, fmt.Appendf(nil, "%d", i))
				sources[i] = append(sources[i], kv)
				all = append(all, kv)
			}
			slices.SortFunc(sources[i], func(a, b base.InternalKV) int { return base.InternalCompare(cmp, a.K, b.K) })
		}
		slices.SortFunc(all, func(a, b base.InternalKV) int { return base.InternalCompare(cmp, a.K, b.K) })

		iter := newSourcesIter(cmp, sources)
		ref := newMemTableIter(cmp, all)
		for op := 0; op < 100; op++ {
			var got, want *base.InternalKV
			switch rng.IntN(6) {
			case 0:
				got, want = iter.First(), ref.First()
			case 1:
				got, want = iter.Last(), ref.Last()
			case 2:
				k := base.MakeInternalKey(fmt.Appendf(nil, "k%02d", rng.IntN(30)), base.Epoch(rng.IntN(12)))
				got, want = iter.SeekGE(k), ref.SeekGE(k)
			case 3:
				k := base.MakeInternalKey(fmt.Appendf(nil, "k%02d", rng.IntN(30)), base.Epoch(rng.IntN(12)))
				got, want = iter.SeekLT(k), ref.SeekLT(k)
			case 4:
				if ref.kv() == nil {
					continue
				}
				got, want = iter.Next(), ref.Next()
			case 5:
				if ref.kv() == nil {
					continue
				}
				got, want = iter.Prev(), ref.Prev()
			}
			require.Equal(t, formatKV(want), formatKV(got), "round %d op %d", round, op)
		}
		require.NoError(t, iter.Close())
	}
}
