// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hummock/internal/base"
)

func TestCompactionIter(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	datadriven.RunTest(t, "testdata/compaction_iter", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "compact":
			var safe uint64
			td.ScanArgs(t, "safe", &safe)
			iter := newSourcesIter(cmp, parseSources(td.Input))
			defer iter.Close()
			ci := newCompactionIter(cmp, iter, Epoch(safe), td.HasArg("bottommost"))
			var buf strings.Builder
			for kv := ci.First(); kv != nil; kv = ci.Next() {
				fmt.Fprintf(&buf, "%s\n", kv)
			}
			if err := ci.Error(); err != nil {
				fmt.Fprintf(&buf, "error: %v\n", err)
			}
			fmt.Fprintf(&buf, "%s\n", ci.stats)
			return buf.String()

		default:
			td.Fatalf(t, "unknown command: %s", td.Cmd)
			return ""
		}
	})
}
