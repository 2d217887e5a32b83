// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestCompactionPicker(t *testing.T) {
	var v *manifest.Version
	datadriven.RunTest(t, "testdata/compaction_picker", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "define":
			var err error
			v, err = manifest.ParseVersionDebug(base.DefaultComparer, td.Input)
			require.NoError(t, err)
			require.NoError(t, v.CheckOrdering())
			return ""

		case "set-compacting":
			for _, f := range strings.Fields(td.Input) {
				num, err := strconv.ParseUint(f, 10, 64)
				require.NoError(t, err)
				v.Tables(func(_ int, m *manifest.TableMetadata) bool {
					if m.TableNum == num {
						m.SetCompacting(true)
					}
					return true
				})
			}
			return ""

		case "scores":
			opts := pickerOptions(t, td)
			var buf strings.Builder
			for level, score := range levelScores(v, opts) {
				fmt.Fprintf(&buf, "L%d: %.2f\n", level, score)
			}
			return buf.String()

		case "pick":
			task := PickCompaction(v, pickerOptions(t, td))
			if task == nil {
				return "no compaction"
			}
			return task.String()

		default:
			td.Fatalf(t, "unknown command: %s", td.Cmd)
			return ""
		}
	})
}

func pickerOptions(t *testing.T, td *datadriven.TestData) *Options {
	opts := &Options{}
	if td.HasArg("l0-threshold") {
		td.ScanArgs(t, "l0-threshold", &opts.L0CompactionThreshold)
	}
	if td.HasArg("lbase-max-bytes") {
		td.ScanArgs(t, "lbase-max-bytes", &opts.LBaseMaxBytes)
	}
	return opts.EnsureDefaults()
}

func TestWritePacer(t *testing.T) {
	require.Nil(t, newWritePacer(0))
	p := newWritePacer(1 << 30)
	// Requests above the burst are split into chunks.
	require.NoError(t, p.wait(context.Background(), 4<<20))
}
