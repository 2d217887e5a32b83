// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/humanize"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// versionT implements the tools reading the version checkpoints of a store.
type versionT struct {
	Root  *cobra.Command
	Show  *cobra.Command
	Check *cobra.Command

	t *T
}

func newVersion(t *T) *versionT {
	v := &versionT{t: t}
	v.Root = &cobra.Command{
		Use:   "version",
		Short: "version checkpoint introspection tools",
	}
	v.Show = &cobra.Command{
		Use:   "show <dir>",
		Short: "print the newest version checkpoint",
		Long: `
Print the tables of each level of the newest version checkpoint of the store
in <dir>, followed by a per-level summary.
`,
		Args: cobra.ExactArgs(1),
		Run:  v.runShow,
	}
	v.Check = &cobra.Command{
		Use:   "check <dir>",
		Short: "verify the newest version checkpoint",
		Long: `
Verify the level invariants of the newest version checkpoint of the store in
<dir>, that every table it references exists, and list the objects that no
version references.
`,
		Args: cobra.ExactArgs(1),
		Run:  v.runCheck,
	}
	v.Root.AddCommand(v.Show, v.Check)
	return v
}

func (v *versionT) readCheckpoint(cmd *cobra.Command, dir string) (*manifest.Version, uint64, []string, bool) {
	stderr := cmd.ErrOrStderr()
	objs, err := v.t.openStorage(dir)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return nil, 0, nil, false
	}
	defer objs.Close()
	c, err := v.t.comparer("")
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return nil, 0, nil, false
	}
	ctx := context.Background()
	ver, next, err := hummock.ReadCheckpoint(ctx, objs, c)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return nil, 0, nil, false
	}
	if ver == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint in %s\n", dir)
		return nil, 0, nil, false
	}
	names, err := objs.List(ctx, "")
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return nil, 0, nil, false
	}
	return ver, next, names, true
}

func (v *versionT) runShow(cmd *cobra.Command, args []string) {
	ver, next, _, ok := v.readCheckpoint(cmd, args[0])
	if !ok {
		return
	}
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "version %d: committed=%s safe=%s next-table=%d\n",
		ver.ID, ver.MaxCommittedEpoch, ver.SafeEpoch, next)

	tw := tablewriter.NewWriter(stdout)
	tw.SetHeader([]string{"Level", "Table", "Smallest", "Largest", "Epochs", "Size", "Keys"})
	fmtKey := ver.Comparer().FormatKey
	ver.Tables(func(level int, t *manifest.TableMetadata) bool {
		tw.Append([]string{
			fmt.Sprintf("L%d", level),
			fmt.Sprintf("%06d", t.TableNum),
			fmt.Sprint(fmtKey(t.Smallest)),
			fmt.Sprint(fmtKey(t.Largest)),
			fmt.Sprintf("[%s, %s]", t.MinEpoch, t.MaxEpoch),
			humanize.Bytes.Uint64(t.Size).String(),
			fmt.Sprint(t.KeyCount),
		})
		return true
	})
	tw.Render()

	summary := tablewriter.NewWriter(stdout)
	summary.SetHeader([]string{"Level", "Tables", "Size"})
	for level := range ver.Levels {
		if len(ver.Levels[level]) == 0 {
			continue
		}
		summary.Append([]string{
			fmt.Sprintf("L%d", level),
			fmt.Sprint(len(ver.Levels[level])),
			humanize.Bytes.Uint64(ver.LevelSize(level)).String(),
		})
	}
	summary.SetFooter([]string{"total", fmt.Sprint(ver.NumTables()), ""})
	summary.Render()
}

func (v *versionT) runCheck(cmd *cobra.Command, args []string) {
	ver, _, names, ok := v.readCheckpoint(cmd, args[0])
	if !ok {
		return
	}
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "version %d\n", ver.ID)
	healthy := true
	if err := ver.CheckOrdering(); err != nil {
		fmt.Fprintf(stdout, "%s\n", err)
		healthy = false
	}

	type objects struct{ data, meta bool }
	present := make(map[uint64]*objects)
	for _, name := range names {
		id, isMeta, ok := sstable.ParseObjectName(name)
		if !ok {
			continue
		}
		o := present[id]
		if o == nil {
			o = &objects{}
			present[id] = o
		}
		if isMeta {
			o.meta = true
		} else {
			o.data = true
		}
	}

	ver.Tables(func(level int, t *manifest.TableMetadata) bool {
		o := present[t.TableNum]
		switch {
		case o == nil:
			fmt.Fprintf(stdout, "L%d table %06d is missing\n", level, t.TableNum)
			healthy = false
		case !o.data || !o.meta:
			fmt.Fprintf(stdout, "L%d table %06d is missing its data or meta object\n", level, t.TableNum)
			healthy = false
		}
		delete(present, t.TableNum)
		return true
	})

	orphans := make([]uint64, 0, len(present))
	for id := range present {
		orphans = append(orphans, id)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	for _, id := range orphans {
		fmt.Fprintf(stdout, "table %06d is not referenced\n", id)
	}
	if healthy {
		fmt.Fprintf(stdout, "OK\n")
	}
}
