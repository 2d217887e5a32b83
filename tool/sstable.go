// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"context"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/humanize"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// sstableT implements sstable-level tools, including both configuration state
// and the commands themselves.
type sstableT struct {
	Root       *cobra.Command
	Check      *cobra.Command
	Properties *cobra.Command
	Scan       *cobra.Command

	t *T

	// Flags.
	fmtKey   formatter
	fmtValue formatter
	start    key
	end      key
	verbose  bool
}

func newSSTable(t *T) *sstableT {
	s := &sstableT{t: t}
	s.fmtKey.mustSet("quoted")
	s.fmtValue.mustSet("[%x]")

	s.Root = &cobra.Command{
		Use:   "sstable",
		Short: "sstable introspection tools",
	}
	s.Check = &cobra.Command{
		Use:   "check <dir> <tables>",
		Short: "verify checksums, ordering and metadata",
		Long: `
Verify the block checksums of the tables of the store in <dir>, that their
entries are ordered, and that the entries agree with the table metadata.
`,
		Args: cobra.MinimumNArgs(2),
		Run:  s.runCheck,
	}
	s.Properties = &cobra.Command{
		Use:   "properties <dir> <tables>",
		Short: "print sstable properties",
		Long: `
Print the metadata of the tables. The -v flag additionally prints the layout
of the data blocks.
`,
		Args: cobra.MinimumNArgs(2),
		Run:  s.runProperties,
	}
	s.Scan = &cobra.Command{
		Use:   "scan <dir> <tables>",
		Short: "print sstable records",
		Long: `
Print the records in the tables. The tables are scanned in command line
order which means the records will be printed in that order.
`,
		Args: cobra.MinimumNArgs(2),
		Run:  s.runScan,
	}

	s.Root.AddCommand(s.Check, s.Properties, s.Scan)
	s.Properties.Flags().BoolVarP(
		&s.verbose, "verbose", "v", false,
		"verbose output")
	s.Check.Flags().Var(
		&s.fmtKey, "key", "key formatter")
	s.Scan.Flags().Var(
		&s.fmtKey, "key", "key formatter")
	s.Scan.Flags().Var(
		&s.fmtValue, "value", "value formatter")
	s.Scan.Flags().Var(
		&s.start, "start", "start key for the scan")
	s.Scan.Flags().Var(
		&s.end, "end", "end key for the scan")
	return s
}

// loadTable reads the meta and data objects of a table.
func loadTable(ctx context.Context, objs remote.Storage, num uint64) (*sstable.Table, []byte, error) {
	metaData, err := objs.Get(ctx, sstable.MetaObjectName(num))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading meta of table %06d", num)
	}
	meta, err := sstable.DecodeMeta(metaData)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "table %06d", num)
	}
	data, err := objs.Get(ctx, sstable.DataObjectName(num))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading data of table %06d", num)
	}
	if uint64(len(data)) != meta.DataSize {
		return nil, nil, base.CorruptionErrorf("table %06d: data object is %d bytes, meta says %d",
			num, len(data), meta.DataSize)
	}
	return &sstable.Table{ID: num, Meta: meta}, data, nil
}

// forEachTable calls fn for each table named on the command line, printing
// the errors it returns.
func (s *sstableT) forEachTable(
	cmd *cobra.Command, args []string, fn func(w io.Writer, t *sstable.Table, data []byte) error,
) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	objs, err := s.t.openStorage(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer objs.Close()
	ctx := context.Background()
	for _, arg := range args[1:] {
		num, err := parseTableNum(arg)
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			continue
		}
		fmt.Fprintf(stdout, "%06d\n", num)
		t, data, err := loadTable(ctx, objs, num)
		if err == nil {
			err = fn(stdout, t, data)
		}
		if err != nil {
			fmt.Fprintf(stdout, "%s\n", err)
		}
	}
}

func (s *sstableT) runCheck(cmd *cobra.Command, args []string) {
	s.forEachTable(cmd, args, func(w io.Writer, t *sstable.Table, data []byte) error {
		c, err := s.t.comparer(t.Meta.ComparerName)
		if err != nil {
			return err
		}
		iter := sstable.NewIter(context.Background(), c.Compare, t, sstable.MemBlockReader{t.ID: data})
		var prev base.InternalKey
		var count, tombstones uint64
		minEpoch, maxEpoch := base.EpochMax, base.Epoch(0)
		for kv := iter.First(); kv != nil; kv = iter.Next() {
			if count > 0 && base.InternalCompare(c.Compare, prev, kv.K) >= 0 {
				fmt.Fprintf(w, "WARNING: OUT OF ORDER KEYS!\n    %s >= %s\n",
					prev.Pretty(c.FormatKey), kv.K.Pretty(c.FormatKey))
			}
			prev = kv.K.Clone()
			count++
			if kv.IsTombstone() {
				tombstones++
			}
			minEpoch, maxEpoch = min(minEpoch, kv.K.Epoch), max(maxEpoch, kv.K.Epoch)
		}
		if err := iter.Close(); err != nil {
			return err
		}
		m := t.Meta
		if count != m.KeyCount || tombstones != m.TombstoneCount {
			fmt.Fprintf(w, "WARNING: table has %d keys (%d tombstones), meta says %d (%d)\n",
				count, tombstones, m.KeyCount, m.TombstoneCount)
		}
		if count > 0 && (minEpoch != m.MinEpoch || maxEpoch != m.MaxEpoch) {
			fmt.Fprintf(w, "WARNING: table has epochs [%s, %s], meta says [%s, %s]\n",
				minEpoch, maxEpoch, m.MinEpoch, m.MaxEpoch)
		}
		return nil
	})
}

func (s *sstableT) runProperties(cmd *cobra.Command, args []string) {
	s.forEachTable(cmd, args, func(w io.Writer, t *sstable.Table, _ []byte) error {
		m := t.Meta
		fmt.Fprint(w, m.String())
		fmt.Fprintf(w, "size:      %s\n", humanize.Bytes.Uint64(m.Size()))
		if m.ComparerName != "" {
			fmt.Fprintf(w, "comparer:  %s\n", m.ComparerName)
		}
		if !s.verbose {
			return nil
		}
		tw := tablewriter.NewWriter(w)
		tw.SetHeader([]string{"Block", "Offset", "Length", "Uncompressed", "First key"})
		for i, b := range m.Blocks {
			first, err := base.DecodeVersionedKey(b.FirstKey)
			if err != nil {
				return errors.Wrapf(err, "block %d", i)
			}
			tw.Append([]string{
				fmt.Sprint(i),
				fmt.Sprint(b.Offset),
				fmt.Sprint(b.Length),
				fmt.Sprint(b.UncompressedLen),
				first.String(),
			})
		}
		tw.Render()
		return nil
	})
}

func (s *sstableT) runScan(cmd *cobra.Command, args []string) {
	s.forEachTable(cmd, args, func(w io.Writer, t *sstable.Table, data []byte) error {
		c, err := s.t.comparer(t.Meta.ComparerName)
		if err != nil {
			return err
		}
		iter := sstable.NewIter(context.Background(), c.Compare, t, sstable.MemBlockReader{t.ID: data})
		var kv *base.InternalKV
		if s.start != nil {
			kv = iter.SeekGE(base.MakeSearchKey(s.start, base.EpochMax))
		} else {
			kv = iter.First()
		}
		for ; kv != nil; kv = iter.Next() {
			if s.end != nil && c.Compare(kv.K.UserKey, s.end) >= 0 {
				break
			}
			formatKV(w, s.fmtKey, s.fmtValue, kv)
		}
		return iter.Close()
	})
}
