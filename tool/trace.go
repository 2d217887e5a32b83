// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/trace"
	"github.com/spf13/cobra"
)

// traceT implements the tools reading and replaying traces.
type traceT struct {
	Root   *cobra.Command
	Dump   *cobra.Command
	Replay *cobra.Command

	t *T

	// Flags.
	count int
}

func newTrace(t *T) *traceT {
	tr := &traceT{t: t}
	tr.Root = &cobra.Command{
		Use:   "trace",
		Short: "trace introspection and replay tools",
	}
	tr.Dump = &cobra.Command{
		Use:   "dump <trace>",
		Short: "print the operations of a trace",
		Long: `
Print the operations of a trace, one per line. The -n flag prints only the
first n operations and fails if the trace holds fewer.
`,
		Args: cobra.ExactArgs(1),
		Run:  tr.runDump,
	}
	tr.Replay = &cobra.Command{
		Use:   "replay <trace> <dir>",
		Short: "replay a trace against a store",
		Long: `
Replay the operations of a trace, in order, against the store in <dir>. The
store is created if <dir> holds none.
`,
		Args: cobra.ExactArgs(2),
		Run:  tr.runReplay,
	}
	tr.Root.AddCommand(tr.Dump, tr.Replay)
	tr.Dump.Flags().IntVarP(
		&tr.count, "count", "n", 0, "number of operations to print (0 prints all)")
	return tr
}

func openTrace(path string) (*trace.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := trace.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func (tr *traceT) runDump(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	r, f, err := openTrace(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer f.Close()

	if tr.count > 0 {
		ops, err := r.ReadN(tr.count)
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			return
		}
		for i, op := range ops {
			fmt.Fprintf(stdout, "%d: %s\n", i, op)
		}
		return
	}
	for i := 0; ; i++ {
		op, err := r.Read()
		if err == io.EOF {
			return
		} else if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			return
		}
		fmt.Fprintf(stdout, "%d: %s\n", i, op)
	}
}

func (tr *traceT) runReplay(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	r, f, err := openTrace(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer f.Close()

	objs, err := tr.t.openStorage(args[1])
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer objs.Close()
	ctx := context.Background()
	s, err := hummock.Open(ctx, objs, tr.t.opts)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	defer s.Close()
	stats, err := trace.Replay(ctx, r, s)
	fmt.Fprintf(stdout, "%s\n", &stats)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return
	}
	// Make the replayed epochs durable.
	if committed := s.Versions().Current().MaxCommittedEpoch; committed > 0 {
		if err := s.Sync(ctx, committed); err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
			return
		}
	}
	fmt.Fprintf(stdout, "%s", s.Metrics())
}
