// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	minLatency = 10 * time.Microsecond
	maxLatency = 10 * time.Second
)

var benchConfig struct {
	dir          string
	epochs       int
	keysPerEpoch int
	keySpace     int
	valueSize    int
	reads        int
	scanRows     int
	concurrency  int
	seed         uint64
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "run a write/sync/read benchmark",
	Long: `
Write --epochs epochs of --keys-per-epoch random keys, syncing each epoch,
then run --reads point lookups and scans from --concurrency workers at the
newest epoch. Latencies are reported per operation type. The store is held
in memory unless --dir is given.
`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.StringVar(&benchConfig.dir, "dir", "", "store directory (empty for an in-memory store)")
	f.IntVar(&benchConfig.epochs, "epochs", 20, "number of epochs to write")
	f.IntVar(&benchConfig.keysPerEpoch, "keys-per-epoch", 10000, "keys written in each epoch")
	f.IntVar(&benchConfig.keySpace, "key-space", 100000, "number of distinct keys")
	f.IntVar(&benchConfig.valueSize, "value-size", 100, "size of each value")
	f.IntVar(&benchConfig.reads, "reads", 100000, "number of point lookups")
	f.IntVar(&benchConfig.scanRows, "scan-rows", 100, "rows returned by each scan")
	f.IntVarP(&benchConfig.concurrency, "concurrency", "c", 4, "number of concurrent readers")
	f.Uint64Var(&benchConfig.seed, "seed", 1, "random seed")
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 2)
}

func clampLatency(d time.Duration) int64 {
	return min(max(d, minLatency), maxLatency).Nanoseconds()
}

// latencies holds one histogram per operation type.
type latencies map[string]*hdrhistogram.Histogram

func (l latencies) record(op string, d time.Duration) {
	h, ok := l[op]
	if !ok {
		h = newHistogram()
		l[op] = h
	}
	_ = h.RecordValue(clampLatency(d))
}

func (l latencies) merge(o latencies) {
	for op, h := range o {
		if m, ok := l[op]; ok {
			m.Merge(h)
		} else {
			l[op] = h
		}
	}
}

func (l latencies) print(elapsed time.Duration) {
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Op", "Count", "ops/sec", "p50(ms)", "p95(ms)", "p99(ms)", "pMax(ms)"})
	for _, op := range []string{"ingest", "sync", "get", "scan"} {
		h, ok := l[op]
		if !ok {
			continue
		}
		ms := func(q float64) string {
			return fmt.Sprintf("%.2f", time.Duration(h.ValueAtQuantile(q)).Seconds()*1000)
		}
		tw.Append([]string{
			op,
			fmt.Sprint(h.TotalCount()),
			fmt.Sprintf("%.1f", float64(h.TotalCount())/elapsed.Seconds()),
			ms(50), ms(95), ms(99),
			fmt.Sprintf("%.2f", time.Duration(h.Max()).Seconds()*1000),
		})
	}
	tw.Render()
}

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key%012d", i))
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg := benchConfig
	if cfg.keySpace <= 0 || cfg.epochs <= 0 || cfg.concurrency <= 0 {
		return errors.New("--key-space, --epochs and --concurrency must be positive")
	}
	var objs remote.Storage = remote.NewInMem()
	if cfg.dir != "" {
		var err error
		if objs, err = remote.NewLocalFS(cfg.dir); err != nil {
			return err
		}
	}
	defer objs.Close()

	ctx := context.Background()
	s, err := hummock.Open(ctx, objs, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	start := time.Now()
	lat := make(latencies)
	rng := rand.New(rand.NewPCG(cfg.seed, 0))
	value := make([]byte, cfg.valueSize)
	firstEpoch := s.Versions().Current().MaxCommittedEpoch + 1
	for e := 0; e < cfg.epochs; e++ {
		epoch := firstEpoch + hummock.Epoch(e)
		var b hummock.Batch
		for i := 0; i < cfg.keysPerEpoch; i++ {
			for j := range value {
				value[j] = byte('a' + rng.IntN(26))
			}
			b.Set(benchKey(rng.IntN(cfg.keySpace)), value)
		}
		t0 := time.Now()
		if err := s.Ingest(ctx, epoch, &b); err != nil {
			return err
		}
		lat.record("ingest", time.Since(t0))
		t0 = time.Now()
		if err := s.Sync(ctx, epoch); err != nil {
			return err
		}
		lat.record("sync", time.Since(t0))
	}
	fmt.Printf("wrote %d epochs in %s\n", cfg.epochs, time.Since(start).Round(time.Millisecond))

	readStart := time.Now()
	epoch := s.Versions().Current().MaxCommittedEpoch
	perWorker := make([]latencies, cfg.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.concurrency; w++ {
		perWorker[w] = make(latencies)
		g.Go(func() error {
			l := perWorker[w]
			rng := rand.New(rand.NewPCG(cfg.seed, uint64(w)+1))
			for i := w; i < cfg.reads; i += cfg.concurrency {
				k := benchKey(rng.IntN(cfg.keySpace))
				t0 := time.Now()
				if i%100 == 0 {
					if _, err := s.Scan(gctx, epoch, &hummock.IterOptions{
						KeyRange: hummock.KeyRange{Start: base.IncludedBound(k)},
					}, cfg.scanRows); err != nil {
						return err
					}
					l.record("scan", time.Since(t0))
					continue
				}
				if _, err := s.Get(gctx, k, epoch); err != nil && !errors.Is(err, hummock.ErrNotFound) {
					return err
				}
				l.record("get", time.Since(t0))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, l := range perWorker {
		lat.merge(l)
	}
	fmt.Printf("read for %s\n\n", time.Since(readStart).Round(time.Millisecond))
	lat.print(time.Since(start))
	fmt.Printf("\n%s", s.Metrics())
	return nil
}
