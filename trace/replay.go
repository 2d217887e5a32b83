// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package trace

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"golang.org/x/sync/errgroup"
)

// replayQueueLen is the number of decoded operations buffered ahead of the
// one being applied.
const replayQueueLen = 64

// ReplayStats summarizes a replay.
type ReplayStats struct {
	// Ops counts the replayed operations by kind.
	Ops map[Kind]int
	// Failed counts the operations that returned an error. A Get that finds
	// no value is not a failure.
	Failed int
	// NotFound counts the Gets that found no value.
	NotFound int
	// KeysScanned is the number of pairs returned by the replayed scans.
	KeysScanned int
}

// Total returns the number of replayed operations.
func (s *ReplayStats) Total() int {
	var n int
	for _, c := range s.Ops {
		n += c
	}
	return n
}

func (s *ReplayStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d ops:", s.Total())
	for k := KindGet; k <= KindCompact; k++ {
		if s.Ops[k] > 0 {
			fmt.Fprintf(&b, " %s=%d", k, s.Ops[k])
		}
	}
	fmt.Fprintf(&b, "; failed=%d not-found=%d keys-scanned=%d", s.Failed, s.NotFound, s.KeysScanned)
	return b.String()
}

// Replay applies the operations of a trace to target, one at a time and in
// trace order, until the trace ends. The trace is decoded concurrently with
// the application of earlier operations.
//
// An operation that fails is counted and the replay continues, so that a
// trace of a workload whose calls failed replays the same way. Replay stops
// with an error if the trace is malformed or ctx is cancelled.
func Replay(ctx context.Context, r *Reader, target Target) (ReplayStats, error) {
	stats := ReplayStats{Ops: make(map[Kind]int)}
	ops := make(chan Operation, replayQueueLen)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ops)
		for {
			op, err := r.Read()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			select {
			case ops <- op:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	g.Go(func() error {
		for op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Ops[op.Kind()]++
			if err := apply(ctx, target, op, &stats); err != nil {
				stats.Failed++
			}
		}
		return nil
	})
	err := g.Wait()
	return stats, err
}

func apply(ctx context.Context, target Target, op Operation, stats *ReplayStats) error {
	switch op := op.(type) {
	case *Get:
		_, err := target.Get(ctx, op.Key, op.Epoch)
		if errors.Is(err, hummock.ErrNotFound) {
			stats.NotFound++
			return nil
		}
		return err
	case *Ingest:
		var b hummock.Batch
		if err := b.SetRepr(op.Repr); err != nil {
			return err
		}
		return target.Ingest(ctx, op.Epoch, &b)
	case *Iter:
		kvs, err := target.Scan(ctx, op.Epoch, &hummock.IterOptions{
			KeyRange: op.KeyRange,
			Reverse:  op.Reverse,
		}, int(op.Limit))
		stats.KeysScanned += len(kvs)
		return err
	case *Sync:
		return target.Sync(ctx, op.Epoch)
	case *AdvanceSafeEpoch:
		return target.AdvanceSafeEpoch(op.Epoch)
	case *Compact:
		_, err := target.CompactOnce(ctx)
		return err
	default:
		return errors.AssertionFailedf("unknown operation %T", op)
	}
}
