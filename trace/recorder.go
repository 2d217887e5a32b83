// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package trace

import (
	"context"
	"sync"

	"github.com/cockroachdb/hummock"
)

// Target is the set of store calls a trace records and replays. It is
// implemented by *hummock.Store.
type Target interface {
	Get(ctx context.Context, key []byte, epoch hummock.Epoch) ([]byte, error)
	Ingest(ctx context.Context, epoch hummock.Epoch, b *hummock.Batch) error
	Scan(ctx context.Context, epoch hummock.Epoch, opts *hummock.IterOptions, limit int) ([]hummock.KV, error)
	Sync(ctx context.Context, epoch hummock.Epoch) error
	AdvanceSafeEpoch(epoch hummock.Epoch) error
	CompactOnce(ctx context.Context) (*hummock.CompactionResult, error)
}

var _ Target = (*hummock.Store)(nil)

// Recorder is a Target that writes every call to a trace before forwarding
// it to the wrapped target. Calls are recorded in the order they are made,
// and a call's outcome is not recorded. It is safe for concurrent use.
//
// Tracing never fails a call: the first write error is retained and returned
// by Err and Flush, and nothing more is recorded after it.
type Recorder struct {
	target Target

	mu struct {
		sync.Mutex
		w   *Writer
		err error
	}
}

var _ Target = (*Recorder)(nil)

// NewRecorder returns a Recorder tracing the calls on target to w.
func NewRecorder(target Target, w *Writer) *Recorder {
	r := &Recorder{target: target}
	r.mu.w = w
	return r
}

func (r *Recorder) record(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.err == nil {
		r.mu.err = r.mu.w.Write(op)
	}
}

// Err returns the first error encountered writing the trace.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.err
}

// Flush flushes the trace writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.err == nil {
		r.mu.err = r.mu.w.Flush()
	}
	return r.mu.err
}

// Get implements Target.
func (r *Recorder) Get(ctx context.Context, key []byte, epoch hummock.Epoch) ([]byte, error) {
	r.record(&Get{Key: key, Epoch: epoch})
	return r.target.Get(ctx, key, epoch)
}

// Ingest implements Target.
func (r *Recorder) Ingest(ctx context.Context, epoch hummock.Epoch, b *hummock.Batch) error {
	r.record(&Ingest{Epoch: epoch, Repr: b.Repr()})
	return r.target.Ingest(ctx, epoch, b)
}

// Scan implements Target.
func (r *Recorder) Scan(
	ctx context.Context, epoch hummock.Epoch, opts *hummock.IterOptions, limit int,
) ([]hummock.KV, error) {
	op := &Iter{Epoch: epoch, Limit: uint64(max(limit, 0))}
	if opts != nil {
		op.KeyRange = opts.KeyRange
		op.Reverse = opts.Reverse
	}
	r.record(op)
	return r.target.Scan(ctx, epoch, opts, limit)
}

// Sync implements Target.
func (r *Recorder) Sync(ctx context.Context, epoch hummock.Epoch) error {
	r.record(&Sync{Epoch: epoch})
	return r.target.Sync(ctx, epoch)
}

// AdvanceSafeEpoch implements Target.
func (r *Recorder) AdvanceSafeEpoch(epoch hummock.Epoch) error {
	r.record(&AdvanceSafeEpoch{Epoch: epoch})
	return r.target.AdvanceSafeEpoch(epoch)
}

// CompactOnce implements Target.
func (r *Recorder) CompactOnce(ctx context.Context) (*hummock.CompactionResult, error) {
	r.record(&Compact{})
	return r.target.CompactOnce(ctx)
}
