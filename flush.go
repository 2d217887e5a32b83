// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/sstable"
)

// outputWriter builds the tables written by a flush or a compaction. Entries
// must be added in InternalCompare order. A table is finished once it
// reaches the target size, but only between two user keys: every version of
// a user key lands in the same table, which keeps the tables of a level
// non-overlapping.
type outputWriter struct {
	ctx        context.Context
	vs         *VersionSet
	ts         *tableStore
	opts       sstable.WriterOptions
	targetSize uint64
	pacer      *writePacer
	logger     Logger
	jobID      string

	w       *sstable.Writer
	outputs []*manifest.TableMetadata
	// written holds the numbers of every table whose objects may have been
	// written, including a table whose put failed halfway.
	written      []uint64
	bytesWritten uint64
}

func newOutputWriter(
	ctx context.Context, s *Store, jobID string, pacer *writePacer,
) *outputWriter {
	return &outputWriter{
		ctx:        ctx,
		vs:         s.versions,
		ts:         s.tables,
		opts:       s.opts.MakeWriterOptions(),
		targetSize: uint64(s.opts.TargetFileSize),
		pacer:      pacer,
		logger:     s.opts.Logger,
		jobID:      jobID,
	}
}

func (o *outputWriter) add(kv *base.InternalKV) error {
	if o.w != nil && o.w.EstimatedSize() >= o.targetSize &&
		!bytes.Equal(o.w.LastUserKey(), kv.K.UserKey) {
		if err := o.finishTable(); err != nil {
			return err
		}
	}
	if o.w == nil {
		o.w = sstable.NewWriter(o.opts)
	}
	return o.w.Add(kv.K, kv.Kind, kv.V)
}

func (o *outputWriter) finishTable() error {
	w := o.w
	o.w = nil
	data, meta, err := w.Finish()
	if err != nil {
		return err
	}
	if err := o.pacer.wait(o.ctx, len(data)); err != nil {
		return err
	}
	num := o.vs.newTableNum()
	o.written = append(o.written, num)
	size, err := o.ts.put(o.ctx, num, data, meta)
	if err != nil {
		return errors.Wrapf(err, "hummock: writing table %06d", errors.Safe(num))
	}
	o.bytesWritten += size
	o.outputs = append(o.outputs, &manifest.TableMetadata{
		TableNum: num,
		Size:     size,
		Smallest: bytes.Clone(meta.SmallestUserKey()),
		Largest:  bytes.Clone(meta.LargestUserKey()),
		MinEpoch: meta.MinEpoch,
		MaxEpoch: meta.MaxEpoch,
		KeyCount: meta.KeyCount,
	})
	o.logger.Infof("[JOB %s] created table %s (%d keys, %d bytes)", o.jobID, o.outputs[len(o.outputs)-1], meta.KeyCount, size)
	return nil
}

// finish finishes the last table and returns every table written.
func (o *outputWriter) finish() ([]*manifest.TableMetadata, error) {
	if o.w != nil {
		if err := o.finishTable(); err != nil {
			return nil, err
		}
	}
	return o.outputs, nil
}

// abandon discards the table being built and deletes the objects of every
// table already written. It runs even if the writer's context was cancelled.
func (o *outputWriter) abandon() {
	if o.w != nil {
		o.w.Abandon()
		o.w = nil
	}
	ctx := context.WithoutCancel(o.ctx)
	for _, num := range o.written {
		if err := o.ts.remove(ctx, num); err != nil {
			o.logger.Errorf("[JOB %s] deleting abandoned table %06d: %v", o.jobID, num, err)
		}
	}
	o.written = nil
	o.outputs = nil
}

// flush writes every buffered version with an epoch <= epoch into new
// tables. The tables are not yet part of any version.
func (s *Store) flush(ctx context.Context, epoch Epoch) (_ []*manifest.TableMetadata, err error) {
	kvs := s.mem.collect(epoch)
	if len(kvs) == 0 {
		return nil, nil
	}
	o := newOutputWriter(ctx, s, "flush", nil)
	defer func() {
		if err != nil {
			o.abandon()
		}
	}()
	for i := range kvs {
		if err := o.add(&kvs[i]); err != nil {
			return nil, err
		}
	}
	tables, err := o.finish()
	if err != nil {
		return nil, err
	}
	s.metrics.flushBytes.Add(float64(o.bytesWritten))
	s.opts.Logger.Infof("[JOB flush] flushed %d entries through epoch %s to %d tables (%d bytes)",
		len(kvs), epoch, len(tables), o.bytesWritten)
	return tables, nil
}
