// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/objstorage/remote"
)

// checkpointPrefix is the object store prefix of version checkpoints.
const checkpointPrefix = "checkpoint/"

// checkpointObjectName returns the name of the checkpoint of version id. The
// id is zero padded so that names sort in id order.
func checkpointObjectName(id uint64) string {
	return fmt.Sprintf("%s%020d", checkpointPrefix, id)
}

func parseCheckpointObjectName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(name, checkpointPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}

// Checkpoint writes the current version to the object store and returns its
// id. Once the checkpoint is durable, older checkpoints are deleted and
// tables superseded by the checkpointed version become deletable.
func (vs *VersionSet) Checkpoint(ctx context.Context) (uint64, error) {
	p := vs.Pin()
	defer p.Release()
	v := p.Version()

	var buf bytes.Buffer
	if err := v.Snapshot(vs.nextTableNum.Load()).Encode(&buf); err != nil {
		return 0, err
	}
	if err := vs.tables.objs.Put(ctx, checkpointObjectName(v.ID), buf.Bytes()); err != nil {
		return 0, errors.Wrapf(err, "hummock: writing checkpoint of version %d", v.ID)
	}
	vs.mu.Lock()
	vs.mu.durableID = max(vs.mu.durableID, v.ID)
	vs.mu.Unlock()

	names, err := vs.tables.objs.List(ctx, checkpointPrefix)
	if err != nil {
		vs.logger.Errorf("hummock: listing checkpoints: %v", err)
		return v.ID, nil
	}
	for _, name := range names {
		if id, ok := parseCheckpointObjectName(name); ok && id < v.ID {
			if err := vs.tables.objs.Delete(ctx, name); err != nil {
				vs.logger.Errorf("hummock: deleting checkpoint %q: %v", name, err)
			}
		}
	}
	return v.ID, nil
}

// DurableVersionID returns the id of the newest version whose checkpoint is
// durable.
func (vs *VersionSet) DurableVersionID() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.mu.durableID
}

// ReadCheckpoint reads the newest version checkpoint from the object store.
// It returns a nil version if the store holds no checkpoint. The returned
// version's refcount is zero.
func ReadCheckpoint(
	ctx context.Context, objs remote.Storage, cmp *Comparer,
) (v *manifest.Version, nextTableNum uint64, err error) {
	names, err := objs.List(ctx, checkpointPrefix)
	if err != nil {
		return nil, 0, errors.Wrap(err, "hummock: listing checkpoints")
	}
	var newest uint64
	var found bool
	for _, name := range names {
		if id, ok := parseCheckpointObjectName(name); ok && (!found || id > newest) {
			newest, found = id, true
		}
	}
	if !found {
		return nil, 0, nil
	}
	data, err := objs.Get(ctx, checkpointObjectName(newest))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "hummock: reading checkpoint of version %d", newest)
	}
	v, nextTableNum, err = manifest.DecodeVersion(data, cmp)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "hummock: decoding checkpoint of version %d", newest)
	}
	return v, nextTableNum, nil
}
