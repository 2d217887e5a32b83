// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/stretchr/testify/require"
)

func newTestVersionSet(t *testing.T) *VersionSet {
	ts := newTableStore(DefaultComparer, remote.NewInMem(), 1<<20, 1<<20)
	vs := newVersionSet(DefaultComparer, base.NoopLogger{}, ts, nil, 1)
	t.Cleanup(vs.close)
	return vs
}

func testTable(t *testing.T, s string) *manifest.TableMetadata {
	m, err := manifest.ParseTableMetadataDebug(s)
	require.NoError(t, err)
	return m
}

func TestVersionSetCommit(t *testing.T) {
	vs := newTestVersionSet(t)
	require.Equal(t, uint64(initialVersionID), vs.Current().ID)

	v, err := vs.Commit(3, []*manifest.TableMetadata{testTable(t, "000001:[a, c] epochs=[1, 3]")})
	require.NoError(t, err)
	require.Equal(t, uint64(2), v.ID)
	require.Equal(t, Epoch(3), v.MaxCommittedEpoch)

	// Committing an epoch without tables still advances the version.
	v, err = vs.Commit(4, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), v.ID)
	require.Len(t, v.Levels[0], 1)

	_, err = vs.Commit(2, nil)
	require.Error(t, err)
	_, err = vs.Commit(5, []*manifest.TableMetadata{testTable(t, "000002:[a, c] epochs=[5, 6]")})
	require.Error(t, err)
	require.Equal(t, uint64(3), vs.Current().ID)

	v, err = vs.Commit(6, []*manifest.TableMetadata{testTable(t, "000003:[b, d] epochs=[5, 6]")})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 1}, []uint64{v.Levels[0][0].TableNum, v.Levels[0][1].TableNum})
}

func TestVersionSetApplyCompaction(t *testing.T) {
	vs := newTestVersionSet(t)
	t1 := testTable(t, "000001:[a, c] epochs=[1, 1]")
	t2 := testTable(t, "000002:[b, f] epochs=[2, 2]")
	_, err := vs.Commit(2, []*manifest.TableMetadata{t1, t2})
	require.NoError(t, err)
	committed := vs.Current().MaxCommittedEpoch

	out := testTable(t, "000003:[a, f] epochs=[1, 2]")
	res := &CompactionResult{
		Task: &CompactionTask{
			ID:          1,
			Inputs:      []CompactionLevel{{Level: 0, Tables: []*manifest.TableMetadata{t2, t1}}},
			TargetLevel: 1,
		},
		Outputs: []*manifest.TableMetadata{out},
	}
	v, err := vs.ApplyCompaction(res)
	require.NoError(t, err)
	require.Empty(t, v.Levels[0])
	require.Equal(t, []*manifest.TableMetadata{out}, v.Levels[1])
	require.Equal(t, committed, v.MaxCommittedEpoch)
	require.Equal(t, 2, vs.ObsoleteTables())

	// The inputs are gone.
	_, err = vs.ApplyCompaction(res)
	require.True(t, errors.Is(err, ErrVersionStale), "%v", err)

	// An output overlapping a table at the target level that is not an input.
	t4 := testTable(t, "000004:[e, g] epochs=[3, 3]")
	_, err = vs.Commit(3, []*manifest.TableMetadata{t4})
	require.NoError(t, err)
	_, err = vs.ApplyCompaction(&CompactionResult{
		Task: &CompactionTask{
			ID:          2,
			Inputs:      []CompactionLevel{{Level: 0, Tables: []*manifest.TableMetadata{t4}}},
			TargetLevel: 1,
		},
		Outputs: []*manifest.TableMetadata{testTable(t, "000005:[e, g] epochs=[3, 3]")},
	})
	require.True(t, errors.Is(err, ErrVersionStale), "%v", err)
}

func TestVersionSetPinning(t *testing.T) {
	vs := newTestVersionSet(t)
	t1 := testTable(t, "000001:[a, c] epochs=[1, 1]")
	_, err := vs.Commit(1, []*manifest.TableMetadata{t1})
	require.NoError(t, err)

	p := vs.Pin()
	require.Equal(t, uint64(2), p.ID())
	require.NoError(t, vs.Unpin(p.ID()))
	require.Error(t, vs.Unpin(p.ID()))

	p = vs.Pin()
	_, err = vs.ApplyCompaction(&CompactionResult{
		Task: &CompactionTask{
			Inputs:      []CompactionLevel{{Level: 0, Tables: []*manifest.TableMetadata{t1}}},
			TargetLevel: 1,
		},
		Outputs: []*manifest.TableMetadata{testTable(t, "000002:[a, c] epochs=[1, 1]")},
	})
	require.NoError(t, err)
	require.Equal(t, 2, vs.LiveVersions())
	require.Zero(t, vs.ObsoleteTables())
	require.Equal(t, int32(1), t1.Refs())

	p2, err := vs.PinVersion(p.ID())
	require.NoError(t, err)
	p.Release()
	p.Release()
	require.Equal(t, 2, vs.LiveVersions())
	p2.Release()
	require.Equal(t, 1, vs.LiveVersions())
	require.Equal(t, 1, vs.ObsoleteTables())
	require.Zero(t, t1.Refs())

	_, err = vs.PinVersion(p.ID())
	require.True(t, errors.Is(err, ErrVersionStale), "%v", err)
}

func TestVersionSetSafeEpoch(t *testing.T) {
	vs := newTestVersionSet(t)
	_, err := vs.AdvanceSafeEpoch(1)
	require.Error(t, err)
	_, err = vs.Commit(10, nil)
	require.NoError(t, err)

	v, err := vs.AdvanceSafeEpoch(7)
	require.NoError(t, err)
	require.Equal(t, Epoch(7), v.SafeEpoch)
	id := v.ID

	// Lowering is a no-op and does not advance the version.
	v, err = vs.AdvanceSafeEpoch(5)
	require.NoError(t, err)
	require.Equal(t, id, v.ID)
	require.Equal(t, Epoch(7), v.SafeEpoch)
}

// TestObsoleteTablesWaitForCheckpoint checks that a table is only deleted
// once a checkpoint of a version without it is durable, so that recovery
// never finds a checkpoint referencing deleted tables.
func TestObsoleteTablesWaitForCheckpoint(t *testing.T) {
	ctx := context.Background()
	mem := remote.NewInMem()
	ts := newTableStore(DefaultComparer, mem, 1<<20, 1<<20)
	vs := newVersionSet(DefaultComparer, base.NoopLogger{}, ts, nil, 1)
	defer vs.close()

	t1 := testTable(t, "000001:[a, c] epochs=[1, 1]")
	require.NoError(t, mem.Put(ctx, "1.data", []byte("data")))
	require.NoError(t, mem.Put(ctx, "1.meta", []byte("meta")))
	_, err := vs.Commit(1, []*manifest.TableMetadata{t1})
	require.NoError(t, err)
	_, err = vs.Checkpoint(ctx)
	require.NoError(t, err)

	_, err = vs.ApplyCompaction(&CompactionResult{
		Task: &CompactionTask{
			Inputs:      []CompactionLevel{{Level: 0, Tables: []*manifest.TableMetadata{t1}}},
			TargetLevel: 1,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, vs.ObsoleteTables())
	n, err := vs.DeleteObsoleteTables(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	id, err := vs.Checkpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, vs.Current().ID, id)
	require.Equal(t, id, vs.DurableVersionID())
	n, err = vs.DeleteObsoleteTables(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	names, err := mem.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{checkpointObjectName(id)}, names)

	v, next, err := ReadCheckpoint(ctx, mem, DefaultComparer)
	require.NoError(t, err)
	require.Equal(t, id, v.ID)
	require.Equal(t, uint64(1), next)
}
