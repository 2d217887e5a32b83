// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/cache"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/cockroachdb/hummock/sstable"
	"golang.org/x/sync/errgroup"
)

// maxParallelMetaLoads bounds the concurrent meta object reads of a single
// read session.
const maxParallelMetaLoads = 8

// tableStore reads and writes the objects of sstables. Data blocks are
// cached decompressed, keyed by table number and block offset; meta objects
// are cached encoded, keyed by table number.
type tableStore struct {
	cmp    *Comparer
	objs   remote.Storage
	blocks *cache.Cache
	metas  *cache.Cache
}

func newTableStore(cmp *Comparer, objs remote.Storage, blockCacheSize, metaCacheSize int64) *tableStore {
	return &tableStore{
		cmp:    cmp,
		objs:   objs,
		blocks: cache.New(blockCacheSize),
		metas:  cache.New(metaCacheSize),
	}
}

func (ts *tableStore) tableNotFound(err error, tableNum uint64) error {
	if ts.objs.IsNotExistError(err) {
		return errors.Mark(errors.Wrapf(err, "hummock: table %06d", errors.Safe(tableNum)), base.ErrTableNotFound)
	}
	return errors.Wrapf(err, "hummock: table %06d", errors.Safe(tableNum))
}

// put writes the objects of a finished table. The data object is written
// before the meta object so that a table whose meta object exists is
// complete.
func (ts *tableStore) put(ctx context.Context, tableNum uint64, data []byte, meta *sstable.Meta) (uint64, error) {
	if err := ts.objs.Put(ctx, sstable.DataObjectName(tableNum), data); err != nil {
		return 0, err
	}
	encoded := meta.Encode(nil)
	if err := ts.objs.Put(ctx, sstable.MetaObjectName(tableNum), encoded); err != nil {
		return 0, err
	}
	return uint64(len(data) + len(encoded)), nil
}

// remove deletes the objects of a table and drops its cached blocks.
func (ts *tableStore) remove(ctx context.Context, tableNum uint64) error {
	ts.blocks.EvictTable(tableNum)
	ts.metas.EvictTable(tableNum)
	if err := ts.objs.Delete(ctx, sstable.MetaObjectName(tableNum)); err != nil {
		return err
	}
	return ts.objs.Delete(ctx, sstable.DataObjectName(tableNum))
}

// loadTable returns the decoded meta of a table, consulting the meta cache
// first.
func (ts *tableStore) loadTable(
	ctx context.Context, m *manifest.TableMetadata, stats *StoreLocalMetrics,
) (*sstable.Table, error) {
	stats.CacheMetaBlockTotal++
	encoded, ok := ts.metas.Get(m.TableNum, 0)
	if !ok {
		stats.CacheMetaBlockMiss++
		var err error
		encoded, err = ts.objs.Get(ctx, sstable.MetaObjectName(m.TableNum))
		if err != nil {
			return nil, ts.tableNotFound(err, m.TableNum)
		}
	}
	meta, err := sstable.DecodeMeta(encoded)
	if err != nil {
		return nil, errors.Wrapf(err, "hummock: table %06d", errors.Safe(m.TableNum))
	}
	if meta.ComparerName != ts.cmp.Name {
		return nil, base.CorruptionErrorf("hummock: table %06d was written with comparer %q, not %q",
			errors.Safe(m.TableNum), meta.ComparerName, ts.cmp.Name)
	}
	if !ok {
		ts.metas.Set(m.TableNum, 0, encoded)
	}
	return &sstable.Table{ID: m.TableNum, Meta: meta}, nil
}

// loadTables loads the metas of several tables in parallel. The returned
// tables are in the same order as the input.
func (ts *tableStore) loadTables(
	ctx context.Context, tables []*manifest.TableMetadata, stats *StoreLocalMetrics,
) ([]*sstable.Table, error) {
	res := make([]*sstable.Table, len(tables))
	if len(tables) == 1 {
		t, err := ts.loadTable(ctx, tables[0], stats)
		res[0] = t
		return res, err
	}
	local := make([]StoreLocalMetrics, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelMetaLoads)
	for i := range tables {
		g.Go(func() error {
			t, err := ts.loadTable(ctx, tables[i], &local[i])
			res[i] = t
			return err
		})
	}
	err := g.Wait()
	for i := range local {
		stats.Add(local[i])
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// readBlock returns the decompressed contents of block i of table t.
func (ts *tableStore) readBlock(
	ctx context.Context, t *sstable.Table, i int, stats *StoreLocalMetrics,
) ([]byte, error) {
	if i < 0 || i >= len(t.Meta.Blocks) {
		return nil, errors.AssertionFailedf("hummock: block %d out of range [0, %d)", i, len(t.Meta.Blocks))
	}
	h := t.Meta.Blocks[i].BlockHandle
	stats.CacheDataBlockTotal++
	if block, ok := ts.blocks.Get(t.ID, h.Offset); ok {
		return block, nil
	}
	stats.CacheDataBlockMiss++
	sealed, err := ts.objs.GetRange(ctx, sstable.DataObjectName(t.ID), int64(h.Offset), int64(h.Length))
	if err != nil {
		return nil, ts.tableNotFound(err, t.ID)
	}
	block, err := sstable.DecodeBlock(sealed)
	if err != nil {
		return nil, errors.Wrapf(err, "hummock: table %06d", errors.Safe(t.ID))
	}
	ts.blocks.Set(t.ID, h.Offset, block)
	return block, nil
}

// reader returns a BlockReader that counts its requests in stats.
func (ts *tableStore) reader(stats *StoreLocalMetrics) sstable.BlockReader {
	return tableReader{ts: ts, stats: stats}
}

type tableReader struct {
	ts    *tableStore
	stats *StoreLocalMetrics
}

var _ sstable.BlockReader = tableReader{}

// ReadBlock implements sstable.BlockReader.
func (r tableReader) ReadBlock(ctx context.Context, t *sstable.Table, i int) ([]byte, error) {
	return r.ts.readBlock(ctx, t, i, r.stats)
}
