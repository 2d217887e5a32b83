// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// BlockReader fetches the decompressed data blocks of tables. The store's
// table cache implements it on top of the block cache and the object store.
type BlockReader interface {
	// ReadBlock returns the decompressed contents of block i of table t. The
	// returned slice must not be modified.
	ReadBlock(ctx context.Context, t *Table, i int) ([]byte, error)
}

// MemBlockReader is a BlockReader over data objects held in memory, keyed by
// table id.
type MemBlockReader map[uint64][]byte

var _ BlockReader = MemBlockReader(nil)

// ReadBlock implements BlockReader.
func (m MemBlockReader) ReadBlock(_ context.Context, t *Table, i int) ([]byte, error) {
	data, ok := m[t.ID]
	if !ok {
		return nil, errors.Mark(errors.Newf("hummock: table %d not found", t.ID), base.ErrTableNotFound)
	}
	if i < 0 || i >= len(t.Meta.Blocks) {
		return nil, errors.AssertionFailedf("hummock: block %d out of range [0, %d)", i, len(t.Meta.Blocks))
	}
	h := t.Meta.Blocks[i].BlockHandle
	if h.Offset+h.Length > uint64(len(data)) {
		return nil, base.CorruptionErrorf("hummock/table: block %d of table %d extends past the data object", i, t.ID)
	}
	return DecodeBlock(data[h.Offset : h.Offset+h.Length])
}

// Iter iterates over the entries of a single table, loading blocks through a
// BlockReader as it moves. Calling Next or Prev on an exhausted iterator
// returns nil; reposition it with a seek, First or Last.
type Iter struct {
	ctx     context.Context
	cmp     base.Compare
	table   *Table
	reader  BlockReader
	index   int
	loaded  bool
	data    blockIter
	seekBuf []byte
	err     error

	// BlocksLoaded counts the blocks fetched through the reader.
	BlocksLoaded int
}

var _ base.InternalIterator = (*Iter)(nil)

// NewIter returns an iterator over t. The context is used for every block
// fetch.
func NewIter(ctx context.Context, cmp base.Compare, t *Table, r BlockReader) *Iter {
	return &Iter{ctx: ctx, cmp: cmp, table: t, reader: r}
}

// Table returns the table the iterator reads.
func (i *Iter) Table() *Table {
	return i.table
}

func (i *Iter) loadBlock(index int) bool {
	i.loaded = false
	i.index = index
	if i.err != nil || index < 0 || index >= len(i.table.Meta.Blocks) {
		return false
	}
	block, err := i.reader.ReadBlock(i.ctx, i.table, index)
	if err != nil {
		i.err = errors.Wrapf(err, "reading block %d of table %d", index, i.table.ID)
		return false
	}
	i.BlocksLoaded++
	if err := i.data.init(i.cmp, block); err != nil {
		i.err = errors.Wrapf(err, "block %d of table %d", index, i.table.ID)
		return false
	}
	i.loaded = true
	return true
}

// blockErr captures an error from the current block iterator.
func (i *Iter) blockErr() bool {
	if err := i.data.Error(); err != nil && i.err == nil {
		i.err = errors.Wrapf(err, "block %d of table %d", i.index, i.table.ID)
	}
	return i.err != nil
}

func (i *Iter) skipForward() *base.InternalKV {
	for {
		if i.blockErr() || !i.loadBlock(i.index+1) {
			i.loaded = false
			return nil
		}
		if kv := i.data.First(); kv != nil {
			return kv
		}
	}
}

func (i *Iter) skipBackward() *base.InternalKV {
	for {
		if i.blockErr() || !i.loadBlock(i.index-1) {
			i.loaded = false
			return nil
		}
		if kv := i.data.Last(); kv != nil {
			return kv
		}
	}
}

// SeekGE implements base.InternalIterator.
func (i *Iter) SeekGE(key base.InternalKey) *base.InternalKV {
	i.seekBuf = key.Encode(i.seekBuf[:0])
	blocks := i.table.Meta.Blocks
	// The last block whose first key is <= the key sought.
	index := sort.Search(len(blocks), func(j int) bool {
		return base.CompareEncoded(i.cmp, blocks[j].FirstKey, i.seekBuf) > 0
	}) - 1
	if index < 0 {
		index = 0
	}
	if !i.loadBlock(index) {
		return nil
	}
	if kv := i.data.SeekGE(i.seekBuf); kv != nil {
		return kv
	}
	return i.skipForward()
}

// SeekLT implements base.InternalIterator.
func (i *Iter) SeekLT(key base.InternalKey) *base.InternalKV {
	i.seekBuf = key.Encode(i.seekBuf[:0])
	blocks := i.table.Meta.Blocks
	// The last block whose first key is < the key sought.
	index := sort.Search(len(blocks), func(j int) bool {
		return base.CompareEncoded(i.cmp, blocks[j].FirstKey, i.seekBuf) >= 0
	}) - 1
	if !i.loadBlock(index) {
		return nil
	}
	if kv := i.data.SeekLT(i.seekBuf); kv != nil {
		return kv
	}
	return i.skipBackward()
}

// First implements base.InternalIterator.
func (i *Iter) First() *base.InternalKV {
	if !i.loadBlock(0) {
		return nil
	}
	if kv := i.data.First(); kv != nil {
		return kv
	}
	return i.skipForward()
}

// Last implements base.InternalIterator.
func (i *Iter) Last() *base.InternalKV {
	if !i.loadBlock(len(i.table.Meta.Blocks) - 1) {
		return nil
	}
	if kv := i.data.Last(); kv != nil {
		return kv
	}
	return i.skipBackward()
}

// Next implements base.InternalIterator.
func (i *Iter) Next() *base.InternalKV {
	if !i.loaded {
		return nil
	}
	if kv := i.data.Next(); kv != nil {
		return kv
	}
	return i.skipForward()
}

// Prev implements base.InternalIterator.
func (i *Iter) Prev() *base.InternalKV {
	if !i.loaded {
		return nil
	}
	if kv := i.data.Prev(); kv != nil {
		return kv
	}
	return i.skipBackward()
}

// Error implements base.InternalIterator.
func (i *Iter) Error() error {
	i.blockErr()
	return i.err
}

// Close implements base.InternalIterator.
func (i *Iter) Close() error {
	err := i.Error()
	i.loaded = false
	return err
}

// Get returns the newest version of userKey with an epoch <= epoch, or
// ok=false if the table holds no such version. It consults the bloom filter
// first.
func Get(
	ctx context.Context, cmp base.Compare, t *Table, r BlockReader, userKey []byte, epoch base.Epoch,
) (kv base.InternalKV, ok bool, err error) {
	if !t.ContainsPossibly(userKey) {
		return kv, false, nil
	}
	it := NewIter(ctx, cmp, t, r)
	defer it.Close()
	found := it.SeekGE(base.MakeSearchKey(userKey, epoch))
	if found == nil || cmp(found.K.UserKey, userKey) != 0 {
		return kv, false, it.Error()
	}
	kv = base.InternalKV{
		K:    found.K.Clone(),
		Kind: found.Kind,
		V:    bytes.Clone(found.V),
	}
	return kv, true, nil
}
