// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

const batchHeaderLen = 4

// ErrInvalidBatch indicates that a batch is invalid or otherwise corrupted.
var ErrInvalidBatch = base.MarkCorruptionError(errors.New("hummock: invalid batch"))

// A Batch is a sequence of Sets and Deletes that are ingested into the store
// at a single epoch.
//
// The batch's wire format is a 4 byte little-endian count followed by count
// records, each consisting of:
//   - one byte for the kind,
//   - the varint-string user key,
//   - the varint-string value (if kind != delete).
//
// A Batch is not safe for concurrent use.
type Batch struct {
	data []byte
}

func (b *Batch) init() {
	if len(b.data) == 0 {
		b.data = make([]byte, batchHeaderLen, 1<<10)
	}
}

// Count returns the number of records in the batch.
func (b *Batch) Count() uint32 {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data)
}

// Empty returns true if the batch holds no records.
func (b *Batch) Empty() bool {
	return b.Count() == 0
}

// Len returns the size of the batch's wire representation.
func (b *Batch) Len() int {
	return len(b.data)
}

func (b *Batch) add(kind base.InternalKeyKind, key, value []byte) {
	b.init()
	b.data = append(b.data, byte(kind))
	b.data = binary.AppendUvarint(b.data, uint64(len(key)))
	b.data = append(b.data, key...)
	if kind != base.InternalKeyKindDelete {
		b.data = binary.AppendUvarint(b.data, uint64(len(value)))
		b.data = append(b.data, value...)
	}
	binary.LittleEndian.PutUint32(b.data, b.Count()+1)
}

// Set adds an action to the batch that sets the key to map to the value. It
// is safe to modify the contents of the arguments after Set returns.
func (b *Batch) Set(key, value []byte) {
	b.add(base.InternalKeyKindSet, key, value)
}

// Delete adds an action to the batch that deletes the key. It is safe to
// modify the contents of the argument after Delete returns.
func (b *Batch) Delete(key []byte) {
	b.add(base.InternalKeyKindDelete, key, nil)
}

// Reset resets the batch for reuse.
func (b *Batch) Reset() {
	b.data = b.data[:0]
}

// Repr returns the underlying batch representation. It is not a copy, so the
// contents should not be modified.
func (b *Batch) Repr() []byte {
	b.init()
	return b.data
}

// SetRepr sets the underlying batch representation, validating it first.
// The batch takes ownership of data.
func (b *Batch) SetRepr(data []byte) error {
	if len(data) < batchHeaderLen {
		return errors.Wrapf(ErrInvalidBatch, "%d byte batch", len(data))
	}
	r := BatchReader(data[batchHeaderLen:])
	var n uint32
	for {
		_, _, _, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		n++
	}
	if count := binary.LittleEndian.Uint32(data); count != n {
		return errors.Wrapf(ErrInvalidBatch, "header count %d, %d records", count, n)
	}
	b.data = data
	return nil
}

// Reader returns a BatchReader for the records of the batch.
func (b *Batch) Reader() BatchReader {
	if len(b.data) < batchHeaderLen {
		return nil
	}
	return b.data[batchHeaderLen:]
}

// BatchReader iterates over the records of a batch.
type BatchReader []byte

func batchDecodeStr(data []byte) (odata []byte, s []byte, ok bool) {
	v, n := binary.Uvarint(data)
	if n <= 0 || v > uint64(len(data)-n) {
		return nil, nil, false
	}
	data = data[n:]
	return data[v:], data[:v], true
}

// Next returns the next record of the batch, or ok=false once the batch is
// exhausted. The returned slices alias the batch.
func (r *BatchReader) Next() (kind base.InternalKeyKind, ukey []byte, value []byte, ok bool, err error) {
	if len(*r) == 0 {
		return 0, nil, nil, false, nil
	}
	kind = base.InternalKeyKind((*r)[0])
	if kind > base.InternalKeyKindMax {
		return 0, nil, nil, false, errors.Wrapf(ErrInvalidBatch, "invalid key kind 0x%x", (*r)[0])
	}
	*r, ukey, ok = batchDecodeStr((*r)[1:])
	if !ok {
		return 0, nil, nil, false, errors.Wrapf(ErrInvalidBatch, "decoding user key")
	}
	if kind != base.InternalKeyKindDelete {
		*r, value, ok = batchDecodeStr(*r)
		if !ok {
			return 0, nil, nil, false, errors.Wrapf(ErrInvalidBatch, "decoding %s value", kind)
		}
	}
	return kind, ukey, value, true, nil
}
