// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package trace

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
)

// Kind identifies the variant of an Operation. It is the first byte of an
// encoded operation.
type Kind uint8

// The operation kinds. The values are part of the trace format.
const (
	KindGet Kind = iota + 1
	KindIngest
	KindIter
	KindSync
	KindAdvanceSafeEpoch
	KindCompact
)

var kindNames = map[Kind]string{
	KindGet:              "get",
	KindIngest:           "ingest",
	KindIter:             "iter",
	KindSync:             "sync",
	KindAdvanceSafeEpoch: "advance-safe-epoch",
	KindCompact:          "compact",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Operation is a traced call on a store. The set of operations is closed:
// it is one of *Get, *Ingest, *Iter, *Sync, *AdvanceSafeEpoch and *Compact.
type Operation interface {
	fmt.Stringer
	// Kind returns the variant of the operation.
	Kind() Kind
	// appendFields appends the encoding of the operation's fields.
	appendFields(buf []byte) []byte
	decodeFields(d *decoder)
}

// Get is a point lookup.
type Get struct {
	Key   []byte
	Epoch hummock.Epoch
}

// Ingest writes a batch at an epoch. Repr is the batch's encoded
// representation, as returned by Batch.Repr.
type Ingest struct {
	Epoch hummock.Epoch
	Repr  []byte
}

// Iter is a scan of a key range.
type Iter struct {
	Epoch    hummock.Epoch
	KeyRange hummock.KeyRange
	Reverse  bool
	// Limit is the maximum number of pairs returned. Zero means no limit.
	Limit uint64
}

// Sync flushes and commits the data of every epoch up to Epoch.
type Sync struct {
	Epoch hummock.Epoch
}

// AdvanceSafeEpoch raises the safe epoch.
type AdvanceSafeEpoch struct {
	Epoch hummock.Epoch
}

// Compact runs the highest scoring compaction, if any.
type Compact struct{}

var (
	_ Operation = (*Get)(nil)
	_ Operation = (*Ingest)(nil)
	_ Operation = (*Iter)(nil)
	_ Operation = (*Sync)(nil)
	_ Operation = (*AdvanceSafeEpoch)(nil)
	_ Operation = (*Compact)(nil)
)

// Kind implements Operation.
func (*Get) Kind() Kind { return KindGet }

// Kind implements Operation.
func (*Ingest) Kind() Kind { return KindIngest }

// Kind implements Operation.
func (*Iter) Kind() Kind { return KindIter }

// Kind implements Operation.
func (*Sync) Kind() Kind { return KindSync }

// Kind implements Operation.
func (*AdvanceSafeEpoch) Kind() Kind { return KindAdvanceSafeEpoch }

// Kind implements Operation.
func (*Compact) Kind() Kind { return KindCompact }

func (o *Get) String() string {
	return fmt.Sprintf("get %s@%s", o.Key, o.Epoch)
}

func (o *Ingest) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingest @%s", o.Epoch)
	var batch hummock.Batch
	if err := batch.SetRepr(o.Repr); err != nil {
		fmt.Fprintf(&b, " <%v>", err)
		return b.String()
	}
	r := batch.Reader()
	for {
		kind, key, value, ok, err := r.Next()
		if err != nil {
			fmt.Fprintf(&b, " <%v>", err)
			break
		}
		if !ok {
			break
		}
		if kind == base.InternalKeyKindDelete {
			fmt.Fprintf(&b, " del %s", key)
		} else {
			fmt.Fprintf(&b, " set %s=%s", key, value)
		}
	}
	return b.String()
}

func (o *Iter) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "iter @%s %s", o.Epoch, o.KeyRange)
	if o.Reverse {
		b.WriteString(" reverse")
	}
	if o.Limit > 0 {
		fmt.Fprintf(&b, " limit=%d", o.Limit)
	}
	return b.String()
}

func (o *Sync) String() string { return fmt.Sprintf("sync @%s", o.Epoch) }

func (o *AdvanceSafeEpoch) String() string {
	return fmt.Sprintf("advance-safe-epoch %s", o.Epoch)
}

func (*Compact) String() string { return "compact" }

func appendBytes(buf, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendBound(buf []byte, b hummock.Bound) []byte {
	buf = append(buf, byte(b.Kind))
	if b.Kind != base.Unbounded {
		buf = appendBytes(buf, b.Key)
	}
	return buf
}

func (o *Get) appendFields(buf []byte) []byte {
	buf = appendBytes(buf, o.Key)
	return binary.AppendUvarint(buf, uint64(o.Epoch))
}

func (o *Ingest) appendFields(buf []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(o.Epoch))
	return appendBytes(buf, o.Repr)
}

func (o *Iter) appendFields(buf []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(o.Epoch))
	buf = appendBound(buf, o.KeyRange.Start)
	buf = appendBound(buf, o.KeyRange.End)
	buf = appendBool(buf, o.Reverse)
	return binary.AppendUvarint(buf, o.Limit)
}

func (o *Sync) appendFields(buf []byte) []byte {
	return binary.AppendUvarint(buf, uint64(o.Epoch))
}

func (o *AdvanceSafeEpoch) appendFields(buf []byte) []byte {
	return binary.AppendUvarint(buf, uint64(o.Epoch))
}

func (*Compact) appendFields(buf []byte) []byte { return buf }

// AppendOperation appends the encoding of op to buf: the kind byte followed
// by the operation's uvarint framed fields.
func AppendOperation(buf []byte, op Operation) []byte {
	buf = append(buf, byte(op.Kind()))
	return op.appendFields(buf)
}

// decoder reads the fields of an encoded operation. The first failure is
// sticky; later reads return zero values.
type decoder struct {
	data []byte
	err  error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = base.CorruptionErrorf("hummock/trace: "+format, args...)
	}
}

func (d *decoder) uvarint(field string) uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.data)
	if n <= 0 {
		d.fail("malformed %s", field)
		return 0
	}
	d.data = d.data[n:]
	return v
}

func (d *decoder) bytes(field string) []byte {
	n := d.uvarint(field)
	if d.err != nil {
		return nil
	}
	if n > uint64(len(d.data)) {
		d.fail("%s length %d exceeds the remaining %d bytes", field, n, len(d.data))
		return nil
	}
	b := d.data[:n:n]
	d.data = d.data[n:]
	return b
}

func (d *decoder) readByte(field string) byte {
	if d.err != nil {
		return 0
	}
	if len(d.data) == 0 {
		d.fail("missing %s", field)
		return 0
	}
	b := d.data[0]
	d.data = d.data[1:]
	return b
}

func (d *decoder) readBool(field string) bool {
	switch b := d.readByte(field); b {
	case 0:
		return false
	case 1:
		return true
	default:
		d.fail("malformed %s 0x%x", field, b)
		return false
	}
}

func (d *decoder) epoch(field string) hummock.Epoch {
	return hummock.Epoch(d.uvarint(field))
}

func (d *decoder) bound(field string) hummock.Bound {
	kind := base.BoundKind(d.readByte(field))
	switch kind {
	case base.Unbounded:
		return base.UnboundedBound()
	case base.Included, base.Excluded:
		return hummock.Bound{Kind: kind, Key: d.bytes(field)}
	default:
		d.fail("malformed %s kind %d", field, kind)
		return hummock.Bound{}
	}
}

func (o *Get) decodeFields(d *decoder) {
	o.Key = d.bytes("key")
	o.Epoch = d.epoch("epoch")
}

func (o *Ingest) decodeFields(d *decoder) {
	o.Epoch = d.epoch("epoch")
	o.Repr = d.bytes("batch")
}

func (o *Iter) decodeFields(d *decoder) {
	o.Epoch = d.epoch("epoch")
	o.KeyRange.Start = d.bound("start bound")
	o.KeyRange.End = d.bound("end bound")
	o.Reverse = d.readBool("reverse")
	o.Limit = d.uvarint("limit")
}

func (o *Sync) decodeFields(d *decoder) {
	o.Epoch = d.epoch("epoch")
}

func (o *AdvanceSafeEpoch) decodeFields(d *decoder) {
	o.Epoch = d.epoch("epoch")
}

func (*Compact) decodeFields(*decoder) {}

// DecodeOperation decodes an operation encoded by AppendOperation. The
// returned operation aliases data. A malformed encoding, including trailing
// bytes, is a corruption error.
func DecodeOperation(data []byte) (Operation, error) {
	if len(data) == 0 {
		return nil, base.CorruptionErrorf("hummock/trace: empty operation")
	}
	var op Operation
	switch k := Kind(data[0]); k {
	case KindGet:
		op = &Get{}
	case KindIngest:
		op = &Ingest{}
	case KindIter:
		op = &Iter{}
	case KindSync:
		op = &Sync{}
	case KindAdvanceSafeEpoch:
		op = &AdvanceSafeEpoch{}
	case KindCompact:
		op = &Compact{}
	default:
		return nil, base.CorruptionErrorf("hummock/trace: unknown operation kind %d", errors.Safe(uint8(k)))
	}
	d := decoder{data: data[1:]}
	op.decodeFields(&d)
	if d.err != nil {
		return nil, errors.Wrapf(d.err, "decoding %s", op.Kind())
	}
	if len(d.data) > 0 {
		return nil, base.CorruptionErrorf("hummock/trace: %d trailing bytes after %s", len(d.data), op.Kind())
	}
	return op, nil
}
