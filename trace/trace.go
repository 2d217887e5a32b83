// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package trace reads and writes traces of the calls made on a store, for
// replaying a workload deterministically against another store.
//
// The trace format is a 4-byte little-endian magic number followed by a
// sequence of records:
//
//	+---------------------+---------------------------------+
//	| length (8 bytes LE) | operation (length bytes)        |
//	+---------------------+---------------------------------+
//
// An operation is a kind byte followed by the operation's fields, each a
// uvarint or a uvarint length prefixed byte string.
package trace

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// Magic is the magic number a trace starts with ("HMTR").
const Magic uint32 = 0x484D5452

const (
	magicLen        = 4
	recordHeaderLen = 8
)

// MaxRecordSize is the largest operation a Reader accepts. A record whose
// length field exceeds it is a corruption error.
const MaxRecordSize = 256 << 20

// ErrBadMagic is returned by NewReader when the trace does not start with the
// magic number. It is a corruption error.
var ErrBadMagic = base.MarkCorruptionError(errors.New("hummock/trace: bad magic number"))

// Writer writes a trace. It is not safe for concurrent use.
type Writer struct {
	w   *bufio.Writer
	buf []byte
	err error
}

// NewWriter writes the magic number to w and returns a Writer appending
// records after it. The trace is buffered; call Flush to write it out.
func NewWriter(w io.Writer) (*Writer, error) {
	tw := &Writer{w: bufio.NewWriter(w)}
	var magic [magicLen]byte
	binary.LittleEndian.PutUint32(magic[:], Magic)
	if _, err := tw.w.Write(magic[:]); err != nil {
		return nil, errors.Wrap(err, "hummock/trace: writing magic number")
	}
	return tw, nil
}

// Write appends a record holding op. After a failed write every later call
// returns the same error.
func (w *Writer) Write(op Operation) error {
	if w.err != nil {
		return w.err
	}
	w.buf = append(w.buf[:0], make([]byte, recordHeaderLen)...)
	w.buf = AppendOperation(w.buf, op)
	binary.LittleEndian.PutUint64(w.buf[:recordHeaderLen], uint64(len(w.buf)-recordHeaderLen))
	if _, err := w.w.Write(w.buf); err != nil {
		w.err = errors.Wrapf(err, "hummock/trace: writing %s", op.Kind())
	}
	return w.err
}

// Flush writes any buffered records to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = errors.Wrap(err, "hummock/trace: flushing")
	}
	return w.err
}

// Reader reads the operations of a trace.
type Reader struct {
	r      io.Reader
	header [recordHeaderLen]byte
	// n is the number of records read.
	n int
}

// NewReader reads and validates the magic number of a trace. A trace that
// does not start with the magic number returns an error marked ErrBadMagic.
func NewReader(r io.Reader) (*Reader, error) {
	var magic [magicLen]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "hummock/trace: reading magic number")
	}
	if m := binary.LittleEndian.Uint32(magic[:]); m != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "found 0x%08x, expected 0x%08x", m, Magic)
	}
	return &Reader{r: r}, nil
}

// Read returns the next operation. It returns io.EOF if the trace ends at a
// record boundary. A trace ending within a record returns an error wrapping
// io.ErrUnexpectedEOF, and a malformed record a corruption error.
func (r *Reader) Read() (Operation, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(err, "hummock/trace: reading header of record %d", r.n)
	}
	length := binary.LittleEndian.Uint64(r.header[:])
	if length > MaxRecordSize {
		return nil, base.CorruptionErrorf("hummock/trace: record %d has length %d, above the maximum %d",
			r.n, length, MaxRecordSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "hummock/trace: reading record %d (%d bytes)", r.n, length)
	}
	op, err := DecodeOperation(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "record %d", r.n)
	}
	r.n++
	return op, nil
}

// ReadN returns the next n operations. If fewer than n operations can be
// read, it returns an error and no operations; a trace ending before the
// n-th operation returns an error wrapping io.ErrUnexpectedEOF. A negative
// n is an error.
func (r *Reader) ReadN(n int) ([]Operation, error) {
	if n < 0 {
		return nil, errors.Newf("hummock/trace: invalid operation count %d", n)
	}
	ops := make([]Operation, 0, n)
	for len(ops) < n {
		op, err := r.Read()
		if err != nil {
			if err == io.EOF {
				err = errors.Wrapf(io.ErrUnexpectedEOF, "hummock/trace: trace ended after %d of %d operations", len(ops), n)
			}
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
