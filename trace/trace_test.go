// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package trace

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func testOps() []Operation {
	var b hummock.Batch
	b.Set([]byte("apple"), []byte("red"))
	b.Delete([]byte("banana"))
	return []Operation{
		&Ingest{Epoch: 3, Repr: append([]byte(nil), b.Repr()...)},
		&Get{Key: []byte("apple"), Epoch: 3},
		&Iter{Epoch: hummock.Epoch(base.EpochMax), KeyRange: base.KeyRangeEndExclusive([]byte("a"), []byte("c")), Reverse: true, Limit: 10},
		&Iter{Epoch: 4, KeyRange: hummock.KeyRange{End: base.IncludedBound([]byte("z"))}},
		&Sync{Epoch: 3},
		&AdvanceSafeEpoch{Epoch: 2},
		&Compact{},
	}
}

// writeTrace encodes ops and returns the trace along with the offset of the
// end of each record.
func writeTrace(t *testing.T, ops []Operation) ([]byte, []int) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	var ends []int
	for _, op := range ops {
		require.NoError(t, w.Write(op))
		require.NoError(t, w.Flush())
		ends = append(ends, buf.Len())
	}
	require.NoError(t, w.Flush())
	return buf.Bytes(), ends
}

func TestOperationString(t *testing.T) {
	var got []string
	for _, op := range testOps() {
		got = append(got, op.String())
	}
	require.Equal(t, []string{
		"ingest @3 set apple=red del banana",
		"get apple@3",
		"iter @inf [a, c) reverse limit=10",
		"iter @4 (-inf, z]",
		"sync @3",
		"advance-safe-epoch 2",
		"compact",
	}, got)
}

func TestRoundTrip(t *testing.T) {
	ops := testOps()
	data, _ := writeTrace(t, ops)
	require.Equal(t, Magic, binary.LittleEndian.Uint32(data))

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	for _, want := range ops {
		got, err := r.Read()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = r.Read()
	require.Equal(t, io.EOF, err)
	// The end of the trace is sticky.
	_, err = r.Read()
	require.Equal(t, io.EOF, err)
}

func TestReadN(t *testing.T) {
	ops := testOps()
	data, _ := writeTrace(t, ops)
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	got, err := r.ReadN(3)
	require.NoError(t, err)
	require.Equal(t, ops[:3], got)
	got, err = r.ReadN(0)
	require.NoError(t, err)
	require.Empty(t, got)

	// A negative count fails without consuming the trace.
	got, err = r.ReadN(-1)
	require.Error(t, err)
	require.Nil(t, got)
	got, err = r.ReadN(1)
	require.NoError(t, err)
	require.Equal(t, ops[3:4], got)

	got, err = r.ReadN(len(ops))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF), "%v", err)
	require.Nil(t, got)
}

func TestBadMagic(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{0x52, 0x54, 0x4d, 0x49, 0, 0}))
	require.True(t, errors.Is(err, ErrBadMagic), "%v", err)
	require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)
}

// TestTruncated checks that a trace cut at a record boundary ends cleanly
// and that one cut within a record fails with io.ErrUnexpectedEOF.
func TestTruncated(t *testing.T) {
	ops := testOps()
	data, ends := writeTrace(t, ops)

	for n := 0; n < len(data); n++ {
		r, err := NewReader(bytes.NewReader(data[:n]))
		if n < magicLen {
			require.True(t, errors.Is(err, io.ErrUnexpectedEOF), "length %d: %v", n, err)
			continue
		}
		require.NoError(t, err)

		var complete int
		for _, end := range ends {
			if end <= n {
				complete++
			}
		}
		atBoundary := n == magicLen
		for _, end := range ends {
			atBoundary = atBoundary || end == n
		}

		for i := 0; i < complete; i++ {
			op, err := r.Read()
			require.NoError(t, err, "length %d", n)
			require.Equal(t, ops[i], op)
		}
		_, err = r.Read()
		if atBoundary {
			require.Equal(t, io.EOF, err, "length %d", n)
		} else {
			require.True(t, errors.Is(err, io.ErrUnexpectedEOF), "length %d: %v", n, err)
		}
	}
}

func TestRecordTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(binary.LittleEndian.AppendUint32(nil, Magic))
	buf.Write(binary.LittleEndian.AppendUint64(nil, MaxRecordSize+1))

	r, err := NewReader(&buf)
	require.NoError(t, err)
	_, err = r.Read()
	require.True(t, errors.Is(err, base.ErrCorruption), "%v", err)
}

func TestDecodeOperationCorruption(t *testing.T) {
	for _, op := range testOps() {
		enc := AppendOperation(nil, op)
		// Every strict prefix of an operation lacks a field.
		for n := 0; n < len(enc); n++ {
			_, err := DecodeOperation(enc[:n])
			require.True(t, errors.Is(err, base.ErrCorruption), "%s truncated to %d: %v", op, n, err)
		}
		_, err := DecodeOperation(append(enc, 0))
		require.True(t, errors.Is(err, base.ErrCorruption), "%s with a trailing byte: %v", op, err)
	}

	for _, enc := range [][]byte{
		{0},
		{byte(KindCompact) + 1},
		// A key length past the end of the record.
		{byte(KindGet), 5, 'a'},
		// A malformed bound kind.
		{byte(KindIter), 1, 7},
		// A malformed reverse flag.
		{byte(KindIter), 1, 0, 0, 2, 0},
	} {
		_, err := DecodeOperation(enc)
		require.True(t, errors.Is(err, base.ErrCorruption), "%x: %v", enc, err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterStickyError(t *testing.T) {
	w, err := NewWriter(failingWriter{})
	require.NoError(t, err)
	require.NoError(t, w.Write(&Compact{}))
	err = w.Flush()
	require.Error(t, err)
	require.Equal(t, err, w.Write(&Sync{Epoch: 1}))
	require.Equal(t, err, w.Flush())
}
