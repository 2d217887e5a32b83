// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

type key []byte

func (k *key) String() string {
	return string(*k)
}

func (k *key) Type() string {
	return "key"
}

func (k *key) Set(v string) error {
	switch {
	case strings.HasPrefix(v, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(v, "hex:"))
		if err != nil {
			return err
		}
		*k = key(b)

	case strings.HasPrefix(v, "raw:"):
		*k = key(strings.TrimPrefix(v, "raw:"))

	default:
		*k = key(v)
	}
	return nil
}

type formatter struct {
	spec string
	fn   func(w io.Writer, v []byte)
}

func (f *formatter) String() string {
	return f.spec
}

func (f *formatter) Type() string {
	return "formatter"
}

func (f *formatter) Set(spec string) error {
	f.spec = spec
	switch spec {
	case "hex":
		f.fn = formatHex
	case "null":
		f.fn = formatNull
	case "quoted":
		f.fn = formatQuoted
	default:
		if strings.Count(spec, "%") != 1 {
			return errors.Newf("unknown formatter: %q", spec)
		}
		f.fn = func(w io.Writer, v []byte) {
			fmt.Fprintf(w, spec, v)
		}
	}
	return nil
}

func (f *formatter) mustSet(spec string) {
	if err := f.Set(spec); err != nil {
		panic(err)
	}
}

func formatHex(w io.Writer, v []byte) {
	fmt.Fprintf(w, "[% x]", v)
}

func formatNull(w io.Writer, v []byte) {}

func formatQuoted(w io.Writer, v []byte) {
	q := strconv.AppendQuote(make([]byte, 0, len(v)), string(v))
	_, _ = w.Write(q[1 : len(q)-1])
}

// formatKV writes an entry as "<key>@<epoch>.SET <value>" or
// "<key>@<epoch>.DEL".
func formatKV(w io.Writer, fmtKey, fmtValue formatter, kv *base.InternalKV) {
	if fmtKey.spec != "null" {
		fmtKey.fn(w, kv.K.UserKey)
		fmt.Fprintf(w, "@%s.%s", kv.K.Epoch, kv.Kind)
	}
	if fmtValue.spec != "null" && !kv.IsTombstone() {
		if fmtKey.spec != "null" {
			_, _ = w.Write([]byte{' '})
		}
		fmtValue.fn(w, kv.V)
	}
	_, _ = w.Write([]byte{'\n'})
}

// parseTableNum parses a table number, with or without leading zeros.
func parseTableNum(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid table number %q", s)
	}
	return n, nil
}
