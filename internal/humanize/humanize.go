// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package humanize formats byte sizes and counts for metrics output.
package humanize

import (
	"fmt"
	"math"

	"github.com/cockroachdb/redact"
)

func humanate(s uint64, base float64, suffixes []string) string {
	if s < 10 {
		return fmt.Sprintf("%d%s", s, suffixes[0])
	}
	v := float64(s)
	e := 0
	for v >= base && e < len(suffixes)-1 {
		v /= base
		e++
	}
	v = math.Floor(v*10+0.5) / 10
	if v < 10 {
		return fmt.Sprintf("%.1f%s", v, suffixes[e])
	}
	return fmt.Sprintf("%.0f%s", v, suffixes[e])
}

type config struct {
	base   float64
	suffix []string
}

// Bytes produces human readable representations of byte values in IEC units.
var Bytes = config{1024, []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}}

// Count produces human readable representations of unitless values in SI units.
var Count = config{1000, []string{"", "K", "M", "G", "T", "P", "E"}}

// Int64 produces a human readable representation of the value.
func (c *config) Int64(s int64) FormattedString {
	if s < 0 {
		return FormattedString("-" + humanate(uint64(-s), c.base, c.suffix))
	}
	return FormattedString(humanate(uint64(s), c.base, c.suffix))
}

// Uint64 produces a human readable representation of the value.
func (c *config) Uint64(s uint64) FormattedString {
	return FormattedString(humanate(s, c.base, c.suffix))
}

// FormattedString is a human readable value. It is never redacted.
type FormattedString string

var _ redact.SafeValue = FormattedString("")

// SafeValue implements redact.SafeValue.
func (fs FormattedString) SafeValue() {}

// String implements fmt.Stringer.
func (fs FormattedString) String() string { return string(fs) }
