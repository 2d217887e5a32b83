// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Epoch is a logical timestamp identifying the commit point of a write. A key
// written at a higher epoch takes precedence over the same user key written at
// a lower epoch. Readers use an epoch to read a consistent snapshot, ignoring
// versions written at larger epochs.
type Epoch uint64

const (
	// EpochZero is the zero epoch. No data is ever committed at EpochZero; it
	// is the initial max committed epoch and safe epoch of an empty store.
	EpochZero Epoch = 0
	// EpochMax is the largest representable epoch. Reading at EpochMax
	// observes every committed and buffered version.
	EpochMax Epoch = math.MaxUint64
)

func (e Epoch) String() string {
	if e == EpochMax {
		return "inf"
	}
	return strconv.FormatUint(uint64(e), 10)
}

// SafeFormat implements redact.SafeFormatter.
func (e Epoch) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(e.String()))
}

// ParseEpoch parses the string representation of an epoch. "inf" is accepted
// as EpochMax.
func ParseEpoch(s string) Epoch {
	if s == "inf" {
		return EpochMax
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("error parsing %q as epoch: %s", s, err))
	}
	return Epoch(n)
}

// ValidateEpoch returns an error marked with ErrExpiredEpoch if the requested
// read epoch is older than the safe epoch. History below the safe epoch may
// already have been reclaimed by compaction, so such a read cannot be served.
//
// ValidateEpoch is called once when a read session pins a version, not once
// per key: the safe epoch is fixed for the lifetime of the pinned version.
func ValidateEpoch(safeEpoch, requested Epoch) error {
	if requested < safeEpoch {
		return errors.Mark(
			errors.Newf("hummock: read epoch %s is below safe epoch %s", requested, safeEpoch),
			ErrExpiredEpoch)
	}
	return nil
}
