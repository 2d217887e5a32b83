// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"strings"
)

// BoundKind indicates whether a bound is unbounded, inclusive or exclusive.
type BoundKind uint8

// The three possible values of BoundKind. Unbounded is the zero value so that
// a zero KeyRange covers the whole key space.
const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

func (k BoundKind) String() string {
	switch k {
	case Unbounded:
		return "unbounded"
	case Included:
		return "included"
	case Excluded:
		return "excluded"
	default:
		return fmt.Sprintf("BoundKind(%d)", k)
	}
}

// Bound is one end of a user key range.
type Bound struct {
	Kind BoundKind
	Key  []byte
}

// UnboundedBound returns a bound that excludes nothing.
func UnboundedBound() Bound { return Bound{} }

// IncludedBound returns an inclusive bound at key.
func IncludedBound(key []byte) Bound { return Bound{Kind: Included, Key: key} }

// ExcludedBound returns an exclusive bound at key.
func ExcludedBound(key []byte) Bound { return Bound{Kind: Excluded, Key: key} }

// KeyRange is a user key range with independent start and end bounds.
type KeyRange struct {
	Start Bound
	End   Bound
}

// FullKeyRange returns the range covering every user key.
func FullKeyRange() KeyRange { return KeyRange{} }

// IsFull returns true if neither side of the range is bounded.
func (r KeyRange) IsFull() bool {
	return r.Start.Kind == Unbounded && r.End.Kind == Unbounded
}

// KeyRangeInclusive returns the range [start, end].
func KeyRangeInclusive(start, end []byte) KeyRange {
	return KeyRange{Start: IncludedBound(start), End: IncludedBound(end)}
}

// KeyRangeEndExclusive returns the range [start, end).
func KeyRangeEndExclusive(start, end []byte) KeyRange {
	return KeyRange{Start: IncludedBound(start), End: ExcludedBound(end)}
}

// RangeOverlap returns true if the user key range r intersects the inclusive
// table interval [smallest, largest].
//
// When reverse is true the range describes a reverse scan: its Start bound is
// the (upper) position the scan begins at and its End bound the (lower)
// position it walks toward, so the two bounds swap roles before comparing.
// The store itself always holds ranges in forward form (IterOptions carries
// direction separately, and KeyRange.Overlaps passes false), so the reverse
// form only serves callers that keep a range in scan order, such as a planner
// that records the bounds of a reverse read as issued.
//
// The table is too far left when it ends before the lower bound and too far
// right when it begins after the upper bound; it overlaps iff neither holds.
func RangeOverlap(cmp Compare, r KeyRange, smallest, largest []byte, reverse bool) bool {
	lower, upper := r.Start, r.End
	if reverse {
		lower, upper = r.End, r.Start
	}
	var tooLeft bool
	switch lower.Kind {
	case Included:
		tooLeft = cmp(lower.Key, largest) > 0
	case Excluded:
		tooLeft = cmp(lower.Key, largest) >= 0
	}
	var tooRight bool
	switch upper.Kind {
	case Included:
		tooRight = cmp(upper.Key, smallest) < 0
	case Excluded:
		tooRight = cmp(upper.Key, smallest) <= 0
	}
	return !tooLeft && !tooRight
}

// Overlaps returns true if the forward range r intersects [smallest, largest].
func (r KeyRange) Overlaps(cmp Compare, smallest, largest []byte) bool {
	return RangeOverlap(cmp, r, smallest, largest, false /* reverse */)
}

// AfterStart returns true if userKey is not excluded by the start bound.
func (r KeyRange) AfterStart(cmp Compare, userKey []byte) bool {
	switch r.Start.Kind {
	case Included:
		return cmp(userKey, r.Start.Key) >= 0
	case Excluded:
		return cmp(userKey, r.Start.Key) > 0
	}
	return true
}

// BeforeEnd returns true if userKey is not excluded by the end bound.
func (r KeyRange) BeforeEnd(cmp Compare, userKey []byte) bool {
	switch r.End.Kind {
	case Included:
		return cmp(userKey, r.End.Key) <= 0
	case Excluded:
		return cmp(userKey, r.End.Key) < 0
	}
	return true
}

// Contains returns true if userKey is within the forward range r.
func (r KeyRange) Contains(cmp Compare, userKey []byte) bool {
	return r.AfterStart(cmp, userKey) && r.BeforeEnd(cmp, userKey)
}

func (r KeyRange) String() string {
	return r.Format(DefaultFormatter)
}

// Format converts the range to a string of the form "[foo, bar)" using the
// given key formatter. An unbounded side is written as "-inf" or "+inf".
func (r KeyRange) Format(fmtKey FormatKey) string {
	var b strings.Builder
	switch r.Start.Kind {
	case Unbounded:
		b.WriteString("(-inf")
	case Included:
		fmt.Fprintf(&b, "[%s", fmtKey(r.Start.Key))
	case Excluded:
		fmt.Fprintf(&b, "(%s", fmtKey(r.Start.Key))
	}
	b.WriteString(", ")
	switch r.End.Kind {
	case Unbounded:
		b.WriteString("+inf)")
	case Included:
		fmt.Fprintf(&b, "%s]", fmtKey(r.End.Key))
	case Excluded:
		fmt.Fprintf(&b, "%s)", fmtKey(r.End.Key))
	}
	return b.String()
}

// ParseKeyRange parses the string representation of a key range, as produced
// by KeyRange.String. Examples: "[a, c)", "(a, c]", "(-inf, c]", "[a, +inf)".
func ParseKeyRange(s string) KeyRange {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		panic(fmt.Sprintf("invalid key range %q", s))
	}
	openC, closeC := s[0], s[len(s)-1]
	startStr, endStr, ok := strings.Cut(s[1:len(s)-1], ",")
	if !ok {
		panic(fmt.Sprintf("invalid key range %q", s))
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	var r KeyRange
	switch {
	case startStr == "-inf" || startStr == "+inf":
	case openC == '[':
		r.Start = IncludedBound([]byte(startStr))
	case openC == '(':
		r.Start = ExcludedBound([]byte(startStr))
	default:
		panic(fmt.Sprintf("invalid key range %q", s))
	}
	switch {
	case endStr == "+inf" || endStr == "-inf":
	case closeC == ']':
		r.End = IncludedBound([]byte(endStr))
	case closeC == ')':
		r.End = ExcludedBound([]byte(endStr))
	default:
		panic(fmt.Sprintf("invalid key range %q", s))
	}
	return r
}
