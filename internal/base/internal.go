// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base // import "github.com/cockroachdb/hummock/internal/base"

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cockroachdb/redact"
)

// EpochSuffixLen is the length of the epoch suffix of an encoded versioned
// key.
const EpochSuffixLen = 8

// InternalKeyKind enumerates the kind of a stored value: a set value or a
// deletion tombstone. The kind is persisted as the tag byte of the value.
type InternalKeyKind uint8

// These constants are part of the file format, and should not be changed.
const (
	InternalKeyKindDelete InternalKeyKind = 0
	InternalKeyKindSet    InternalKeyKind = 1

	// InternalKeyKindMax is the largest valid kind.
	InternalKeyKindMax InternalKeyKind = InternalKeyKindSet

	// InternalKeyKindInvalid is returned for a value whose tag byte is not a
	// known kind.
	InternalKeyKindInvalid InternalKeyKind = 0xff
)

var internalKeyKindNames = []string{
	InternalKeyKindDelete: "DEL",
	InternalKeyKindSet:    "SET",
}

func (k InternalKeyKind) String() string {
	if int(k) < len(internalKeyKindNames) {
		return internalKeyKindNames[k]
	}
	return fmt.Sprintf("UNKNOWN:%d", k)
}

// SafeFormat implements redact.SafeFormatter.
func (k InternalKeyKind) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(k.String()))
}

var kindsMap = map[string]InternalKeyKind{
	"DEL": InternalKeyKindDelete,
	"SET": InternalKeyKindSet,
}

// ParseKind parses the string representation of an internal key kind.
func ParseKind(s string) InternalKeyKind {
	kind, ok := kindsMap[s]
	if !ok {
		panic(fmt.Sprintf("unknown kind: %q", s))
	}
	return kind
}

// InternalKey is a user key paired with the epoch at which it was written.
// Within a user key, versions are ordered newest (highest epoch) first.
type InternalKey struct {
	UserKey []byte
	Epoch   Epoch
}

// MakeInternalKey constructs an internal key from a user key and an epoch.
func MakeInternalKey(userKey []byte, epoch Epoch) InternalKey {
	return InternalKey{UserKey: userKey, Epoch: epoch}
}

// MakeSearchKey constructs an internal key that sorts before every version
// of userKey visible at epoch. Seeking to it positions an iterator at the
// newest version with an epoch <= epoch.
func MakeSearchKey(userKey []byte, epoch Epoch) InternalKey {
	return InternalKey{UserKey: userKey, Epoch: epoch}
}

// EncodeVersionedKey appends the encoded form of (userKey, epoch) to dst and
// returns the extended buffer. The encoding is the user key followed by the
// big-endian bitwise complement of the epoch.
func EncodeVersionedKey(dst, userKey []byte, epoch Epoch) []byte {
	dst = append(dst, userKey...)
	return binary.BigEndian.AppendUint64(dst, ^uint64(epoch))
}

// DecodeVersionedKey decodes an encoded versioned key. The returned user key
// aliases b. A buffer shorter than the epoch suffix is a corruption error.
func DecodeVersionedKey(b []byte) (InternalKey, error) {
	n := len(b) - EpochSuffixLen
	if n < 0 {
		return InternalKey{}, CorruptionErrorf("hummock: versioned key too short: %d bytes", len(b))
	}
	return InternalKey{
		UserKey: b[:n:n],
		Epoch:   Epoch(^binary.BigEndian.Uint64(b[n:])),
	}, nil
}

// Encode appends the encoded form of k to buf.
func (k InternalKey) Encode(buf []byte) []byte {
	return EncodeVersionedKey(buf, k.UserKey, k.Epoch)
}

// Size returns the encoded size of the key.
func (k InternalKey) Size() int {
	return len(k.UserKey) + EpochSuffixLen
}

// InternalCompare compares two internal keys using the specified comparison
// function. For equal user keys, internal keys compare in descending epoch
// order.
func InternalCompare(userCmp Compare, a, b InternalKey) int {
	if x := userCmp(a.UserKey, b.UserKey); x != 0 {
		return x
	}
	// Reverse order for epoch.
	return cmp.Compare(b.Epoch, a.Epoch)
}

// CompareEncoded compares two encoded versioned keys by their decoded
// components. Both keys must be well formed.
func CompareEncoded(userCmp Compare, a, b []byte) int {
	na, nb := len(a)-EpochSuffixLen, len(b)-EpochSuffixLen
	if x := userCmp(a[:na], b[:nb]); x != 0 {
		return x
	}
	// The complemented suffixes compare bytewise in descending epoch order.
	return cmp.Compare(binary.BigEndian.Uint64(a[na:]), binary.BigEndian.Uint64(b[nb:]))
}

// Clone clones the storage for the UserKey component of the key.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	return InternalKey{
		UserKey: append([]byte(nil), k.UserKey...),
		Epoch:   k.Epoch,
	}
}

// CopyFrom converts this InternalKey into a clone of the passed-in InternalKey,
// reusing any space already used for the current UserKey.
func (k *InternalKey) CopyFrom(k2 InternalKey) {
	k.UserKey = append(k.UserKey[:0], k2.UserKey...)
	k.Epoch = k2.Epoch
}

// Visible returns true if the key was written at or before the read epoch.
func (k InternalKey) Visible(readEpoch Epoch) bool {
	return k.Epoch <= readEpoch
}

// String returns a string representation of the key.
func (k InternalKey) String() string {
	return fmt.Sprintf("%s@%s", FormatBytes(k.UserKey), k.Epoch)
}

// Pretty returns a formatter for the key.
func (k InternalKey) Pretty(f FormatKey) fmt.Formatter {
	return prettyInternalKey{k, f}
}

type prettyInternalKey struct {
	InternalKey
	formatKey FormatKey
}

func (k prettyInternalKey) Format(s fmt.State, c rune) {
	fmt.Fprintf(s, "%s@%s", k.formatKey(k.UserKey), k.Epoch)
}

// ParseInternalKey parses the string representation of an internal key. The
// format is "<user-key>@<epoch>". If the user key contains '@' the last one
// separates the epoch.
func ParseInternalKey(s string) InternalKey {
	sep := strings.LastIndex(s, "@")
	if sep == -1 {
		panic(fmt.Sprintf("invalid internal key %q", s))
	}
	return MakeInternalKey([]byte(s[:sep]), ParseEpoch(s[sep+1:]))
}

// InternalKV represents a single internal key-value pair. V holds the value
// payload without its tag byte; it is empty for a tombstone.
type InternalKV struct {
	K    InternalKey
	Kind InternalKeyKind
	V    []byte
}

// MakeInternalKV constructs an InternalKV.
func MakeInternalKV(k InternalKey, kind InternalKeyKind, v []byte) InternalKV {
	return InternalKV{K: k, Kind: kind, V: v}
}

// IsTombstone returns true if the KV is a deletion tombstone.
func (kv *InternalKV) IsTombstone() bool {
	return kv.Kind == InternalKeyKindDelete
}

func (kv *InternalKV) String() string {
	if kv.Kind == InternalKeyKindDelete {
		return fmt.Sprintf("%s.DEL", kv.K)
	}
	return fmt.Sprintf("%s.SET:%s", kv.K, FormatBytes(kv.V))
}

// ParseInternalKV parses the string representation of an internal KV. The
// format is "<user-key>@<epoch>.SET:<value>" or "<user-key>@<epoch>.DEL".
func ParseInternalKV(s string) InternalKV {
	s = strings.TrimSpace(s)
	if k, ok := strings.CutSuffix(s, ".DEL"); ok {
		return MakeInternalKV(ParseInternalKey(k), InternalKeyKindDelete, nil)
	}
	k, v, ok := strings.Cut(s, ".SET:")
	if !ok {
		panic(fmt.Sprintf("invalid KV %q", s))
	}
	return MakeInternalKV(ParseInternalKey(k), InternalKeyKindSet, []byte(strings.TrimSpace(v)))
}

// EncodeValue appends the tagged encoding of a value to dst. A tombstone is
// encoded as its tag alone; the payload is ignored.
func EncodeValue(dst []byte, kind InternalKeyKind, payload []byte) []byte {
	dst = append(dst, byte(kind))
	if kind == InternalKeyKindDelete {
		return dst
	}
	return append(dst, payload...)
}

// DecodeValue splits a tagged value into its kind and payload. The payload
// aliases b.
func DecodeValue(b []byte) (InternalKeyKind, []byte, error) {
	if len(b) == 0 {
		return InternalKeyKindInvalid, nil, CorruptionErrorf("hummock: empty value")
	}
	switch kind := InternalKeyKind(b[0]); kind {
	case InternalKeyKindSet:
		return kind, b[1:], nil
	case InternalKeyKindDelete:
		if len(b) != 1 {
			return InternalKeyKindInvalid, nil, CorruptionErrorf("hummock: tombstone with %d-byte payload", len(b)-1)
		}
		return kind, nil, nil
	default:
		return InternalKeyKindInvalid, nil, CorruptionErrorf("hummock: unknown value tag %d", b[0])
	}
}
