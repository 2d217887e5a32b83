// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines fundamental types used across Hummock: epochs, the
// versioned key codec, user key bounds and the range overlap predicate, and
// the error kinds surfaced by the storage engine.
//
// # Versioned keys
//
// A versioned key is a user key followed by an 8-byte big-endian suffix that
// holds the bitwise complement of the epoch at which the key was written:
//
//	+----------------------+-----------------------+
//	| user key (variable)  | ^epoch (8B, big end.) |
//	+----------------------+-----------------------+
//
// Comparing two encoded versioned keys bytewise therefore orders them by
// ascending user key and, for identical user keys, by descending epoch. The
// newest version of a key is the first one encountered by a forward scan.
//
// Because the suffix is fixed-width, the user key portion of an encoded key
// can always be recovered by stripping the last 8 bytes. Callers must not
// compare encoded keys of different user keys bytewise when one user key is a
// prefix of another; InternalCompare compares the decoded components instead.
//
// # Values
//
// Every stored value carries a one-byte tag distinguishing a set from a
// deletion tombstone. See EncodeValue.
package base
