// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a get call did not find a visible value for the
// requested key.
var ErrNotFound = errors.New("hummock: not found")

// ErrExpiredEpoch is the marker for a read at an epoch below the safe epoch
// of the version it is pinned to. It is never retried.
var ErrExpiredEpoch = errors.New("hummock: expired epoch")

// ErrCorruption is the marker for corruption: a malformed sstable block,
// meta object or footer, an undecodable version checkpoint, or a malformed
// trace record. Corruption is fatal for the file or record concerned.
var ErrCorruption = errors.New("hummock: corruption")

// ErrObjectStore is the marker for an object store failure that persisted
// after the store adapter exhausted its retries.
var ErrObjectStore = errors.New("hummock: object store error")

// ErrTableNotFound is the marker for a read of an sstable that no longer
// exists, typically because a reader held a stale version while the table was
// garbage collected.
var ErrTableNotFound = errors.New("hummock: table not found")

// ErrVersionStale is the marker for an operation computed against a version
// that has since been superseded in a conflicting way.
var ErrVersionStale = errors.New("hummock: version stale")

// MarkCorruptionError marks given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}

// CorruptionErrorf formats according to a format specifier and returns
// the string as an error value that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// IsRetriableReadError returns true if a read that failed with err may
// succeed after re-pinning the current version.
func IsRetriableReadError(err error) bool {
	return errors.IsAny(err, ErrTableNotFound, ErrVersionStale)
}
