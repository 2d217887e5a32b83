// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// InternalIterator iterates over versioned key/value pairs in InternalCompare
// order: ascending user key and, within a user key, descending epoch.
//
// Positioning methods return nil when the iterator is exhausted or an error
// occurred; callers distinguish the two with Error. The returned KV, including
// its key and value slices, is only valid until the next positioning call.
//
// An iterator captures the context it was created with; a cancelled context
// surfaces as an error from the next positioning call that performs I/O.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key/value pair whose key is
	// greater than or equal to the given key.
	SeekGE(key InternalKey) *InternalKV

	// SeekLT moves the iterator to the last key/value pair whose key is less
	// than the given key.
	SeekLT(key InternalKey) *InternalKV

	// First moves the iterator to the first key/value pair.
	First() *InternalKV

	// Last moves the iterator to the last key/value pair.
	Last() *InternalKV

	// Next moves the iterator to the next key/value pair.
	Next() *InternalKV

	// Prev moves the iterator to the previous key/value pair.
	Prev() *InternalKV

	// Error returns any accumulated error.
	Error() error

	// Close closes the iterator and returns any accumulated error. It is
	// valid to call Close multiple times.
	Close() error
}
