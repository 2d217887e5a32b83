// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package remote defines the object store capability the store persists its
// tables and checkpoints to, along with in-memory and local directory
// backends and decorators that add retries and logging.
package remote

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// Storage is an interface for a blob storage driver. Objects are written
// whole and are immutable once written; a Put to an existing name replaces
// the object.
//
// Every method may block on I/O and takes a context. Implementations must be
// safe for concurrent use.
type Storage interface {
	io.Closer

	// Get returns the full contents of the named object.
	Get(ctx context.Context, name string) ([]byte, error)

	// GetRange returns length bytes of the named object starting at offset.
	// Reading past the end of the object is an error.
	GetRange(ctx context.Context, name string, offset, length int64) ([]byte, error)

	// Put creates or replaces the named object.
	Put(ctx context.Context, name string, data []byte) error

	// List returns the names of the objects whose name starts with prefix, in
	// lexicographic order. The prefix is not trimmed from the results.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the named object. Deleting an object that does not exist
	// is not an error.
	Delete(ctx context.Context, name string) error

	// IsNotExistError indicates whether the error is known to report that an
	// object does not exist.
	IsNotExistError(err error) bool
}

// ErrNotExist is returned by the in-memory backend for missing objects.
var ErrNotExist = oserror.ErrNotExist

func notExistError(name string) error {
	return errors.Wrapf(ErrNotExist, "object %q", name)
}

func rangeError(name string, offset, length, size int64) error {
	return errors.Newf("read of [%d, %d) past the end of object %q (size %d)",
		offset, offset+length, name, size)
}
