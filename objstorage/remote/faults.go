// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Op identifies a Storage operation.
type Op uint8

// The Storage operations.
const (
	OpGet Op = iota
	OpGetRange
	OpPut
	OpList
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpGet:
		return "get"
	case OpGetRange:
		return "get-range"
	case OpPut:
		return "put"
	case OpList:
		return "list"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ErrInjected is the error returned by an injected fault.
var ErrInjected = errors.New("injected error")

// Injector decides whether an operation fails. A non-nil return is returned
// to the caller in place of performing the operation.
type Injector func(op Op, name string) error

// FailEveryN returns an injector that fails every n-th operation of the given
// kinds, counting from the first.
func FailEveryN(n int64, ops ...Op) Injector {
	var count atomic.Int64
	return func(op Op, name string) error {
		for _, o := range ops {
			if o == op {
				if count.Add(1)%n == 0 {
					return errors.Wrapf(ErrInjected, "%s %q", op, name)
				}
				return nil
			}
		}
		return nil
	}
}

// WithFaults wraps the given Storage so that operations consult inj before
// reaching the wrapped store (for testing). A nil injector injects nothing.
func WithFaults(wrapped Storage, inj Injector) *FaultyStore {
	s := &FaultyStore{wrapped: wrapped}
	s.inj.Store(&inj)
	return s
}

// FaultyStore is a Storage that fails operations chosen by an Injector.
type FaultyStore struct {
	wrapped Storage
	inj     atomic.Pointer[Injector]
}

var _ Storage = (*FaultyStore)(nil)

// SetInjector replaces the injector. It is safe to call concurrently with
// operations.
func (s *FaultyStore) SetInjector(inj Injector) {
	s.inj.Store(&inj)
}

func (s *FaultyStore) maybeFail(op Op, name string) error {
	if inj := *s.inj.Load(); inj != nil {
		return inj(op, name)
	}
	return nil
}

// Close is part of the Storage interface.
func (s *FaultyStore) Close() error {
	return s.wrapped.Close()
}

// Get is part of the Storage interface.
func (s *FaultyStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := s.maybeFail(OpGet, name); err != nil {
		return nil, err
	}
	return s.wrapped.Get(ctx, name)
}

// GetRange is part of the Storage interface.
func (s *FaultyStore) GetRange(
	ctx context.Context, name string, offset, length int64,
) ([]byte, error) {
	if err := s.maybeFail(OpGetRange, name); err != nil {
		return nil, err
	}
	return s.wrapped.GetRange(ctx, name, offset, length)
}

// Put is part of the Storage interface.
func (s *FaultyStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.maybeFail(OpPut, name); err != nil {
		return err
	}
	return s.wrapped.Put(ctx, name, data)
}

// List is part of the Storage interface.
func (s *FaultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.maybeFail(OpList, prefix); err != nil {
		return nil, err
	}
	return s.wrapped.List(ctx, prefix)
}

// Delete is part of the Storage interface.
func (s *FaultyStore) Delete(ctx context.Context, name string) error {
	if err := s.maybeFail(OpDelete, name); err != nil {
		return err
	}
	return s.wrapped.Delete(ctx, name)
}

// IsNotExistError is part of the Storage interface.
func (s *FaultyStore) IsNotExistError(err error) bool {
	return s.wrapped.IsNotExistError(err)
}
