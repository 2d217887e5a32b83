// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// NewInMem returns an in-memory implementation of the Storage interface (for
// testing).
func NewInMem() *InMem {
	store := &InMem{}
	store.mu.objects = make(map[string][]byte)
	return store
}

// InMem is an in-memory implementation of the Storage interface.
type InMem struct {
	mu struct {
		sync.Mutex
		objects map[string][]byte
		closed  bool
	}
}

var _ Storage = (*InMem)(nil)

// Close is part of the Storage interface.
func (s *InMem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.closed = true
	return nil
}

func (s *InMem) getObj(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil, errors.New("storage closed")
	}
	data, ok := s.mu.objects[name]
	if !ok {
		return nil, notExistError(name)
	}
	return data, nil
}

// Get is part of the Storage interface.
func (s *InMem) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.getObj(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(data), nil
}

// GetRange is part of the Storage interface.
func (s *InMem) GetRange(ctx context.Context, name string, offset, length int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.getObj(name)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, rangeError(name, offset, length, int64(len(data)))
	}
	return slices.Clone(data[offset : offset+length]), nil
}

// Put is part of the Storage interface.
func (s *InMem) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return errors.New("storage closed")
	}
	s.mu.objects[name] = slices.Clone(data)
	return nil
}

// List is part of the Storage interface.
func (s *InMem) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]string, 0, len(s.mu.objects))
	for name := range s.mu.objects {
		if strings.HasPrefix(name, prefix) {
			res = append(res, name)
		}
	}
	slices.Sort(res)
	return res, nil
}

// Delete is part of the Storage interface.
func (s *InMem) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mu.objects, name)
	return nil
}

// IsNotExistError is part of the Storage interface.
func (s *InMem) IsNotExistError(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// Len returns the number of stored objects.
func (s *InMem) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mu.objects)
}

// Size returns the total size of the stored objects in bytes.
func (s *InMem) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, data := range s.mu.objects {
		n += int64(len(data))
	}
	return n
}
