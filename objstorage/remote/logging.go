// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"fmt"
)

// WithLogging wraps the given Storage implementation and emits logs for
// every operation.
func WithLogging(wrapped Storage, logf func(fmt string, args ...interface{})) Storage {
	return &loggingStore{
		logf:    logf,
		wrapped: wrapped,
	}
}

type loggingStore struct {
	logf    func(fmt string, args ...interface{})
	wrapped Storage
}

var _ Storage = (*loggingStore)(nil)

func (l *loggingStore) Close() error {
	l.logf("close")
	return l.wrapped.Close()
}

func (l *loggingStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := l.wrapped.Get(ctx, name)
	l.logf("get %q: %s", name, errOrPrintf(err, "%d bytes", len(data)))
	return data, err
}

func (l *loggingStore) GetRange(
	ctx context.Context, name string, offset, length int64,
) ([]byte, error) {
	data, err := l.wrapped.GetRange(ctx, name, offset, length)
	l.logf("get %q [%d, %d): %s", name, offset, offset+length, errOrPrintf(err, "%d bytes", len(data)))
	return data, err
}

func (l *loggingStore) Put(ctx context.Context, name string, data []byte) error {
	err := l.wrapped.Put(ctx, name, data)
	l.logf("put %q (%d bytes)%s", name, len(data), errSuffix(err))
	return err
}

func (l *loggingStore) List(ctx context.Context, prefix string) ([]string, error) {
	l.logf("list (prefix=%q)", prefix)
	res, err := l.wrapped.List(ctx, prefix)
	if err != nil {
		l.logf(" error: %v", err)
		return nil, err
	}
	for _, s := range res {
		l.logf(" - %s", s)
	}
	return res, nil
}

func (l *loggingStore) Delete(ctx context.Context, name string) error {
	err := l.wrapped.Delete(ctx, name)
	l.logf("delete %q%s", name, errSuffix(err))
	return err
}

func (l *loggingStore) IsNotExistError(err error) bool {
	return l.wrapped.IsNotExistError(err)
}

func errOrPrintf(err error, format string, args ...interface{}) string {
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf(format, args...)
}

func errSuffix(err error) string {
	if err != nil {
		return fmt.Sprintf(": error: %v", err)
	}
	return ""
}
