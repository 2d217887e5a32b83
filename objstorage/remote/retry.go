// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// RetryOptions configures the backoff of a Storage wrapped with WithRetry.
type RetryOptions struct {
	// MaxRetries is the number of times a failed call is retried before the
	// failure is returned. Zero disables retries.
	MaxRetries int `yaml:"max_retries"`
	// InitialBackoff is the delay before the first retry. Each subsequent
	// retry doubles the delay, up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// DefaultRetryOptions is the retry policy a store uses unless configured
// otherwise.
var DefaultRetryOptions = RetryOptions{
	MaxRetries:     3,
	InitialBackoff: 20 * time.Millisecond,
	MaxBackoff:     time.Second,
}

// EnsureDefaults fills in unset backoff durations. MaxRetries is left as is.
func (o RetryOptions) EnsureDefaults() RetryOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultRetryOptions.InitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = max(DefaultRetryOptions.MaxBackoff, o.InitialBackoff)
	}
	return o
}

func (o RetryOptions) backoff(attempt int) time.Duration {
	d := o.InitialBackoff
	for i := 1; i < attempt && d < o.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, o.MaxBackoff)
}

// WithRetry wraps the given Storage so that failed calls are retried with
// exponential backoff. A call that still fails after the last retry returns
// an error marked base.ErrObjectStore. Missing objects and context errors are
// returned immediately and are not marked.
func WithRetry(wrapped Storage, opts RetryOptions, logger base.Logger) Storage {
	if logger == nil {
		logger = base.NoopLogger{}
	}
	return &retryingStore{
		wrapped: wrapped,
		opts:    opts.EnsureDefaults(),
		logger:  logger,
	}
}

type retryingStore struct {
	wrapped Storage
	opts    RetryOptions
	logger  base.Logger
}

var _ Storage = (*retryingStore)(nil)

func (s *retryingStore) do(ctx context.Context, op Op, name string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if s.wrapped.IsNotExistError(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		if attempt < s.opts.MaxRetries {
			s.logger.Infof("object store %s %q failed (attempt %d): %v", op, name, attempt+1, err)
		}
	}
	return errors.Mark(
		errors.Wrapf(lastErr, "object store %s %q failed after %d attempts", op, name, s.opts.MaxRetries+1),
		base.ErrObjectStore)
}

// Close is part of the Storage interface.
func (s *retryingStore) Close() error {
	return s.wrapped.Close()
}

// Get is part of the Storage interface.
func (s *retryingStore) Get(ctx context.Context, name string) (data []byte, err error) {
	err = s.do(ctx, OpGet, name, func() error {
		data, err = s.wrapped.Get(ctx, name)
		return err
	})
	return data, err
}

// GetRange is part of the Storage interface.
func (s *retryingStore) GetRange(
	ctx context.Context, name string, offset, length int64,
) (data []byte, err error) {
	err = s.do(ctx, OpGetRange, name, func() error {
		data, err = s.wrapped.GetRange(ctx, name, offset, length)
		return err
	})
	return data, err
}

// Put is part of the Storage interface.
func (s *retryingStore) Put(ctx context.Context, name string, data []byte) error {
	return s.do(ctx, OpPut, name, func() error {
		return s.wrapped.Put(ctx, name, data)
	})
}

// List is part of the Storage interface.
func (s *retryingStore) List(ctx context.Context, prefix string) (names []string, err error) {
	err = s.do(ctx, OpList, prefix, func() error {
		names, err = s.wrapped.List(ctx, prefix)
		return err
	})
	return names, err
}

// Delete is part of the Storage interface.
func (s *retryingStore) Delete(ctx context.Context, name string) error {
	return s.do(ctx, OpDelete, name, func() error {
		return s.wrapped.Delete(ctx, name)
	})
}

// IsNotExistError is part of the Storage interface.
func (s *retryingStore) IsNotExistError(err error) bool {
	return s.wrapped.IsNotExistError(err)
}
