// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, s.IsNotExistError(err), "%v", err)
	_, err = s.GetRange(ctx, "missing", 0, 1)
	require.True(t, s.IsNotExistError(err), "%v", err)
	require.NoError(t, s.Delete(ctx, "missing"))

	require.NoError(t, s.Put(ctx, "000001.data", []byte("hello world")))
	require.NoError(t, s.Put(ctx, "000001.meta", []byte("meta")))
	require.NoError(t, s.Put(ctx, "checkpoint/000003", []byte("v3")))

	data, err := s.Get(ctx, "000001.data")
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	data, err = s.GetRange(ctx, "000001.data", 6, 5)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
	data, err = s.GetRange(ctx, "000001.data", 0, 0)
	require.NoError(t, err)
	require.Empty(t, data)
	_, err = s.GetRange(ctx, "000001.data", 6, 6)
	require.Error(t, err)
	require.False(t, s.IsNotExistError(err))

	// Put replaces.
	require.NoError(t, s.Put(ctx, "000001.meta", []byte("meta2")))
	data, err = s.Get(ctx, "000001.meta")
	require.NoError(t, err)
	require.Equal(t, "meta2", string(data))

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"000001.data", "000001.meta", "checkpoint/000003"}, names)
	names, err = s.List(ctx, "checkpoint/")
	require.NoError(t, err)
	require.Equal(t, []string{"checkpoint/000003"}, names)
	names, err = s.List(ctx, "nothing")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, s.Delete(ctx, "000001.data"))
	_, err = s.Get(ctx, "000001.data")
	require.True(t, s.IsNotExistError(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, "000001.meta")
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
}

func TestInMem(t *testing.T) {
	testStorage(t, NewInMem())
}

func TestLocalFS(t *testing.T) {
	s, err := NewLocalFS(t.TempDir())
	require.NoError(t, err)
	testStorage(t, s)
}

func TestInMemConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewInMem()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				name := fmt.Sprintf("%d-%d", i, j)
				require.NoError(t, s.Put(ctx, name, []byte(name)))
				data, err := s.Get(ctx, name)
				require.NoError(t, err)
				require.Equal(t, name, string(data))
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 800, s.Len())
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	mem := NewInMem()
	faulty := WithFaults(mem, nil)
	logger := &base.InMemLogger{}
	s := WithRetry(faulty, RetryOptions{
		MaxRetries:     2,
		InitialBackoff: time.Microsecond,
		MaxBackoff:     time.Millisecond,
	}, logger)

	// Transient failures are retried transparently.
	var calls int
	faulty.SetInjector(func(op Op, name string) error {
		calls++
		if calls <= 2 {
			return ErrInjected
		}
		return nil
	})
	require.NoError(t, s.Put(ctx, "a", []byte("x")))
	require.Equal(t, 3, calls)
	require.Equal(t, 2, strings.Count(logger.String(), "failed"))

	// Persistent failures are marked as object store errors.
	calls = 0
	faulty.SetInjector(func(op Op, name string) error {
		calls++
		return ErrInjected
	})
	_, err := s.Get(ctx, "a")
	require.True(t, errors.Is(err, base.ErrObjectStore), "%v", err)
	require.True(t, errors.Is(err, ErrInjected), "%v", err)
	require.Equal(t, 3, calls)

	// Missing objects are not retried.
	calls = 0
	faulty.SetInjector(func(op Op, name string) error {
		calls++
		return nil
	})
	_, err = s.Get(ctx, "b")
	require.True(t, s.IsNotExistError(err))
	require.False(t, errors.Is(err, base.ErrObjectStore))
	require.Equal(t, 1, calls)

	// Cancellation interrupts the backoff.
	s = WithRetry(faulty, RetryOptions{MaxRetries: 5, InitialBackoff: time.Hour}, nil)
	faulty.SetInjector(func(op Op, name string) error { return ErrInjected })
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.List(cctx, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryBackoff(t *testing.T) {
	o := RetryOptions{MaxRetries: 10, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}.EnsureDefaults()
	var got []time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		got = append(got, o.backoff(attempt))
	}
	require.Equal(t, []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond,
		50 * time.Millisecond, 50 * time.Millisecond,
	}, got)

	o = RetryOptions{}.EnsureDefaults()
	require.Equal(t, DefaultRetryOptions.InitialBackoff, o.InitialBackoff)
	require.Equal(t, DefaultRetryOptions.MaxBackoff, o.MaxBackoff)
}

func TestFailEveryN(t *testing.T) {
	inj := FailEveryN(3, OpPut)
	var failures int
	for i := 0; i < 9; i++ {
		if inj(OpPut, "x") != nil {
			failures++
		}
		require.NoError(t, inj(OpGet, "x"))
	}
	require.Equal(t, 3, failures)
}

func TestLogging(t *testing.T) {
	ctx := context.Background()
	var buf strings.Builder
	s := WithLogging(NewInMem(), func(format string, args ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", args...)
	})
	require.NoError(t, s.Put(ctx, "b", []byte("xyz")))
	require.NoError(t, s.Put(ctx, "a", []byte("1")))
	_, err := s.GetRange(ctx, "b", 1, 2)
	require.NoError(t, err)
	_, err = s.Get(ctx, "c")
	require.Error(t, err)
	_, err = s.List(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Close())

	require.Equal(t, strings.TrimSpace(`
put "b" (3 bytes)
put "a" (1 bytes)
get "b" [1, 3): 2 bytes
get "c": error: object "c": file does not exist
list (prefix="")
 - a
 - b
delete "a"
close
`)+"\n", buf.String())
}
