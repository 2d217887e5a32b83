// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"testing"
	"time"

	"github.com/cockroachdb/hummock/internal/compression"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	o := (*Options)(nil).EnsureDefaults()
	require.Equal(t, int64(cacheDefaultSize), o.BlockCacheSize)
	require.Equal(t, 4096, o.BlockSize)
	require.Equal(t, 10, o.BloomBitsPerKey)
	require.Equal(t, remote.DefaultRetryOptions, o.Retry)
	require.NotNil(t, o.Comparer)
	require.NotNil(t, o.Logger)
	require.NotNil(t, o.MetricsRegisterer)
	require.NoError(t, o.Validate())

	wo := o.MakeWriterOptions()
	require.False(t, wo.DisableBloom)
	require.Equal(t, 10, wo.BloomBitsPerKey)

	o = (&Options{BloomBitsPerKey: -1}).EnsureDefaults()
	require.True(t, o.MakeWriterOptions().DisableBloom)

	o = (&Options{TargetFileSize: 100, BlockSize: 4096}).EnsureDefaults()
	require.Error(t, o.Validate())
}

func TestParseOptionsYAML(t *testing.T) {
	o, err := ParseOptionsYAML([]byte(`
block_cache_size: 134217728
target_file_size: 4194304
compression: zstd
disable_automatic_compactions: true
retry:
  max_retries: 5
  initial_backoff: 50ms
`))
	require.NoError(t, err)
	require.Equal(t, int64(128<<20), o.BlockCacheSize)
	require.Equal(t, int64(4<<20), o.TargetFileSize)
	require.Equal(t, compression.Zstd, o.Compression)
	require.True(t, o.DisableAutomaticCompactions)
	require.Equal(t, 5, o.Retry.MaxRetries)
	require.Equal(t, 50*time.Millisecond, o.Retry.InitialBackoff)

	o = o.EnsureDefaults()
	require.Equal(t, time.Second, o.Retry.MaxBackoff)
	require.Equal(t, 4096, o.BlockSize)

	o, err = ParseOptionsYAML(nil)
	require.NoError(t, err)
	require.Equal(t, &Options{}, o)

	_, err = ParseOptionsYAML([]byte("block_size: 1\nunknown_field: 2\n"))
	require.Error(t, err)
	_, err = ParseOptionsYAML([]byte("compression: lz77\n"))
	require.Error(t, err)
}
