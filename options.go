// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/compression"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/cockroachdb/hummock/sstable"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

const (
	cacheDefaultSize       = 64 << 20 // 64 MB
	metaCacheDefaultSize   = 16 << 20 // 16 MB
	defaultLevelMultiplier = 10
)

// Options holds the optional parameters for configuring a Store. These
// options apply to the Store at large; the per-table settings are derived
// from them with MakeWriterOptions.
type Options struct {
	// BlockCacheSize is the capacity in bytes of the cache of decompressed
	// data blocks. The default value is 64 MB.
	BlockCacheSize int64 `yaml:"block_cache_size"`

	// MetaCacheSize is the capacity in bytes of the cache of encoded table
	// meta objects. The default value is 16 MB.
	MetaCacheSize int64 `yaml:"meta_cache_size"`

	// BlockSize is the target uncompressed size in bytes of each data block.
	// The default value is 4096.
	BlockSize int `yaml:"block_size"`

	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding of keys. The default value is 16.
	BlockRestartInterval int `yaml:"block_restart_interval"`

	// BloomBitsPerKey is the number of bloom filter bits per user key. A
	// negative value disables bloom filters. The default value is 10.
	BloomBitsPerKey int `yaml:"bloom_bits_per_key"`

	// Comparer defines a total ordering over the space of user keys. The
	// default value uses the same ordering as bytes.Compare.
	Comparer *Comparer `yaml:"-"`

	// Compression is the per-block compression algorithm. The zero value
	// disables compression. In YAML it is spelled by name, e.g. "zstd".
	Compression compression.Algorithm `yaml:"-"`

	// TargetFileSize is the target size of the tables written by flushes and
	// compactions. A table is only split between user keys, so it may exceed
	// the target. The default value is 2 MB.
	TargetFileSize int64 `yaml:"target_file_size"`

	// L0CompactionThreshold is the number of L0 tables that triggers an L0
	// compaction. The default value is 4.
	L0CompactionThreshold int `yaml:"l0_compaction_threshold"`

	// LBaseMaxBytes is the maximum number of bytes for L1. Each subsequent
	// level may hold LevelMultiplier times as much. The default value is
	// 64 MB.
	LBaseMaxBytes int64 `yaml:"lbase_max_bytes"`

	// LevelMultiplier is the size ratio between adjacent levels. The default
	// value is 10.
	LevelMultiplier int `yaml:"level_multiplier"`

	// CompactionWriteRate bounds the rate in bytes per second at which
	// compactions write their outputs. Zero disables pacing.
	CompactionWriteRate int64 `yaml:"compaction_write_rate"`

	// DisableAutomaticCompactions disables the background compaction loop.
	// Compactions then only run through Store.Compact and Store.CompactOnce.
	DisableAutomaticCompactions bool `yaml:"disable_automatic_compactions"`

	// Retry configures the backoff applied to failed object store calls.
	Retry remote.RetryOptions `yaml:"retry"`

	// Logger used to write log messages. The default logger uses the Go
	// standard library log package.
	Logger Logger `yaml:"-"`

	// MetricsRegisterer is the registry the store's prometheus collectors are
	// registered on. If nil, a private registry is used.
	MetricsRegisterer prometheus.Registerer `yaml:"-"`
}

// EnsureDefaults ensures that the default values for all options are set if a
// valid value was not already specified. Returns the new options.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.BlockCacheSize <= 0 {
		o.BlockCacheSize = cacheDefaultSize
	}
	if o.MetaCacheSize <= 0 {
		o.MetaCacheSize = metaCacheDefaultSize
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BloomBitsPerKey == 0 {
		o.BloomBitsPerKey = 10
	}
	o.Comparer = o.Comparer.EnsureDefaults()
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = 2 << 20 // 2 MB
	}
	if o.L0CompactionThreshold <= 0 {
		o.L0CompactionThreshold = 4
	}
	if o.LBaseMaxBytes <= 0 {
		o.LBaseMaxBytes = 64 << 20 // 64 MB
	}
	if o.LevelMultiplier <= 0 {
		o.LevelMultiplier = defaultLevelMultiplier
	}
	if o.CompactionWriteRate < 0 {
		o.CompactionWriteRate = 0
	}
	if o.Retry == (remote.RetryOptions{}) {
		o.Retry = remote.DefaultRetryOptions
	}
	o.Retry = o.Retry.EnsureDefaults()
	if o.Logger == nil {
		o.Logger = DefaultLogger
	}
	if o.MetricsRegisterer == nil {
		o.MetricsRegisterer = prometheus.NewRegistry()
	}
	return o
}

// Clone creates a shallow-copy of the supplied options.
func (o *Options) Clone() *Options {
	n := &Options{}
	if o != nil {
		*n = *o
	}
	return n
}

// MakeWriterOptions constructs the options for writing a table.
func (o *Options) MakeWriterOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockRestartInterval: o.BlockRestartInterval,
		BlockSize:            o.BlockSize,
		BloomBitsPerKey:      max(o.BloomBitsPerKey, 0),
		Comparer:             o.Comparer,
		Compression:          o.Compression,
		DisableBloom:         o.BloomBitsPerKey < 0,
	}
}

// Validate verifies that the options are mutually consistent.
func (o *Options) Validate() error {
	if o.TargetFileSize < int64(o.BlockSize) {
		return errors.Errorf("hummock: target file size %d is smaller than the block size %d",
			o.TargetFileSize, o.BlockSize)
	}
	if o.L0CompactionThreshold < 1 {
		return errors.Errorf("hummock: L0 compaction threshold must be positive")
	}
	return nil
}

// optionsFile is the YAML representation of Options.
type optionsFile struct {
	Options     `yaml:",inline"`
	Compression string `yaml:"compression"`
}

// ParseOptionsYAML parses options from YAML. Unknown fields are an error.
// Fields that are absent keep their zero value and are filled in by
// EnsureDefaults. For example:
//
//	block_cache_size: 134217728
//	target_file_size: 4194304
//	compression: zstd
//	retry:
//	  max_retries: 5
//	  initial_backoff: 50ms
func ParseOptionsYAML(data []byte) (*Options, error) {
	var f optionsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "hummock: parsing options")
	}
	o := f.Options.Clone()
	if f.Compression != "" {
		a, err := compression.ParseAlgorithm(f.Compression)
		if err != nil {
			return nil, errors.Wrap(err, "hummock: parsing options")
		}
		o.Compression = a
	}
	return o, nil
}
