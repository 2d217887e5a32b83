// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cache implements a sharded, size-bounded LRU cache of immutable
// table blocks.
//
// Tables are write-once, so a cached block never goes stale: a block cached
// for a table that has since been garbage collected is merely dead weight
// until it is evicted. Callers may drop such blocks eagerly with EvictTable.
package cache

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/swiss"
)

func fibonacciHash(k *key, seed uintptr) uintptr {
	const m = 11400714819323198485
	h := uint64(seed)
	h ^= k.id * m
	h ^= k.offset * m
	return uintptr(h)
}

var blockMapOptions = []swiss.Option[key, *entry]{
	swiss.WithHash[key, *entry](fibonacciHash),
	swiss.WithMaxBucketCapacity[key, *entry](1 << 16),
}

type shard struct {
	mu struct {
		sync.Mutex
		blocks swiss.Map[key, *entry]
		lru    entryList
		size   int64
	}
	maxSize int64

	hits   atomic.Int64
	misses atomic.Int64
}

func (s *shard) init(maxSize int64) {
	s.maxSize = maxSize
	s.mu.blocks.Init(16, blockMapOptions...)
	s.mu.lru.init()
}

func (s *shard) get(k key) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.mu.blocks.Get(k)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.mu.lru.moveToFront(e)
	s.hits.Add(1)
	return e.value, true
}

func (s *shard) set(k key, value []byte) {
	charge := int64(len(value))
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.mu.blocks.Get(k); ok {
		s.mu.size += charge - e.charge
		e.value, e.charge = value, charge
		s.mu.lru.moveToFront(e)
	} else {
		e := &entry{key: k, value: value, charge: charge}
		s.mu.blocks.Put(k, e)
		s.mu.lru.pushFront(e)
		s.mu.size += charge
	}
	s.evictLocked()
}

func (s *shard) evictLocked() {
	for s.mu.size > s.maxSize && !s.mu.lru.empty() {
		s.removeLocked(s.mu.lru.back())
	}
}

func (s *shard) removeLocked(e *entry) {
	s.mu.lru.remove(e)
	s.mu.blocks.Delete(e.key)
	s.mu.size -= e.charge
}

func (s *shard) delete(k key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.mu.blocks.Get(k); ok {
		s.removeLocked(e)
	}
}

func (s *shard) evictTable(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var victims []*entry
	s.mu.blocks.All(func(k key, e *entry) bool {
		if k.id == id {
			victims = append(victims, e)
		}
		return true
	})
	for _, e := range victims {
		s.removeLocked(e)
	}
}

// Cache is a sharded LRU cache of byte slices keyed by (table id, offset).
// It is safe for concurrent use. A nil *Cache caches nothing.
type Cache struct {
	maxSize int64
	shards  []shard
}

// New creates a new cache of the specified capacity in bytes, using one
// shard per processor.
func New(size int64) *Cache {
	return NewWithShards(size, 4*runtime.GOMAXPROCS(0))
}

// NewWithShards creates a new cache with the specified capacity and number
// of shards. The capacity is divided evenly among the shards.
func NewWithShards(size int64, shards int) *Cache {
	if shards <= 0 {
		shards = 1
	}
	c := &Cache{
		maxSize: size,
		shards:  make([]shard, shards),
	}
	for i := range c.shards {
		c.shards[i].init(size / int64(shards))
	}
	return c
}

func (c *Cache) getShard(k key) *shard {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], k.id)
	binary.LittleEndian.PutUint64(buf[8:], k.offset)
	return &c.shards[xxhash.Sum64(buf[:])%uint64(len(c.shards))]
}

// MaxSize returns the capacity of the cache in bytes.
func (c *Cache) MaxSize() int64 {
	if c == nil {
		return 0
	}
	return c.maxSize
}

// Get retrieves the cached value for the specified table id and offset. The
// returned slice must not be modified.
func (c *Cache) Get(id, offset uint64) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	k := key{id: id, offset: offset}
	return c.getShard(k).get(k)
}

// Set sets the cache value for the specified table id and offset, replacing
// any existing value. The cache takes ownership of value; it must not be
// modified afterwards. A value larger than a shard's capacity is evicted
// immediately.
func (c *Cache) Set(id, offset uint64, value []byte) {
	if c == nil {
		return
	}
	k := key{id: id, offset: offset}
	c.getShard(k).set(k, value)
}

// Delete removes the cached value for the specified table id and offset.
func (c *Cache) Delete(id, offset uint64) {
	if c == nil {
		return
	}
	k := key{id: id, offset: offset}
	c.getShard(k).delete(k)
}

// EvictTable evicts all of the cached values for the specified table.
func (c *Cache) EvictTable(id uint64) {
	if c == nil {
		return
	}
	for i := range c.shards {
		c.shards[i].evictTable(id)
	}
}

// Metrics holds metrics for the cache.
type Metrics struct {
	// The number of bytes inuse by the cache.
	Size int64
	// The count of objects (blocks or tables) in the cache.
	Count int64
	// The number of cache hits.
	Hits int64
	// The number of cache misses.
	Misses int64
}

// Metrics returns the current metrics for the cache.
func (c *Cache) Metrics() Metrics {
	var m Metrics
	if c == nil {
		return m
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		m.Count += int64(s.mu.blocks.Len())
		m.Size += s.mu.size
		s.mu.Unlock()
		m.Hits += s.hits.Load()
		m.Misses += s.misses.Load()
	}
	return m
}
