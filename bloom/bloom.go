// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package bloom implements Bloom filters over user keys.
//
// A filter is a sequence of 64-byte cache lines followed by a 5-byte trailer
// holding the number of probes (1 byte) and the number of lines (4 bytes,
// little-endian). All probes for a key fall into the same cache line.
package bloom

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	cacheLineSize = 64
	cacheLineBits = cacheLineSize * 8
	trailerLen    = 5
)

// This table contains the optimal number of probes for each bitsPerKey. For
// bits per key over 10, probes[10] should be used.
//
// The standard bloom filter formula does not yield the optimal number for our
// scheme, which constrains all probes to be inside the same cache line. This is
// especially true for larger bits-per-key values.
var probes = [11]uint32{
	1:  1,
	2:  1,
	3:  2,
	4:  3,
	5:  3,
	6:  4,
	7:  4,
	8:  5,
	9:  5,
	10: 6,
}

func calculateProbes(bitsPerKey uint32) uint32 {
	if bitsPerKey > 10 {
		return probes[10]
	}
	return probes[bitsPerKey]
}

// hash returns the two 32-bit halves of the xxhash64 of b. The first half
// selects the cache line and the second seeds the double hashing sequence
// of bit positions within the line.
func hash(b []byte) (lineHash, probeHash uint32) {
	h := xxhash.Sum64(b)
	return uint32(h), uint32(h >> 32)
}

// FilterWriter accumulates the keys of a table and builds its filter.
//
// A good value for bitsPerKey is 10, which yields a filter with ~1% false
// positive rate:
//
//	Bits/key | Probes |   FPR
//	---------+--------+--------
//	       4 |   3    | ~14.5%
//	       6 |   4    |  ~5.8%
//	       8 |   5    |  ~2.4%
//	      10 |   6    |  ~1.1%
//	      16 |   6    |  ~0.25%
type FilterWriter struct {
	bitsPerKey uint32
	numProbes  uint32
	hashes     []uint64
	lastHash   uint64
}

// NewFilterWriter returns a writer for filters with the given number of bits
// per key.
func NewFilterWriter(bitsPerKey uint32) *FilterWriter {
	if bitsPerKey < 1 {
		panic(fmt.Sprintf("invalid bitsPerKey %d", bitsPerKey))
	}
	return &FilterWriter{
		bitsPerKey: bitsPerKey,
		numProbes:  calculateProbes(bitsPerKey),
	}
}

// AddKey adds a user key to the filter. Consecutive duplicate keys, which
// occur when a table holds several versions of a key, are added once.
func (w *FilterWriter) AddKey(key []byte) {
	l, p := hash(key)
	h := uint64(l) | uint64(p)<<32
	if len(w.hashes) > 0 && h == w.lastHash {
		return
	}
	w.hashes = append(w.hashes, h)
	w.lastHash = h
}

// NumKeys returns the number of distinct keys added so far.
func (w *FilterWriter) NumKeys() int {
	return len(w.hashes)
}

func calculateNumLines(numHashes int, bitsPerKey uint32) uint32 {
	nLines := (uint64(numHashes)*uint64(bitsPerKey) + cacheLineBits - 1) / (cacheLineBits)
	// Make nLines an odd number to make sure more bits are involved when
	// determining which block.
	return uint32(nLines | 1)
}

// Finish builds the filter and resets the writer. It returns nil if no keys
// were added.
func (w *FilterWriter) Finish() []byte {
	if len(w.hashes) == 0 {
		return nil
	}
	nLines := calculateNumLines(len(w.hashes), w.bitsPerKey)
	filter := make([]byte, int(nLines)*cacheLineSize+trailerLen)
	for _, h := range w.hashes {
		line := filter[(uint32(h)%nLines)*cacheLineSize:]
		delta := uint32(h>>32)>>17 | uint32(h>>32)<<15
		for j, p := uint32(0), uint32(h>>32); j < w.numProbes; j++ {
			bit := p % cacheLineBits
			line[bit/8] |= 1 << (bit % 8)
			p += delta
		}
	}
	filter[len(filter)-trailerLen] = byte(w.numProbes)
	binary.LittleEndian.PutUint32(filter[len(filter)-4:], nLines)
	w.hashes = w.hashes[:0]
	return filter
}

// MayContain returns false if the filter proves that key was never added to
// it. A malformed or empty filter may contain anything.
func MayContain(filter, key []byte) bool {
	if len(filter) <= trailerLen {
		return true
	}
	numProbes := uint32(filter[len(filter)-trailerLen])
	nLines := binary.LittleEndian.Uint32(filter[len(filter)-4:])
	if nLines == 0 || uint64(len(filter)-trailerLen) != uint64(nLines)*cacheLineSize {
		return true
	}
	l, p := hash(key)
	line := filter[(l%nLines)*cacheLineSize:]
	delta := p>>17 | p<<15
	for j := uint32(0); j < numProbes; j++ {
		bit := p % cacheLineBits
		if line[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
		p += delta
	}
	return true
}
