// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/hummock/internal/cache"
	"github.com/cockroachdb/hummock/internal/humanize"
	"github.com/cockroachdb/hummock/internal/manifest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of a store.
type Metrics struct {
	blockRequests     *prometheus.CounterVec
	scanKeyCount      prometheus.Counter
	processedKeyCount prometheus.Counter

	getDuration        prometheus.Histogram
	iterDuration       prometheus.Histogram
	syncDuration       prometheus.Histogram
	compactionDuration prometheus.Histogram

	ingestBytes            prometheus.Counter
	flushBytes             prometheus.Counter
	compactionBytesRead    prometheus.Counter
	compactionBytesWritten prometheus.Counter
	compactions            *prometheus.CounterVec
	obsoleteTablesDeleted  prometheus.Counter
}

// NewMetrics creates the store's collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	latency := func(name, help string) prometheus.Histogram {
		return f.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100us to ~3s
		})
	}
	return &Metrics{
		blockRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "state_store_sst_store_block_request_counts",
			Help: "Total number of sst block requests that have been issued to the sst store",
		}, []string{"type"}),
		scanKeyCount: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_scan_key_count",
			Help: "Total number of keys returned by scans and iterators",
		}),
		processedKeyCount: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_processed_key_count",
			Help: "Total number of versioned entries examined by scans and iterators",
		}),
		getDuration:        latency("state_store_get_duration_seconds", "Histogram of point lookup latencies"),
		iterDuration:       latency("state_store_iter_init_duration_seconds", "Histogram of iterator construction latencies"),
		syncDuration:       latency("state_store_sync_duration_seconds", "Histogram of epoch sync latencies"),
		compactionDuration: latency("state_store_compaction_duration_seconds", "Histogram of compaction latencies"),
		ingestBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_ingest_bytes",
			Help: "Total number of key and value bytes ingested",
		}),
		flushBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_flush_bytes",
			Help: "Total number of bytes written by flushes",
		}),
		compactionBytesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_compaction_read_bytes",
			Help: "Total size of the tables read by compactions",
		}),
		compactionBytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_compaction_write_bytes",
			Help: "Total number of bytes written by compactions",
		}),
		compactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "state_store_compactions",
			Help: "Total number of compactions by result",
		}, []string{"result"}),
		obsoleteTablesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "state_store_obsolete_tables_deleted",
			Help: "Total number of obsolete tables removed from the object store",
		}),
	}
}

// LevelMetrics holds per-level metrics such as the number of tables and total
// size of the tables.
type LevelMetrics struct {
	// The total number of tables in the level.
	NumTables int64
	// The total size in bytes of the tables in the level.
	Size uint64
	// The level's compaction score.
	Score float64
	// The number of bytes written into the level, by flushes for L0 and by
	// compactions for the other levels.
	BytesIn uint64
	// The number of bytes read by compactions from the level.
	BytesRead uint64
}

// Add updates the counter metrics for the level.
func (m *LevelMetrics) Add(u *LevelMetrics) {
	m.NumTables += u.NumTables
	m.Size += u.Size
	m.BytesIn += u.BytesIn
	m.BytesRead += u.BytesRead
}

func (m *LevelMetrics) format(buf *bytes.Buffer) {
	fmt.Fprintf(buf, "%6d %7s %7.2f %7s %7s\n",
		m.NumTables,
		humanize.Bytes.Uint64(m.Size),
		m.Score,
		humanize.Bytes.Uint64(m.BytesIn),
		humanize.Bytes.Uint64(m.BytesRead),
	)
}

// StoreMetrics is a point in time snapshot of the state of a store.
type StoreMetrics struct {
	Version struct {
		ID                uint64
		MaxCommittedEpoch Epoch
		SafeEpoch         Epoch
		// Live is the number of versions that are current or pinned.
		Live int
	}
	Levels     [manifest.NumLevels]LevelMetrics
	BlockCache cache.Metrics
	MetaCache  cache.Metrics
	MemTable   struct {
		// Size is the number of key and value bytes buffered.
		Size uint64
		// Count is the number of buffered entries.
		Count int64
	}
	Compact struct {
		Count       int64
		FailedCount int64
		StaleCount  int64
	}
	Table struct {
		// ObsoleteCount is the number of tables no longer referenced by any
		// version and not yet deleted.
		ObsoleteCount int
	}
	// Local is the sum of the local metrics of every finished read session.
	Local StoreLocalMetrics
}

// Total returns the sum of the per-level metrics.
func (m *StoreMetrics) Total() LevelMetrics {
	var total LevelMetrics
	for level := range m.Levels {
		total.Add(&m.Levels[level])
	}
	return total
}

func hitRate(c cache.Metrics) float64 {
	if sum := c.Hits + c.Misses; sum > 0 {
		return 100 * float64(c.Hits) / float64(sum)
	}
	return 0
}

// String pretty-prints the metrics, showing a line per level and a total:
//
//	level__tables____size___score______in____read
//	    0      2   1.2MB    0.50   1.2MB     0B
//	    1      3   5.6MB    0.09   5.6MB   1.1MB
//	total      5   6.8MB    0.00   6.8MB   1.1MB
func (m *StoreMetrics) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "version %d: committed=%s safe=%s live=%d\n",
		m.Version.ID, m.Version.MaxCommittedEpoch, m.Version.SafeEpoch, m.Version.Live)
	fmt.Fprintf(&buf, "level__tables____size___score______in____read\n")
	for level := range m.Levels {
		fmt.Fprintf(&buf, "%5d ", level)
		m.Levels[level].format(&buf)
	}
	total := m.Total()
	fmt.Fprintf(&buf, "total ")
	total.format(&buf)
	fmt.Fprintf(&buf, "memtable %s entries %s\n",
		humanize.Count.Int64(m.MemTable.Count), humanize.Bytes.Uint64(m.MemTable.Size))
	fmt.Fprintf(&buf, "compactions %d failed %d stale %d\n",
		m.Compact.Count, m.Compact.FailedCount, m.Compact.StaleCount)
	fmt.Fprintf(&buf, "obsolete tables %d\n", m.Table.ObsoleteCount)
	fmt.Fprintf(&buf, "block cache %s entries %s hit rate %.1f%%\n",
		humanize.Count.Int64(m.BlockCache.Count), humanize.Bytes.Int64(m.BlockCache.Size), hitRate(m.BlockCache))
	fmt.Fprintf(&buf, "meta cache %s entries %s hit rate %.1f%%\n",
		humanize.Count.Int64(m.MetaCache.Count), humanize.Bytes.Int64(m.MetaCache.Size), hitRate(m.MetaCache))
	fmt.Fprintf(&buf, "%s\n", m.Local)
	return buf.String()
}
