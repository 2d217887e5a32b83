// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "fmt"

// StoreLocalMetrics accumulates the counters of a single read session or
// compaction without synchronization. The owner reports them into the
// store-wide Metrics once the session ends.
type StoreLocalMetrics struct {
	CacheDataBlockMiss  uint64
	CacheDataBlockTotal uint64
	CacheMetaBlockMiss  uint64
	CacheMetaBlockTotal uint64
	// ScanKeyCount is the number of user keys returned to the caller.
	ScanKeyCount uint64
	// ProcessedKeyCount is the number of versioned entries examined to
	// produce them.
	ProcessedKeyCount uint64
}

// Add adds the counters of other into m, field by field.
func (m *StoreLocalMetrics) Add(other StoreLocalMetrics) {
	m.CacheDataBlockMiss += other.CacheDataBlockMiss
	m.CacheDataBlockTotal += other.CacheDataBlockTotal
	m.CacheMetaBlockMiss += other.CacheMetaBlockMiss
	m.CacheMetaBlockTotal += other.CacheMetaBlockTotal
	m.ScanKeyCount += other.ScanKeyCount
	m.ProcessedKeyCount += other.ProcessedKeyCount
}

// Report adds the counters into the prometheus collectors of metrics. A nil
// metrics is ignored.
func (m *StoreLocalMetrics) Report(metrics *Metrics) {
	if metrics == nil {
		return
	}
	metrics.blockRequests.WithLabelValues("data_total").Add(float64(m.CacheDataBlockTotal))
	metrics.blockRequests.WithLabelValues("data_miss").Add(float64(m.CacheDataBlockMiss))
	metrics.blockRequests.WithLabelValues("meta_total").Add(float64(m.CacheMetaBlockTotal))
	metrics.blockRequests.WithLabelValues("meta_miss").Add(float64(m.CacheMetaBlockMiss))
	metrics.scanKeyCount.Add(float64(m.ScanKeyCount))
	metrics.processedKeyCount.Add(float64(m.ProcessedKeyCount))
}

func (m StoreLocalMetrics) String() string {
	return fmt.Sprintf("data blocks %d/%d missed, meta blocks %d/%d missed, %d keys scanned, %d processed",
		m.CacheDataBlockMiss, m.CacheDataBlockTotal, m.CacheMetaBlockMiss, m.CacheMetaBlockTotal,
		m.ScanKeyCount, m.ProcessedKeyCount)
}
