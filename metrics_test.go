// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/cockroachdb/crlib/testutils/leaktest"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func randomLocalMetrics(rng *rand.Rand) StoreLocalMetrics {
	return StoreLocalMetrics{
		CacheDataBlockMiss:  rng.Uint64N(1000),
		CacheDataBlockTotal: rng.Uint64N(1000),
		CacheMetaBlockMiss:  rng.Uint64N(1000),
		CacheMetaBlockTotal: rng.Uint64N(1000),
		ScanKeyCount:        rng.Uint64N(1000),
		ProcessedKeyCount:   rng.Uint64N(1000),
	}
}

func TestStoreLocalMetricsAdd(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 100; i++ {
		a, b, c := randomLocalMetrics(rng), randomLocalMetrics(rng), randomLocalMetrics(rng)

		// Add is commutative and associative, with the zero value as identity.
		ab, ba := a, b
		ab.Add(b)
		ba.Add(a)
		require.Equal(t, ab, ba)

		abc1 := ab
		abc1.Add(c)
		bc := b
		bc.Add(c)
		abc2 := a
		abc2.Add(bc)
		require.Equal(t, abc1, abc2)

		z := a
		z.Add(StoreLocalMetrics{})
		require.Equal(t, a, z)

		require.Equal(t, a.ScanKeyCount+b.ScanKeyCount, ab.ScanKeyCount)
		require.Equal(t, a.CacheMetaBlockMiss+b.CacheMetaBlockMiss, ab.CacheMetaBlockMiss)
	}
}

func TestStoreLocalMetricsReport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	local := StoreLocalMetrics{
		CacheDataBlockMiss:  2,
		CacheDataBlockTotal: 7,
		CacheMetaBlockMiss:  1,
		CacheMetaBlockTotal: 3,
		ScanKeyCount:        10,
		ProcessedKeyCount:   14,
	}
	local.Report(m)
	local.Report(m)
	// A nil Metrics is ignored.
	local.Report(nil)

	require.Equal(t, 14.0, testutil.ToFloat64(m.blockRequests.WithLabelValues("data_total")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.blockRequests.WithLabelValues("data_miss")))
	require.Equal(t, 6.0, testutil.ToFloat64(m.blockRequests.WithLabelValues("meta_total")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.blockRequests.WithLabelValues("meta_miss")))
	require.Equal(t, 20.0, testutil.ToFloat64(m.scanKeyCount))
	require.Equal(t, 28.0, testutil.ToFloat64(m.processedKeyCount))

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP state_store_scan_key_count Total number of keys returned by scans and iterators
# TYPE state_store_scan_key_count counter
state_store_scan_key_count 20
`), "state_store_scan_key_count"))
}

// verifyHistogramCount checks that a histogram has the expected number of
// observations.
func verifyHistogramCount(t *testing.T, hist prometheus.Histogram, expectedCount uint64) {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, hist.Write(metric))
	require.Equal(t, expectedCount, metric.GetHistogram().GetSampleCount(), "histogram sample count mismatch")
}

func TestStoreLatencyHistograms(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	s := openTestStore(t, remote.NewInMem(), nil)
	defer func() { require.NoError(t, s.Close()) }()

	var b Batch
	b.Set([]byte("a"), []byte("1"))
	require.NoError(t, s.Ingest(ctx, 1, &b))
	require.NoError(t, s.Sync(ctx, 1))
	// Syncing an epoch that is already durable does not record a latency.
	require.NoError(t, s.Sync(ctx, 1))

	_, err := s.Get(ctx, []byte("a"), 1)
	require.NoError(t, err)
	_, err = s.Get(ctx, []byte("b"), 1)
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)

	it, err := s.NewIter(ctx, 1, nil)
	require.NoError(t, err)
	require.NoError(t, it.Close())

	verifyHistogramCount(t, s.metrics.syncDuration, 1)
	verifyHistogramCount(t, s.metrics.getDuration, 2)
	verifyHistogramCount(t, s.metrics.iterDuration, 1)
	verifyHistogramCount(t, s.metrics.compactionDuration, 0)
}
