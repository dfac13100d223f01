package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter("repoctl_cache_lookups_total")
	require.NoError(t, err)

	apiFetchTotal, err := meter.Int64Counter("repoctl_api_fetch_total")
	require.NoError(t, err)

	apiFetchDuration, err := meter.Float64Histogram("repoctl_api_fetch_duration_seconds")
	require.NoError(t, err)

	apiFallbacksTotal, err := meter.Int64Counter("repoctl_api_fallbacks_total")
	require.NoError(t, err)

	mutationsTotal, err := meter.Int64Counter("repoctl_mutations_total")
	require.NoError(t, err)

	rateLimitRemaining, err := meter.Int64Gauge("repoctl_rate_limit_remaining")
	require.NoError(t, err)

	globalMetrics = &Metrics{
		cacheLookupsTotal:  cacheLookupsTotal,
		apiFetchTotal:      apiFetchTotal,
		apiFetchDuration:   apiFetchDuration,
		apiFallbacksTotal:  apiFallbacksTotal,
		mutationsTotal:     mutationsTotal,
		rateLimitRemaining: rateLimitRemaining,
		meterProvider:      mp,
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordCacheLookup(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordCacheLookup(context.Background(), "list", "hit")
	RecordCacheLookup(context.Background(), "list", "hit")
	RecordCacheLookup(context.Background(), "search", "miss")

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "repoctl_cache_lookups_total")
	require.Len(t, dps, 2)
	for _, dp := range dps {
		if hasAttr(dp.Attributes, "result", "hit") {
			require.EqualValues(t, 2, dp.Value)
			require.True(t, hasAttr(dp.Attributes, "op", "list"))
		} else {
			require.EqualValues(t, 1, dp.Value)
			require.True(t, hasAttr(dp.Attributes, "op", "search"))
		}
	}
}

func TestRecordAPIFetch(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordAPIFetch(context.Background(), "primary", "list", 120*time.Millisecond, "success")

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "repoctl_api_fetch_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "primary"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	histDps := findHistogram(rm, "repoctl_api_fetch_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestRecordMutation(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordMutation(context.Background(), "archive", "success")
	RecordMutation(context.Background(), "delete", "error")

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "repoctl_mutations_total")
	require.Len(t, dps, 2)
}

func TestRecord_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	// Should not panic.
	RecordCacheLookup(context.Background(), "list", "hit")
	RecordAPIFetch(context.Background(), "primary", "list", time.Millisecond, "success")
	RecordFallback(context.Background(), "list")
	RecordMutation(context.Background(), "rename", "success")
	RecordRateLimit(context.Background(), 4999)
}
