package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	m.Request()
	m.Request()
	m.Superseded()
	m.Failure("transport")
	m.FetchDuration("audio", 120*time.Millisecond, nil)
	m.FetchDuration("timing", 40*time.Millisecond, errors.New("boom"))

	data := collect(t, reader)

	requests, ok := data["speechsync.speak.requests"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requests.DataPoints, 1)
	assert.Equal(t, int64(2), requests.DataPoints[0].Value)

	failures, ok := data["speechsync.speak.failures"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	kind, _ := failures.DataPoints[0].Attributes.Value("kind")
	assert.Equal(t, "transport", kind.AsString())

	fetch, ok := data["speechsync.fetch.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, fetch.DataPoints, 2)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Request()
		m.Failure("x")
		m.Superseded()
		m.FetchDuration("audio", time.Second, nil)
	})
}
