// Package telemetry wires OpenTelemetry metrics to a Prometheus scrape handler.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "github.com/normanking/speechsync"

// Setup installs a global meter provider backed by a Prometheus exporter and
// returns its shutdown func and the /metrics handler. When the exporter cannot
// be created, metrics still record but the handler is nil.
func Setup(serviceName string, logger zerolog.Logger) (func(context.Context) error, http.Handler, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		logger.Warn().Err(err).Msg("Prometheus exporter unavailable")
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(mp)
		return mp.Shutdown, nil, nil
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	logger.Info().Str("exporter", "prometheus").Msg("Telemetry initialized")
	return mp.Shutdown, promhttp.Handler(), nil
}

// Metrics records speech driver activity. A nil *Metrics is a no-op.
type Metrics struct {
	requests   metric.Int64Counter
	failures   metric.Int64Counter
	superseded metric.Int64Counter
	fetch      metric.Float64Histogram
}

// NewMetrics creates instruments on mp, or on the global provider when nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	requests, err := meter.Int64Counter("speechsync.speak.requests",
		metric.WithDescription("Speak requests accepted"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("speechsync.speak.failures",
		metric.WithDescription("Speak requests that ended in an error, by kind"))
	if err != nil {
		return nil, err
	}
	superseded, err := meter.Int64Counter("speechsync.speak.superseded",
		metric.WithDescription("Fetch completions discarded because a newer request won"))
	if err != nil {
		return nil, err
	}
	fetch, err := meter.Float64Histogram("speechsync.fetch.duration",
		metric.WithDescription("TTS fetch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requests:   requests,
		failures:   failures,
		superseded: superseded,
		fetch:      fetch,
	}, nil
}

func (m *Metrics) Request() {
	if m == nil {
		return
	}
	m.requests.Add(context.Background(), 1)
}

func (m *Metrics) Failure(kind string) {
	if m == nil {
		return
	}
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) Superseded() {
	if m == nil {
		return
	}
	m.superseded.Add(context.Background(), 1)
}

// FetchDuration records one TTS round trip.
func (m *Metrics) FetchDuration(step string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.fetch.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))
}
