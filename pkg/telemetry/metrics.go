package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the coach's OpenTelemetry instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	attempts     metric.Int64Counter
	retries      metric.Int64Counter
	rejections   metric.Int64Counter
	cacheLookups metric.Int64Counter
	fallbacks    metric.Int64Counter
	callLatency  metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("freedive-coach")

	attempts, err := meter.Int64Counter("coach.upstream.attempts",
		metric.WithDescription("Upstream call attempts by endpoint and outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("coach.upstream.retries",
		metric.WithDescription("Retries scheduled by endpoint and error type"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("coach.circuit.rejections",
		metric.WithDescription("Calls rejected by an open circuit"))
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("coach.cache.lookups",
		metric.WithDescription("Response cache lookups by result"))
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter("coach.chat.fallbacks",
		metric.WithDescription("Fallback replies served by error type"))
	if err != nil {
		return nil, err
	}
	callLatency, err := meter.Float64Histogram("coach.upstream.latency",
		metric.WithDescription("Upstream call latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		attempts:     attempts,
		retries:      retries,
		rejections:   rejections,
		cacheLookups: cacheLookups,
		fallbacks:    fallbacks,
		callLatency:  callLatency,
	}, nil
}

// Attempt records one upstream attempt and its latency.
func (m *Metrics) Attempt(ctx context.Context, endpoint string, ok bool, latencyMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Bool("success", ok),
	)
	m.attempts.Add(ctx, 1, attrs)
	m.callLatency.Record(ctx, latencyMs, attrs)
}

// Retry records a scheduled retry.
func (m *Metrics) Retry(ctx context.Context, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error.type", errorType),
	))
}

// CircuitRejected records a fast-fail caused by an open circuit.
func (m *Metrics) CircuitRejected(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// CacheLookup records a response cache hit or miss.
func (m *Metrics) CacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Fallback records a fallback reply.
func (m *Metrics) Fallback(ctx context.Context, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error.type", errorType),
	))
}
