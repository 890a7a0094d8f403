package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/qrtrack"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Lifecycle metrics
	AssetsCreatedTotal    metric.Int64Counter
	TransitionsTotal      metric.Int64Counter
	TransitionConflicts   metric.Int64Counter
	OperationFailures     metric.Int64Counter
	OperationDuration     metric.Float64Histogram
	BulkCreateBatchSize   metric.Int64Histogram
	HistoryEntriesWritten metric.Int64Counter

	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// RecordOperation records the duration of a service operation and, when
// reason is not empty, a failure tagged with the reason.
func (m *Metrics) RecordOperation(ctx context.Context, op string, reason string, durationMs float64) {
	opAttr := attribute.String("operation", op)
	m.OperationDuration.Record(ctx, durationMs, metric.WithAttributes(opAttr))
	if reason != "" {
		m.OperationFailures.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("reason", reason)))
	}
}

// RecordTransition counts an applied transition between two statuses.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	attrs := metric.WithAttributes(attribute.String("from", from), attribute.String("to", to))
	m.TransitionsTotal.Add(ctx, 1, attrs)
	m.HistoryEntriesWritten.Add(ctx, 1)
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.AssetsCreatedTotal, _ = meter.Int64Counter(
		"qrtrack.assets.created.total",
		metric.WithDescription("Total number of assets created"),
		metric.WithUnit("{asset}"),
	)

	m.TransitionsTotal, _ = meter.Int64Counter(
		"qrtrack.transitions.total",
		metric.WithDescription("Total number of lifecycle transitions applied"),
		metric.WithUnit("{transition}"),
	)

	m.TransitionConflicts, _ = meter.Int64Counter(
		"qrtrack.transitions.conflicts.total",
		metric.WithDescription("Transitions rejected because the asset changed concurrently"),
		metric.WithUnit("{transition}"),
	)

	m.OperationFailures, _ = meter.Int64Counter(
		"qrtrack.operations.failures.total",
		metric.WithDescription("Service operations that returned a failure outcome"),
		metric.WithUnit("{operation}"),
	)

	m.OperationDuration, _ = meter.Float64Histogram(
		"qrtrack.operations.duration",
		metric.WithDescription("Duration of service operations"),
		metric.WithUnit("ms"),
	)

	m.BulkCreateBatchSize, _ = meter.Int64Histogram(
		"qrtrack.assets.bulk.batch_size",
		metric.WithDescription("Distinct codes per bulk create request"),
		metric.WithUnit("{asset}"),
	)

	m.HistoryEntriesWritten, _ = meter.Int64Counter(
		"qrtrack.history.entries.total",
		metric.WithDescription("Total number of audit history entries written"),
		metric.WithUnit("{entry}"),
	)

	m.HTTPRequestsTotal, _ = meter.Int64Counter(
		"qrtrack.http.requests.total",
		metric.WithDescription("Total number of HTTP API requests"),
		metric.WithUnit("{request}"),
	)

	m.HTTPRequestDuration, _ = meter.Float64Histogram(
		"qrtrack.http.requests.duration",
		metric.WithDescription("Duration of HTTP API requests"),
		metric.WithUnit("ms"),
	)

	return m
}
