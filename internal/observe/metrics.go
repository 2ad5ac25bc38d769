// Package observe provides application-wide observability primitives for
// VoiceSync: OpenTelemetry metrics, tracing helpers, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoiceSync metrics.
const meterName = "github.com/voicesync/voicesync"

// Metrics holds all OpenTelemetry metric instruments for the signaling
// server. All fields are safe for concurrent use — the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// --- Gauges ---

	// ActiveConnections tracks the number of open signaling connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveRooms tracks the number of rooms with at least one member.
	ActiveRooms metric.Int64UpDownCounter

	// ActiveUsers tracks the number of logged-in users.
	ActiveUsers metric.Int64UpDownCounter

	// --- Counters ---

	// MessagesProcessed counts inbound messages by type and outcome. Use
	// with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	MessagesProcessed metric.Int64Counter

	// SignalsRelayed counts relayed peer-negotiation blobs.
	SignalsRelayed metric.Int64Counter

	// RecipientsDropped counts recipients disconnected because their send
	// queue overflowed.
	RecipientsDropped metric.Int64Counter

	// --- Latency histograms ---

	// DispatchDuration tracks per-message dispatch latency.
	DispatchDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for signaling dispatch, which is sub-millisecond in the common case.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voicesync.connections.active",
		metric.WithDescription("Number of open signaling connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRooms, err = m.Int64UpDownCounter("voicesync.rooms.active",
		metric.WithDescription("Number of rooms with at least one member."),
	); err != nil {
		return nil, err
	}
	if met.ActiveUsers, err = m.Int64UpDownCounter("voicesync.users.active",
		metric.WithDescription("Number of logged-in users."),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.MessagesProcessed, err = m.Int64Counter("voicesync.messages.processed",
		metric.WithDescription("Total inbound signaling messages by type and status."),
	); err != nil {
		return nil, err
	}
	if met.SignalsRelayed, err = m.Int64Counter("voicesync.signals.relayed",
		metric.WithDescription("Total peer-negotiation blobs relayed between peers."),
	); err != nil {
		return nil, err
	}
	if met.RecipientsDropped, err = m.Int64Counter("voicesync.recipients.dropped",
		metric.WithDescription("Recipients disconnected due to send-queue overflow."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.DispatchDuration, err = m.Float64Histogram("voicesync.dispatch.duration",
		metric.WithDescription("Per-message dispatch latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicesync.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordMessage records one processed inbound message with its type and
// outcome ("ok", "error", or "dropped").
func (m *Metrics) RecordMessage(ctx context.Context, msgType, status string) {
	m.MessagesProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("status", status),
		),
	)
}

// RecordDispatch records the latency of one dispatch by message type.
func (m *Metrics) RecordDispatch(ctx context.Context, msgType string, seconds float64) {
	m.DispatchDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}
