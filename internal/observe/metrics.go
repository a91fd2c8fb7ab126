// Package observe provides the observability primitives for parley:
// OpenTelemetry metrics, tracing helpers, a trace-aware [slog.Logger] and an
// HTTP middleware for the health and metrics server.
//
// Metrics go through the OpenTelemetry Metrics API. [InitProvider] bridges
// them to a Prometheus exporter so they can be scraped from /metrics. Tests
// should build their own instance with [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds the metric instruments of a running session engine. All
// fields are safe for concurrent use.
type Metrics struct {
	// ── Gauges ──────────────────────────────────────────────────────────

	// ActiveSessions is 1 while a session holds the wire connection.
	ActiveSessions metric.Int64UpDownCounter

	// PlaybackBuffers tracks assistant audio buffers scheduled but not yet
	// heard.
	PlaybackBuffers metric.Int64UpDownCounter

	// ── Counters ────────────────────────────────────────────────────────

	// ConnectionErrors counts session-fatal connection errors by "kind".
	ConnectionErrors metric.Int64Counter

	// BargeIns counts interruptions of assistant speech.
	BargeIns metric.Int64Counter

	// ResponsesRequested counts response.create events by "source"
	// (classifier, forced, tool).
	ResponsesRequested metric.Int64Counter

	// ClassifierDecisions counts intent decisions by "source" (remote,
	// heuristic) and "respond".
	ClassifierDecisions metric.Int64Counter

	// ToolCalls counts tool invocations by "tool" and "status".
	ToolCalls metric.Int64Counter

	// ── Latency ─────────────────────────────────────────────────────────

	ClassifierDuration metric.Float64Histogram
	ToolDuration       metric.Float64Histogram

	// HTTPRequestDuration tracks requests served by the health/metrics
	// server, by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. The classifier is
// capped at a few seconds; tools may take longer.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of sessions holding a wire connection."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBuffers, err = m.Int64UpDownCounter("parley.playback.buffers",
		metric.WithDescription("Assistant audio buffers scheduled but not yet played."),
	); err != nil {
		return nil, err
	}

	if met.ConnectionErrors, err = m.Int64Counter("parley.connection.errors",
		metric.WithDescription("Session-fatal connection errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("parley.bargeins",
		metric.WithDescription("User interruptions of assistant speech."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesRequested, err = m.Int64Counter("parley.responses.requested",
		metric.WithDescription("Response generations requested by source."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierDecisions, err = m.Int64Counter("parley.classifier.decisions",
		metric.WithDescription("Intent classifier decisions by source and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}

	if met.ClassifierDuration, err = m.Float64Histogram("parley.classifier.duration",
		metric.WithDescription("Latency of intent classification including fallback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("parley.tool.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first use from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus-backed provider.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnectionError counts one session-fatal connection error.
func (m *Metrics) RecordConnectionError(ctx context.Context, kind string) {
	m.ConnectionErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordResponseRequested counts one response.create sent for source.
func (m *Metrics) RecordResponseRequested(ctx context.Context, source string) {
	m.ResponsesRequested.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordClassifierDecision records the outcome and latency of one intent
// decision.
func (m *Metrics) RecordClassifierDecision(ctx context.Context, source string, respond bool, seconds float64) {
	m.ClassifierDecisions.Add(ctx, 1, metric.WithAttributes(
		Attr("source", source),
		attribute.Bool("respond", respond),
	))
	m.ClassifierDuration.Record(ctx, seconds)
}

// RecordToolCall records the outcome and latency of one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(Attr("tool", tool), Attr("status", status))
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolDuration.Record(ctx, seconds, metric.WithAttributes(Attr("tool", tool)))
}
