package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point whose attribute key
// equals value.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.Emit() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no point with %s=%s", name, key, value)
	return 0
}

func TestRecordHelpers(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnectionError(ctx, "rate_limited")
	m.RecordResponseRequested(ctx, "classifier")
	m.RecordResponseRequested(ctx, "classifier")
	m.RecordResponseRequested(ctx, "tool")
	m.RecordClassifierDecision(ctx, "heuristic", true, 0.002)
	m.RecordToolCall(ctx, "capture_photo", "error", 1.5)
	m.RecordToolCall(ctx, "capture_photo", "ok", 0.3)
	m.RecordToolCall(ctx, "capture_photo", "ok", 0.4)

	rm := collect(t, reader)

	tests := []struct {
		metric, key, value string
		want               int64
	}{
		{"parley.connection.errors", "kind", "rate_limited", 1},
		{"parley.responses.requested", "source", "classifier", 2},
		{"parley.responses.requested", "source", "tool", 1},
		{"parley.classifier.decisions", "source", "heuristic", 1},
		{"parley.classifier.decisions", "respond", "true", 1},
		{"parley.tool.calls", "status", "ok", 2},
		{"parley.tool.calls", "status", "error", 1},
	}
	for _, tc := range tests {
		t.Run(tc.metric+"/"+tc.value, func(t *testing.T) {
			if got := sumWhere(t, rm, tc.metric, tc.key, tc.value); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}

	for name, want := range map[string]uint64{
		"parley.classifier.duration": 1,
		"parley.tool.duration":       3,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no histogram points", name)
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.PlaybackBuffers.Add(ctx, 3)
	m.PlaybackBuffers.Add(ctx, -3)
	m.PlaybackBuffers.Add(ctx, 1)
	m.BargeIns.Add(ctx, 1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"parley.sessions.active":  1,
		"parley.playback.buffers": 1,
		"parley.bargeins":         1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum, ok := met.Data.(metricdata.Sum[int64])
		if !ok || len(sum.DataPoints) == 0 {
			t.Fatalf("metric %q has no sum points", name)
		}
		if got := sum.DataPoints[0].Value; got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
