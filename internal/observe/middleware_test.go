package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return m, reader, exp
}

func TestMiddleware(t *testing.T) {
	m, reader, exp := testSetup(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	if seen != traceID {
		t.Errorf("handler correlation ID = %q, want %q", seen, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var gotStatus int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			gotStatus = a.Value.AsInt64()
		}
	}
	if gotStatus != http.StatusServiceUnavailable {
		t.Errorf("span status attribute = %d, want 503", gotStatus)
	}

	met := findMetric(collect(t, reader), "parley.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram points = %+v, want one sample", hist.DataPoints)
	}
}

func TestMiddleware_StartsNewTrace(t *testing.T) {
	m, _, _ := testSetup(t)
	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("X-Correlation-ID"); len(got) != 32 {
		t.Errorf("X-Correlation-ID = %q, want 32 hex chars", got)
	}
}
