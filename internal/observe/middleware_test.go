package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// adminServer wraps a mux shaped like the server's admin endpoint in the
// middleware, with metrics and spans captured in memory.
func adminServer(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := useTracer(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", CorrelationID(r.Context()))
		_, _ = w.Write([]byte(`{"tracks":[]}`))
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	mux.HandleFunc("GET /sounds/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return Middleware(m)(mux), reader, exp
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := adminServer(t)

	rec := serve(h, "GET", "/snapshot", nil)
	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32 digit trace id", cid)
	}
	if seen := rec.Header().Get("X-Seen-Trace"); seen != cid {
		t.Errorf("handler saw trace %q, header carries %q", seen, cid)
	}

	// An incoming traceparent is continued.
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec = serve(h, "GET", "/snapshot", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpansNamedByRoute(t *testing.T) {
	h, _, exp := adminServer(t)

	serve(h, "GET", "/sounds/42", nil)
	serve(h, "GET", "/nowhere", nil)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if got := spans[0].Name; got != "HTTP GET /sounds/{id}" {
		t.Errorf("span name = %q, want the route pattern", got)
	}
	if got := spans[1].Name; got != "HTTP GET" {
		t.Errorf("unmatched span name = %q, want %q", got, "HTTP GET")
	}

	var status int64
	for _, kv := range spans[0].Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("span status code = %d, want 404", status)
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := adminServer(t)

	serve(h, "GET", "/sounds/1", nil)
	serve(h, "GET", "/sounds/2", nil)
	serve(h, "GET", "/snapshot", nil)
	serve(h, "GET", "/does/not/exist", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "scoreflow.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want a histogram", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		counts[route.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /sounds/{id}": 2,
		"GET /snapshot":    1,
		"unmatched":        1,
	}
	for route, n := range want {
		if counts[route] != n {
			t.Errorf("route %q count = %d, want %d", route, counts[route], n)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("routes = %v, want exactly %v", counts, want)
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	h, _, _ := adminServer(t)

	buf := captureLog(t)

	serve(h, "GET", "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("health check request logged at info: %s", buf.String())
	}

	serve(h, "GET", "/snapshot", nil)
	if !strings.Contains(buf.String(), `route="GET /snapshot"`) {
		t.Errorf("regular request not logged with its route, got: %s", buf.String())
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack on a non-hijackable writer returned nil error")
	}
	if rec.Unwrap() == nil {
		t.Error("Unwrap returned nil")
	}
}
