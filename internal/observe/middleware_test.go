package observe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace"
)

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanAndCorrelationID(t *testing.T) {
	exp := useTestTracer(t)
	m, _ := newTestMetrics(t)

	var inner string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = CorrelationID(r.Context())
	}))
	rec := serve(h, "GET", "/readyz", nil)

	if inner == "" {
		t.Fatal("handler context has no trace")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inner {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inner)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "GET /readyz" || spans[0].SpanKind != trace.SpanKindServer {
		t.Fatalf("spans = %+v", spans)
	}
}

func TestMiddleware_ContinuesW3CTrace(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := serve(h, "GET", "/healthz", http.Header{
		"Traceparent": {"00-" + traceID + "-00f067aa0ba902b7-01"},
	})

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want the caller's trace %q", got, traceID)
	}
	if tp := rec.Header().Get("Traceparent"); !strings.Contains(tp, traceID) {
		t.Errorf("traceparent = %q, want it to carry %q", tp, traceID)
	}
}

func TestMiddleware_RecordsDurationWithStatus(t *testing.T) {
	useTestTracer(t)
	m, reader := newTestMetrics(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	serve(h, "GET", "/readyz", nil)
	serve(h, "GET", "/metrics", nil)
	serve(h, "GET", "/metrics", nil)

	met := findMetric(collect(t, reader), "posecoach.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want a histogram", met.Data)
	}
	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		status, _ := dp.Attributes.Value("status")
		counts[path.AsString()+" "+status.AsString()] += dp.Count
	}
	if counts["/readyz 503"] != 1 || counts["/metrics 200"] != 2 {
		t.Errorf("data points = %v", counts)
	}
}

func TestMiddleware_QuietPathsLogAtDebug(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	buf := captureLogs(t)

	h := Middleware(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	serve(h, "GET", "/metrics", nil)
	serve(h, "GET", "/debug/state", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2:\n%s", len(lines), buf)
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "path=/metrics") {
		t.Errorf("scrape log = %s", lines[0])
	}
	if !strings.Contains(lines[1], "level=INFO") || !strings.Contains(lines[1], "path=/debug/state") {
		t.Errorf("request log = %s", lines[1])
	}
}
