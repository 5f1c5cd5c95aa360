package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace/noop"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsAndTracingMiddleware(noop.NewTracerProvider().Tracer("test"), "test-service"))
	r.Get("/brew", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.Get("/country/{name}/", func(w http.ResponseWriter, _ *http.Request) {})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {})
	return r
}

func count(route, method, status string) float64 {
	return testutil.ToFloat64(requestCounter.WithLabelValues("test-service", route, method, status))
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	h := newRouter()
	before := count("/brew", http.MethodGet, "418")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/brew", nil))

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rr.Code)
	}
	if after := count("/brew", http.MethodGet, "418"); after != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, after)
	}
	if rr.Header().Get("Trace-ID") == "" {
		t.Fatalf("expected Trace-ID header")
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	h := newRouter()
	before := count("/country/{name}/", http.MethodGet, "200")
	missBefore := count("unmatched", http.MethodGet, "404")

	for _, path := range []string{"/country/Germany/", "/country/Korea%2C%20South/", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := count("/country/{name}/", http.MethodGet, "200"); got != before+2 {
		t.Fatalf("expected both countries under one route label, got %v -> %v", before, got)
	}
	if got := count("unmatched", http.MethodGet, "404"); got != missBefore+1 {
		t.Fatalf("expected unknown path under the unmatched label, got %v -> %v", missBefore, got)
	}
}

func TestMiddlewareSkipsMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler not reached, status %d", rr.Code)
	}
	if rr.Header().Get("Trace-ID") != "" {
		t.Fatalf("metrics endpoint should not be traced")
	}
}
