package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservabilityCountsByRouteAndStatus(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, MetricsPrefix: "obs_test"}, nil)
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Annotate(w, r)
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, target := range []string{"/", "/", "/?fail=1"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	}
	if got := testutil.ToFloat64(obs.requests.WithLabelValues("rpc", "200")); got != 2 {
		t.Fatalf("expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(obs.requests.WithLabelValues("rpc", "502")); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
	if got := testutil.ToFloat64(obs.inFlight.WithLabelValues("rpc")); got != 0 {
		t.Fatalf("in-flight gauge not released: %v", got)
	}

	rec := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "obs_test_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}

func TestObservabilityDisabledPassesThrough(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: false, MetricsPrefix: "obs_disabled"}, nil)
	called := false
	handler := obs.Middleware("rpc")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := w.(*statusRecorder); ok {
			t.Fatalf("disabled observability must not wrap the writer")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("handler not invoked")
	}
}
