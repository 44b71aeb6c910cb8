package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newSelectRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(Middleware())
	sel := func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("q") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"responseHeader":{"status":0}}`))
	}
	r.Get("/select", sel)
	r.Post("/select", sel)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return r
}

func TestMetricsMiddleware_SelectQueriesShareOneLabel(t *testing.T) {
	r := newSelectRouter()
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/select", "200"))

	for _, target := range []string{
		"/select?q=*:*",
		"/select?q=cat:x&rows=5",
		"/select?q=cat:y&facet=true&facet.field=cat",
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", target, http.NoBody))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/select", "200")) - before
	if got != 3 {
		t.Errorf("expected 3 requests under the /select pattern, got %v", got)
	}
	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected http_request_duration_seconds to have observations")
	}
}

func TestMetricsMiddleware_StatusAndMethod(t *testing.T) {
	r := newSelectRouter()

	tests := []struct {
		method string
		target string
		path   string
		status string
	}{
		{"POST", "/select?q=*:*", "/select", "200"},
		{"GET", "/select", "/select", "400"},
		{"GET", "/health", "/health", "503"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.target, http.NoBody))

			val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.path, tc.status))
			if val < 1 {
				t.Errorf("expected requests_total{%s %s %s} >= 1, got %f", tc.method, tc.path, tc.status, val)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unknown"},
		{"/select", "/select"},
		{"/health", "/health"},
	}

	for _, tc := range tests {
		if got := normalizePath(tc.input); got != tc.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestMetricsHandler_ExposesSelectSeries(t *testing.T) {
	r := newSelectRouter()
	r.Handle("/metrics", promhttp.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/select?q=*:*", http.NoBody))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	want := `distsearch_http_requests_total{method="GET",path="/select",status="200"}`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("expected %s in the scrape", want)
	}
}
