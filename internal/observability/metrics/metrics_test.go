package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/v1/analyses":                  "/v1/analyses",
		"/v1/analyses/export":           "/v1/analyses/export",
		"/v1/analyses/abc-123":          "/v1/analyses/{analysis_id}",
		"/v1/analyses/abc-123/forward":   "/v1/analyses/{analysis_id}/forward",
		"/v1/analyses/abc-123/reprocess": "/v1/analyses/{analysis_id}/reprocess",
		"/healthz":                     "/healthz",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPipelineMetricsCountOutcomes(t *testing.T) {
	m := NewWorkerMetrics("worker")
	p := m.Pipeline()

	p.ObserveDelivery(nil)
	p.ObserveDelivery(errors.New("smtp down"))
	p.ObserveDelivery(nil)
	p.ObserveClassification(domain.SourceImage, nil)
	p.ObserveAnalysis(domain.StatusCategorized, time.Second, nil)

	if got := counterValue(t, m.registry, "mailtriage_forwarding_deliveries_total", map[string]string{"status": "success"}); got != 2 {
		t.Fatalf("expected 2 successful deliveries, got %v", got)
	}
	if got := counterValue(t, m.registry, "mailtriage_forwarding_deliveries_total", map[string]string{"status": "error"}); got != 1 {
		t.Fatalf("expected 1 failed delivery, got %v", got)
	}
	if got := counterValue(t, m.registry, "mailtriage_analysis_records_total", map[string]string{"record_status": "categorized"}); got != 1 {
		t.Fatalf("expected 1 analysis, got %v", got)
	}
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/analyses/r-1", nil))

	if got := counterValue(t, m.registry, "mailtriage_http_requests_total", map[string]string{"path": "/v1/analyses/{analysis_id}", "status": "404"}); got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "mailtriage_http_requests_total") {
		t.Fatalf("expected exposition to include request counter")
	}
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
