package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry
	pipeline *PipelineMetrics

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	trafficRejectedTotal *prometheus.CounterVec
	manualForwardsTotal  *prometheus.CounterVec
	editsTotal           *prometheus.CounterVec
	exportedRecords      *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailtriage",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailtriage",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	trafficRejectedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Requests rejected by rate limiting or backpressure.",
		},
		[]string{"service", "reason"},
	)
	manualForwardsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "forwarding",
			Name:      "manual_total",
			Help:      "Total manual forward requests by outcome.",
		},
		[]string{"service", "status"},
	)
	editsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "records",
			Name:      "edits_total",
			Help:      "Total manual classification edits by outcome.",
		},
		[]string{"service", "status"},
	)
	exportedRecords := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailtriage",
			Subsystem: "records",
			Name:      "exported",
			Help:      "Distribution of records per export.",
			Buckets:   []float64{0, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		trafficRejectedTotal,
		manualForwardsTotal,
		editsTotal,
		exportedRecords,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		pipeline:             NewPipelineMetrics(service, registry),
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		trafficRejectedTotal: trafficRejectedTotal,
		manualForwardsTotal:  manualForwardsTotal,
		editsTotal:           editsTotal,
		exportedRecords:      exportedRecords,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Pipeline() *PipelineMetrics {
	return m.pipeline
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses record ids so label cardinality stays bounded.
func normalizePath(path string) string {
	const prefix = "/v1/analyses/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if rest == "export" {
		return path
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		return prefix + "{analysis_id}" + rest[idx:]
	}
	return prefix + "{analysis_id}"
}

func (m *HTTPServerMetrics) RecordRejected(service, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.trafficRejectedTotal.WithLabelValues(service, reason).Inc()
}

func (m *HTTPServerMetrics) RecordManualForward(service string, err error) {
	m.manualForwardsTotal.WithLabelValues(service, outcome(err)).Inc()
}

func (m *HTTPServerMetrics) RecordEdit(service string, err error) {
	m.editsTotal.WithLabelValues(service, outcome(err)).Inc()
}

func (m *HTTPServerMetrics) RecordExport(service string, records int) {
	m.exportedRecords.WithLabelValues(service).Observe(float64(records))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
