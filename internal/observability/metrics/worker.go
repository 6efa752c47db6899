package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	pipeline *PipelineMetrics

	processTotal    *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	pollTotal       *prometheus.CounterVec
	pollDiscovered  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "worker",
			Name:      "email_process_total",
			Help:      "Total processed emails by status.",
		},
		[]string{"service", "status"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailtriage",
			Subsystem: "worker",
			Name:      "email_process_duration_seconds",
			Help:      "Email processing duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailtriage",
			Subsystem: "worker",
			Name:      "email_process_in_flight",
			Help:      "Number of in-flight email processing tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailtriage",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between email discovery and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	pollTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "inbox",
			Name:      "polls_total",
			Help:      "Total inbox polls by status.",
		},
		[]string{"service", "status"},
	)
	pollDiscovered := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "inbox",
			Name:      "discovered_total",
			Help:      "Total new inbox messages scheduled for analysis.",
		},
		[]string{"service"},
	)

	registry.MustRegister(processTotal, processDuration, processInFlight, queueLag, pollTotal, pollDiscovered)

	return &WorkerMetrics{
		registry:        registry,
		pipeline:        NewPipelineMetrics(service, registry),
		processTotal:    processTotal,
		processDuration: processDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		pollTotal:       pollTotal,
		pollDiscovered:  pollDiscovered,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Pipeline() *PipelineMetrics {
	return m.pipeline
}

func (m *WorkerMetrics) StartEmail() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishEmail(service string, duration time.Duration, err error) {
	m.processInFlight.Dec()

	status := outcome(err)
	m.processTotal.WithLabelValues(service, status).Inc()
	m.processDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObservePoll(service string, discovered int, err error) {
	m.pollTotal.WithLabelValues(service, outcome(err)).Inc()
	if discovered > 0 {
		m.pollDiscovered.WithLabelValues(service).Add(float64(discovered))
	}
}
