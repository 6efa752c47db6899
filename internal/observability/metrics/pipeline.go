package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// PipelineMetrics observes classification, analysis and delivery outcomes. It is shared
// by the worker and the API, which both forward mail.
type PipelineMetrics struct {
	service string

	classificationTotal *prometheus.CounterVec
	analysisTotal       *prometheus.CounterVec
	analysisDuration    *prometheus.HistogramVec
	deliveryTotal       *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	classificationTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "classifier",
			Name:      "calls_total",
			Help:      "Total classifier calls by source and outcome.",
		},
		[]string{"service", "source", "status"},
	)
	analysisTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "analysis",
			Name:      "records_total",
			Help:      "Total analyzed emails by resulting record status.",
		},
		[]string{"service", "record_status", "status"},
	)
	analysisDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailtriage",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Email analysis duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	deliveryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailtriage",
			Subsystem: "forwarding",
			Name:      "deliveries_total",
			Help:      "Total forward deliveries by outcome.",
		},
		[]string{"service", "status"},
	)

	registerer.MustRegister(classificationTotal, analysisTotal, analysisDuration, deliveryTotal)

	return &PipelineMetrics{
		service:             service,
		classificationTotal: classificationTotal,
		analysisTotal:       analysisTotal,
		analysisDuration:    analysisDuration,
		deliveryTotal:       deliveryTotal,
	}
}

func (m *PipelineMetrics) ObserveClassification(source domain.ResultSource, err error) {
	m.classificationTotal.WithLabelValues(m.service, string(source), outcome(err)).Inc()
}

func (m *PipelineMetrics) ObserveAnalysis(status domain.RecordStatus, duration time.Duration, err error) {
	recordStatus := string(status)
	if recordStatus == "" {
		recordStatus = "unknown"
	}
	m.analysisTotal.WithLabelValues(m.service, recordStatus, outcome(err)).Inc()
	m.analysisDuration.WithLabelValues(m.service, outcome(err)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDelivery(err error) {
	m.deliveryTotal.WithLabelValues(m.service, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
