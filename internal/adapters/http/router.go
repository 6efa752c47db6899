package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/observability/metrics"
)

const (
	serviceName      = "api"
	maxExportRows    = 1000
	maxEditBody      = 64 << 10
	xlsxMediaType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	backpressureWait = 100 * time.Millisecond
)

type Router struct {
	cfg       config.Config
	records   ports.RecordReader
	editor    ports.RecordEditor
	forwarder ports.ManualForwarder
	ingestor  ports.InboxIngestor
	exporter  ports.RecordExporter
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	cfg config.Config,
	records ports.RecordReader,
	editor ports.RecordEditor,
	forwarder ports.ManualForwarder,
	ingestor ports.InboxIngestor,
	exporter ports.RecordExporter,
) *Router {
	return &Router{
		cfg:       cfg,
		records:   records,
		editor:    editor,
		forwarder: forwarder,
		ingestor:  ingestor,
		exporter:  exporter,
	}
}

func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(requestIDMiddleware, accessLogMiddleware)
	if rt.metrics != nil {
		mux.Use(func(next http.Handler) http.Handler {
			return rt.metrics.Middleware(serviceName, next)
		})
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	mux.Get("/healthz", rt.healthz)

	mux.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onReject("rate_limit"))
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, backpressureWait, rt.onReject("backpressure"))
		})

		r.Route("/v1/analyses", func(r chi.Router) {
			r.Get("/", rt.listAnalyses)
			r.Get("/export", rt.exportAnalyses)
			r.Get("/{id}", rt.getAnalysis)
			r.Patch("/{id}", rt.updateAnalysis)
			r.Post("/{id}/reprocess", rt.reprocessAnalysis)
			r.Post("/{id}/forward", rt.forwardAnalysis)
		})
		r.Post("/v1/inbox/poll", rt.pollInbox)
	})

	return mux
}

func (rt *Router) onReject(reason string) func() {
	return func() {
		if rt.metrics != nil {
			rt.metrics.RecordRejected(serviceName, reason)
		}
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) listAnalyses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	records, err := rt.records.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "count": len(records)})
}

func (rt *Router) exportAnalyses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter.Limit = maxExportRows

	records, err := rt.records.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := rt.exporter.Export(&buf, records); err != nil {
		writeError(w, r, fmt.Errorf("export analyses: %w", err))
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, len(records))
	}

	filename := fmt.Sprintf("analyses-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxMediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (rt *Router) getAnalysis(w http.ResponseWriter, r *http.Request) {
	record, err := rt.records.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) updateAnalysis(w http.ResponseWriter, r *http.Request) {
	var edit ports.RecordEdit
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEditBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&edit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	record, err := rt.editor.UpdateClassification(r.Context(), chi.URLParam(r, "id"), edit)
	if rt.metrics != nil {
		rt.metrics.RecordEdit(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) reprocessAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := rt.ingestor.Requeue(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}

func (rt *Router) forwardAnalysis(w http.ResponseWriter, r *http.Request) {
	record, report, err := rt.forwarder.ForwardManually(r.Context(), chi.URLParam(r, "id"))
	if rt.metrics != nil {
		rt.metrics.RecordManualForward(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if report.Sent == 0 && report.Attempted > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"record": record, "report": report})
}

func (rt *Router) pollInbox(w http.ResponseWriter, r *http.Request) {
	discovered, err := rt.ingestor.Poll(r.Context())
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if discovered > 0 {
			status = http.StatusMultiStatus
		}
		slog.Warn("inbox_poll_failed", "request_id", requestIDFromContext(r.Context()), "discovered", discovered, "error", err)
		writeJSON(w, status, map[string]any{"discovered": discovered, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discovered": discovered})
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	query := r.URL.Query()
	filter := domain.ListFilter{Status: domain.RecordStatus(strings.TrimSpace(query.Get("status")))}

	switch filter.Status {
	case "", domain.StatusPending, domain.StatusCategorized, domain.StatusMissingCustomerNumber, domain.StatusUncategorized:
	default:
		return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", fmt.Errorf("unknown status %q", filter.Status))
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, domain.WrapError(domain.ErrInvalidInput, "parse filter", errors.New("limit must be a positive integer"))
		}
		filter.Limit = limit
	}
	return filter, nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
