package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

type recordsFake struct {
	byID       map[string]*domain.AnalysisRecord
	list       []domain.AnalysisRecord
	listErr    error
	lastFilter domain.ListFilter
}

func (f *recordsFake) GetByID(_ context.Context, id string) (*domain.AnalysisRecord, error) {
	record, ok := f.byID[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", errors.New(id))
	}
	return record, nil
}

func (f *recordsFake) List(_ context.Context, filter domain.ListFilter) ([]domain.AnalysisRecord, error) {
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.list, nil
}

type editorFake struct {
	lastID   string
	lastEdit ports.RecordEdit
	record   *domain.AnalysisRecord
	err      error
}

func (f *editorFake) UpdateClassification(_ context.Context, id string, edit ports.RecordEdit) (*domain.AnalysisRecord, error) {
	f.lastID = id
	f.lastEdit = edit
	return f.record, f.err
}

type forwarderFake struct {
	record *domain.AnalysisRecord
	report domain.DeliveryReport
	err    error
}

func (f *forwarderFake) ForwardManually(_ context.Context, _ string) (*domain.AnalysisRecord, domain.DeliveryReport, error) {
	return f.record, f.report, f.err
}

type ingestorFake struct {
	discovered int
	pollErr    error
	requeued   []string
	requeueErr error
}

func (f *ingestorFake) Poll(_ context.Context) (int, error) {
	return f.discovered, f.pollErr
}

func (f *ingestorFake) Requeue(_ context.Context, id string) error {
	f.requeued = append(f.requeued, id)
	return f.requeueErr
}

type exporterFake struct {
	rows int
}

func (f *exporterFake) Export(w io.Writer, records []domain.AnalysisRecord) error {
	f.rows = len(records)
	_, err := w.Write([]byte("xlsx"))
	return err
}

type testDeps struct {
	records   *recordsFake
	editor    *editorFake
	forwarder *forwarderFake
	ingestor  *ingestorFake
	exporter  *exporterFake
}

func newTestDeps() *testDeps {
	return &testDeps{
		records:   &recordsFake{byID: map[string]*domain.AnalysisRecord{}},
		editor:    &editorFake{},
		forwarder: &forwarderFake{},
		ingestor:  &ingestorFake{},
		exporter:  &exporterFake{},
	}
}

func (d *testDeps) router(cfg config.Config) *Router {
	return NewRouter(cfg, d.records, d.editor, d.forwarder, d.ingestor, d.exporter)
}

func newTestHandler(cfg config.Config) http.Handler {
	return newTestDeps().router(cfg).Handler()
}
