package ports

import (
	"context"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// EmailProcessor is the inbound contract for the asynchronous analysis pipeline.
type EmailProcessor interface {
	ProcessByID(ctx context.Context, recordID string) error
}

// ManualForwarder is the inbound contract for user-triggered forwarding.
type ManualForwarder interface {
	ForwardManually(ctx context.Context, recordID string) (*domain.AnalysisRecord, domain.DeliveryReport, error)
}

// RecordReader is the inbound read model for analysis records.
type RecordReader interface {
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.AnalysisRecord, error)
}

// RecordEdit carries a manual correction. Nil fields are left unchanged.
type RecordEdit struct {
	CustomerNumbers       []string `json:"customer_numbers"`
	Categories            []string `json:"categories"`
	PrimaryCustomerNumber *string  `json:"primary_customer_number"`
	PrimaryCategory       *string  `json:"primary_category"`
}

// RecordEditor is the inbound contract for manual classification edits.
type RecordEditor interface {
	UpdateClassification(ctx context.Context, recordID string, edit RecordEdit) (*domain.AnalysisRecord, error)
}

// InboxIngestor discovers new inbox messages and schedules them for analysis.
type InboxIngestor interface {
	Poll(ctx context.Context) (int, error)
	Requeue(ctx context.Context, recordID string) error
}
