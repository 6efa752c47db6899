package ports

import (
	"context"
	"io"
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// MailboxGateway is the mail provider: inbox listing, content retrieval, sending and
// post-processing of source messages.
type MailboxGateway interface {
	AttachmentFetcher
	ListInboxMessages(ctx context.Context, mailbox string) ([]domain.MessageSummary, error)
	GetMessageContent(ctx context.Context, mailbox, messageID string) (*domain.Message, error)
	SendMessage(ctx context.Context, msg domain.OutboundMessage) error
	MarkRead(ctx context.Context, mailbox, messageID string) error
	// MoveMessage files a message into folder and returns its id there, or "" when the
	// provider does not report it.
	MoveMessage(ctx context.Context, mailbox, messageID, folder string) (string, error)
}

// AttachmentFetcher loads attachment bytes that were not expanded with the message.
type AttachmentFetcher interface {
	GetAttachmentBytes(ctx context.Context, mailbox, messageID, attachmentID string) ([]byte, error)
}

// Classifier turns email text and base64-encoded attachments into classification results.
type Classifier interface {
	ClassifyText(ctx context.Context, subject, body string) (domain.ClassificationResult, error)
	ClassifyImage(ctx context.Context, base64Content string) (domain.ClassificationResult, error)
	ClassifyPDF(ctx context.Context, base64Content string) (domain.ClassificationResult, error)
}

// RecordStore persists analysis records.
type RecordStore interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error)
	ExistsByMessageRef(ctx context.Context, mailbox, messageRef string) (bool, error)
	UpdateAnalysis(ctx context.Context, id string, update domain.AnalysisUpdate) error
	MarkForwarded(ctx context.Context, id string, forwarded bool) error
	UpdateLocation(ctx context.Context, id, mailbox, messageRef string) error
	List(ctx context.Context, filter domain.ListFilter) ([]domain.AnalysisRecord, error)
}

// MessageQueue publishes/consumes email-received events keyed by record id.
type MessageQueue interface {
	PublishEmailReceived(ctx context.Context, recordID string) error
	SubscribeEmailReceived(ctx context.Context, handler func(context.Context, string) error) error
}

// ObjectStorage stores cached attachment content.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// RecipientResolver maps a category set to forward recipients.
type RecipientResolver interface {
	Recipients(categories []string) []string
}

// PipelineMetrics observes analysis and delivery outcomes.
type PipelineMetrics interface {
	ObserveClassification(source domain.ResultSource, err error)
	ObserveAnalysis(status domain.RecordStatus, duration time.Duration, err error)
	ObserveDelivery(err error)
}

// RecordExporter writes analysis records as a downloadable report.
type RecordExporter interface {
	Export(w io.Writer, records []domain.AnalysisRecord) error
}
