package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

// IngestInboxUseCase creates pending records for new inbox messages and queues them.
type IngestInboxUseCase struct {
	gateway ports.MailboxGateway
	store   ports.RecordStore
	queue   ports.MessageQueue
	mailbox string
}

func NewIngestInboxUseCase(
	gateway ports.MailboxGateway,
	store ports.RecordStore,
	queue ports.MessageQueue,
	mailbox string,
) *IngestInboxUseCase {
	return &IngestInboxUseCase{
		gateway: gateway,
		store:   store,
		queue:   queue,
		mailbox: mailbox,
	}
}

// Poll returns how many new messages were queued. A failing message does not stop the
// others; all failures are joined into the returned error.
func (uc *IngestInboxUseCase) Poll(ctx context.Context) (int, error) {
	summaries, err := uc.gateway.ListInboxMessages(ctx, uc.mailbox)
	if err != nil {
		return 0, fmt.Errorf("list inbox messages: %w", err)
	}

	queued := 0
	var errs []error
	for _, summary := range summaries {
		created, err := uc.ingest(ctx, summary)
		if err != nil {
			slog.Warn("inbox_message_ingest_failed",
				"mailbox", uc.mailbox,
				"message_id", summary.ID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if created {
			queued++
		}
	}
	return queued, errors.Join(errs...)
}

// Requeue publishes an existing record for another analysis pass.
func (uc *IngestInboxUseCase) Requeue(ctx context.Context, recordID string) error {
	record, err := uc.store.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("fetch analysis record: %w", err)
	}
	if err := uc.queue.PublishEmailReceived(ctx, record.ID); err != nil {
		return fmt.Errorf("publish email received event: %w", err)
	}
	return nil
}

func (uc *IngestInboxUseCase) ingest(ctx context.Context, summary domain.MessageSummary) (bool, error) {
	exists, err := uc.store.ExistsByMessageRef(ctx, uc.mailbox, summary.ID)
	if err != nil {
		return false, fmt.Errorf("check message %s: %w", summary.ID, err)
	}
	if exists {
		return false, nil
	}

	now := time.Now().UTC()
	record := &domain.AnalysisRecord{
		ID:             uuid.NewString(),
		Mailbox:        uc.mailbox,
		MessageRef:     summary.ID,
		Subject:        summary.Subject,
		From:           summary.From,
		ReceivedAt:     summary.ReceivedAt,
		AttachmentRefs: []string{},
		ImageResults:   []domain.ClassificationResult{},
		Reconciled: domain.Reconciled{
			AllCustomerNumbers:   []string{},
			AllCategories:        []string{},
			ExtractedInformation: []domain.ExtractedGroup{},
		},
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.store.Create(ctx, record); err != nil {
		return false, fmt.Errorf("create analysis record for %s: %w", summary.ID, err)
	}
	if err := uc.queue.PublishEmailReceived(ctx, record.ID); err != nil {
		return false, fmt.Errorf("publish email received event for %s: %w", record.ID, err)
	}
	return true, nil
}
