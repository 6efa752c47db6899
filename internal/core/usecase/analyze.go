package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

// AnalyzeEmailUseCase runs dispatch, reconciliation, status resolution and automatic
// forwarding for one analysis record.
type AnalyzeEmailUseCase struct {
	store      ports.RecordStore
	gateway    ports.MailboxGateway
	dispatcher *Dispatcher
	forwarder  *ForwardUseCase
	metrics    ports.PipelineMetrics
}

func NewAnalyzeEmailUseCase(
	store ports.RecordStore,
	gateway ports.MailboxGateway,
	dispatcher *Dispatcher,
	forwarder *ForwardUseCase,
	metrics ports.PipelineMetrics,
) *AnalyzeEmailUseCase {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AnalyzeEmailUseCase{
		store:      store,
		gateway:    gateway,
		dispatcher: dispatcher,
		forwarder:  forwarder,
		metrics:    metrics,
	}
}

// ProcessByID is safe to call repeatedly: a record that finished forwarding is skipped,
// everything else is recomputed from current inputs and overwritten.
func (uc *AnalyzeEmailUseCase) ProcessByID(ctx context.Context, recordID string) error {
	started := time.Now()

	record, err := uc.store.GetByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("fetch analysis record: %w", err)
	}
	if record.ForwardingCompleted {
		slog.Info("analysis_skipped", "record_id", record.ID, "reason", "forwarding_completed")
		return nil
	}

	msg, err := uc.gateway.GetMessageContent(ctx, record.Mailbox, record.MessageRef)
	if err != nil {
		err = fmt.Errorf("get message content: %w", err)
		if failErr := uc.saveFailedAnalysis(ctx, record, err); failErr != nil {
			uc.metrics.ObserveAnalysis(domain.StatusPending, time.Since(started), failErr)
			return fmt.Errorf("%w; save failed analysis: %v", err, failErr)
		}
		uc.metrics.ObserveAnalysis(record.Status, time.Since(started), err)
		return err
	}

	update := uc.analyze(ctx, record, msg)
	if err := uc.saveAnalysis(ctx, record, update); err != nil {
		uc.metrics.ObserveAnalysis(update.Status, time.Since(started), err)
		return err
	}
	uc.metrics.ObserveAnalysis(update.Status, time.Since(started), nil)

	slog.Info("analysis_completed",
		"record_id", record.ID,
		"status", string(update.Status),
		"customer_numbers", len(update.Reconciled.AllCustomerNumbers),
		"category", update.Reconciled.Category,
	)

	if _, err := uc.forwarder.ForwardAutomatically(ctx, record, msg); err != nil {
		return fmt.Errorf("forward analysis record: %w", err)
	}
	return nil
}

func (uc *AnalyzeEmailUseCase) analyze(ctx context.Context, record *domain.AnalysisRecord, msg *domain.Message) domain.AnalysisUpdate {
	body := PlainText(msg)
	out := uc.dispatcher.Dispatch(ctx, DispatchInput{
		Mailbox:     record.Mailbox,
		MessageID:   msg.ID,
		Subject:     msg.Subject,
		Body:        body,
		Attachments: msg.Attachments,
	})

	attachmentResults := out.AttachmentResults()
	reconciled := Reconcile(out.Text, AggregateAttachments(attachmentResults))

	update := domain.AnalysisUpdate{
		RawText:           body,
		AttachmentRefs:    msg.AttachmentIDs(),
		ImageResults:      attachmentResults,
		Reconciled:        reconciled,
		Status:            ResolveStatus(reconciled.CustomerNumber, reconciled.Category),
		AnalysisCompleted: true,
	}
	if out.TextErr != nil {
		update.TextError = fmt.Sprintf("text classification failed: %v", out.TextErr)
	} else {
		text := out.Text.Clone()
		update.TextResult = &text
	}
	return update
}

// saveFailedAnalysis stores a completed analysis with a readable error so callers stop
// waiting on the record.
func (uc *AnalyzeEmailUseCase) saveFailedAnalysis(ctx context.Context, record *domain.AnalysisRecord, cause error) error {
	reconciled := Reconcile(domain.UnclassifiedResult(), AggregateAttachments(nil))
	update := domain.AnalysisUpdate{
		AttachmentRefs:    []string{},
		TextError:         fmt.Sprintf("analysis failed: %v", cause),
		ImageResults:      []domain.ClassificationResult{},
		Reconciled:        reconciled,
		Status:            ResolveStatus(reconciled.CustomerNumber, reconciled.Category),
		AnalysisCompleted: true,
	}
	slog.Error("analysis_failed", "record_id", record.ID, "error", cause)
	return uc.saveAnalysis(ctx, record, update)
}

func (uc *AnalyzeEmailUseCase) saveAnalysis(ctx context.Context, record *domain.AnalysisRecord, update domain.AnalysisUpdate) error {
	if err := uc.store.UpdateAnalysis(ctx, record.ID, update); err != nil {
		return domain.WrapError(domain.ErrPersistence, "save analysis", err)
	}
	record.ApplyAnalysis(update)
	return nil
}
