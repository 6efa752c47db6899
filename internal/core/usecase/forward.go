package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

// ForwardingExecutor renders and sends planned actions one at a time.
type ForwardingExecutor struct {
	gateway     ports.MailboxGateway
	recipients  ports.RecipientResolver
	metrics     ports.PipelineMetrics
	fromMailbox string
}

func NewForwardingExecutor(
	gateway ports.MailboxGateway,
	recipients ports.RecipientResolver,
	metrics ports.PipelineMetrics,
	fromMailbox string,
) *ForwardingExecutor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ForwardingExecutor{
		gateway:     gateway,
		recipients:  recipients,
		metrics:     metrics,
		fromMailbox: fromMailbox,
	}
}

// Execute attempts every action. A failed action is recorded in the report and never
// stops the remaining ones.
func (e *ForwardingExecutor) Execute(
	ctx context.Context,
	record *domain.AnalysisRecord,
	msg *domain.Message,
	actions []domain.ForwardingAction,
) domain.DeliveryReport {
	report := domain.DeliveryReport{Failures: []domain.DeliveryFailure{}}
	if len(actions) == 0 {
		return report
	}

	attachments, loadErr := e.loadAttachments(ctx, msg)
	for _, action := range actions {
		report.Attempted++

		err := loadErr
		if err == nil {
			err = e.send(ctx, record, msg, action, attachments)
		}
		e.metrics.ObserveDelivery(err)
		if err != nil {
			slog.Warn("forward_send_failed",
				"record_id", record.ID,
				"message_id", msg.ID,
				"customer_number", action.CustomerNumber,
				"sequence_index", action.SequenceIndex,
				"total", action.Total,
				"error", err,
			)
			report.Failures = append(report.Failures, domain.DeliveryFailure{Action: action, Error: err.Error()})
			continue
		}
		report.Sent++
	}
	return report
}

func (e *ForwardingExecutor) send(
	ctx context.Context,
	record *domain.AnalysisRecord,
	msg *domain.Message,
	action domain.ForwardingAction,
	attachments []domain.Attachment,
) error {
	recipients := e.recipients.Recipients(action.Categories)
	if len(recipients) == 0 {
		return domain.WrapError(domain.ErrDelivery, "send forward", errors.New("no recipients configured for categories"))
	}

	out := domain.OutboundMessage{
		From:        e.fromMailbox,
		Subject:     RenderSubject(action, msg.Subject),
		HTMLBody:    RenderBody(action, record, msg),
		Recipients:  recipients,
		Attachments: attachments,
	}
	if err := e.gateway.SendMessage(ctx, out); err != nil {
		return domain.WrapError(domain.ErrDelivery, "send forward", err)
	}
	return nil
}

// loadAttachments resolves attachment bytes once for all actions of a message.
func (e *ForwardingExecutor) loadAttachments(ctx context.Context, msg *domain.Message) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(msg.Attachments))
	for _, attachment := range msg.Attachments {
		if len(attachment.Content) == 0 {
			content, err := e.gateway.GetAttachmentBytes(ctx, msg.Mailbox, msg.ID, attachment.ID)
			if err != nil {
				return nil, domain.WrapError(domain.ErrDelivery, "load attachment", fmt.Errorf("attachment %s: %w", attachment.ID, err))
			}
			attachment.Content = content
		}
		out = append(out, attachment)
	}
	return out, nil
}

// ForwardUseCase drives the automatic and the user-triggered forwarding paths.
type ForwardUseCase struct {
	store           ports.RecordStore
	gateway         ports.MailboxGateway
	executor        *ForwardingExecutor
	processedFolder string
}

func NewForwardUseCase(
	store ports.RecordStore,
	gateway ports.MailboxGateway,
	executor *ForwardingExecutor,
	processedFolder string,
) *ForwardUseCase {
	return &ForwardUseCase{
		store:           store,
		gateway:         gateway,
		executor:        executor,
		processedFolder: processedFolder,
	}
}

// ForwardAutomatically plans and executes forwarding for a freshly analyzed record.
// A record that already reached a terminal forwarding state is left untouched.
func (uc *ForwardUseCase) ForwardAutomatically(
	ctx context.Context,
	record *domain.AnalysisRecord,
	msg *domain.Message,
) (domain.DeliveryReport, error) {
	plan, err := PlanForwarding(record)
	if err != nil {
		return domain.DeliveryReport{}, err
	}
	if plan.AlreadyCompleted {
		return domain.DeliveryReport{}, nil
	}
	if plan.NothingToForward() {
		if err := uc.markForwarded(ctx, record, false); err != nil {
			return domain.DeliveryReport{}, err
		}
		slog.Info("forwarding_skipped",
			"record_id", record.ID,
			"status", string(record.Status),
		)
		return domain.DeliveryReport{}, nil
	}

	return uc.run(ctx, record, msg, plan.Actions)
}

// ForwardManually sends exactly one untagged forward regardless of the forwarding rule.
func (uc *ForwardUseCase) ForwardManually(ctx context.Context, recordID string) (*domain.AnalysisRecord, domain.DeliveryReport, error) {
	record, err := uc.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, domain.DeliveryReport{}, fmt.Errorf("fetch analysis record: %w", err)
	}

	msg, err := uc.gateway.GetMessageContent(ctx, record.Mailbox, record.MessageRef)
	if err != nil {
		return nil, domain.DeliveryReport{}, fmt.Errorf("get message content: %w", err)
	}

	report, err := uc.run(ctx, record, msg, PlanManualForward(record).Actions)
	if err != nil {
		return nil, report, err
	}
	return record, report, nil
}

func (uc *ForwardUseCase) run(
	ctx context.Context,
	record *domain.AnalysisRecord,
	msg *domain.Message,
	actions []domain.ForwardingAction,
) (domain.DeliveryReport, error) {
	report := uc.executor.Execute(ctx, record, msg, actions)
	slog.Info("forwarding_finished",
		"record_id", record.ID,
		"attempted", report.Attempted,
		"sent", report.Sent,
		"failed", len(report.Failures),
	)

	if err := uc.markForwarded(ctx, record, true); err != nil {
		return report, err
	}
	uc.finalizeSource(ctx, record)
	return report, nil
}

func (uc *ForwardUseCase) markForwarded(ctx context.Context, record *domain.AnalysisRecord, forwarded bool) error {
	if err := uc.store.MarkForwarded(ctx, record.ID, forwarded); err != nil {
		return domain.WrapError(domain.ErrPersistence, "mark forwarded", err)
	}
	record.MarkForwarded(forwarded)
	return nil
}

// finalizeSource marks the source message read and files it away, keeping the record
// pointed at the message's new location. Failures only log.
func (uc *ForwardUseCase) finalizeSource(ctx context.Context, record *domain.AnalysisRecord) {
	if err := uc.gateway.MarkRead(ctx, record.Mailbox, record.MessageRef); err != nil {
		slog.Warn("mark_read_failed", "record_id", record.ID, "error", err)
	}
	if uc.processedFolder == "" || record.Mailbox == uc.processedFolder {
		return
	}
	movedRef, err := uc.gateway.MoveMessage(ctx, record.Mailbox, record.MessageRef, uc.processedFolder)
	if err != nil {
		slog.Warn("move_message_failed",
			"record_id", record.ID,
			"folder", uc.processedFolder,
			"error", err,
		)
		return
	}
	if movedRef == "" {
		slog.Warn("moved_message_ref_unknown",
			"record_id", record.ID,
			"folder", uc.processedFolder,
			"message_ref", record.MessageRef,
		)
		return
	}
	if err := uc.store.UpdateLocation(ctx, record.ID, uc.processedFolder, movedRef); err != nil {
		slog.Warn("update_message_location_failed",
			"record_id", record.ID,
			"folder", uc.processedFolder,
			"message_ref", movedRef,
			"error", err,
		)
		return
	}
	record.Mailbox = uc.processedFolder
	record.MessageRef = movedRef
}
