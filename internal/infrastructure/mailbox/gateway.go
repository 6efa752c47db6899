package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

// Reader is the inbox side of the provider.
type Reader interface {
	ListUnseen(ctx context.Context, folder string) ([]domain.MessageSummary, error)
	FetchRaw(ctx context.Context, folder, messageID string) ([]byte, *domain.MessageSummary, error)
	MarkSeen(ctx context.Context, folder, messageID string) error
	Move(ctx context.Context, folder, messageID, destination string) (string, error)
}

// Sender delivers one composed forward.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// Gateway implements the mailbox port on top of a Reader and a Sender. Outbound mail
// is paced by limiter and retried by executor.
type Gateway struct {
	reader   Reader
	sender   Sender
	limiter  *rate.Limiter
	executor *resilience.Executor
}

func NewGateway(reader Reader, sender Sender, limiter *rate.Limiter, executor *resilience.Executor) *Gateway {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Gateway{reader: reader, sender: sender, limiter: limiter, executor: executor}
}

func (g *Gateway) ListInboxMessages(ctx context.Context, mailbox string) ([]domain.MessageSummary, error) {
	summaries, err := g.reader.ListUnseen(ctx, mailbox)
	if err != nil {
		return nil, fmt.Errorf("list inbox %s: %w", mailbox, err)
	}
	return summaries, nil
}

func (g *Gateway) GetMessageContent(ctx context.Context, mailbox, messageID string) (*domain.Message, error) {
	raw, summary, err := g.reader.FetchRaw(ctx, mailbox, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}

	msg.ID = messageID
	msg.Mailbox = mailbox
	if summary != nil {
		if msg.Subject == "" {
			msg.Subject = summary.Subject
		}
		if msg.From == "" {
			msg.From = summary.From
		}
		if !summary.ReceivedAt.IsZero() {
			msg.ReceivedAt = summary.ReceivedAt
		}
	}
	return msg, nil
}

func (g *Gateway) GetAttachmentBytes(ctx context.Context, mailbox, messageID, attachmentID string) ([]byte, error) {
	msg, err := g.GetMessageContent(ctx, mailbox, messageID)
	if err != nil {
		return nil, err
	}
	for _, attachment := range msg.Attachments {
		if attachment.ID == attachmentID {
			return attachment.Content, nil
		}
	}
	return nil, domain.WrapError(domain.ErrObjectNotFound, "get attachment", fmt.Errorf("%s in message %s", attachmentID, messageID))
}

func (g *Gateway) SendMessage(ctx context.Context, msg domain.OutboundMessage) error {
	if len(msg.Recipients) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "send message", errors.New("no recipients"))
	}

	return g.executor.Execute(ctx, "mail.send", func(callCtx context.Context) error {
		if err := g.limiter.Wait(callCtx); err != nil {
			return fmt.Errorf("wait for send slot: %w", err)
		}
		return classifySMTPError(g.sender.Send(callCtx, msg))
	}, classifySendError)
}

func (g *Gateway) MarkRead(ctx context.Context, mailbox, messageID string) error {
	if err := g.reader.MarkSeen(ctx, mailbox, messageID); err != nil {
		return fmt.Errorf("mark %s read: %w", messageID, err)
	}
	return nil
}

func (g *Gateway) MoveMessage(ctx context.Context, mailbox, messageID, folder string) (string, error) {
	movedID, err := g.reader.Move(ctx, mailbox, messageID, folder)
	if err != nil {
		return "", fmt.Errorf("move %s: %w", messageID, err)
	}
	slog.Debug("message_moved", "message_id", messageID, "folder", folder, "moved_id", movedID)
	return movedID, nil
}

func classifySendError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if _, ok := resilience.RetryDelay(err); ok {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
