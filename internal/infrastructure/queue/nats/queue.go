package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/semaphore"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

// Queue carries email-received events between the poller and the analysis workers.
type Queue struct {
	conn           *nats.Conn
	subject        string
	group          string
	handlerTimeout time.Duration
	concurrency    int
	observeLag     func(time.Duration)
	executor       *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// QueueGroup spreads events across workers; defaults to "mail-workers".
	QueueGroup string
	// HandlerTimeout bounds the processing of one event.
	HandlerTimeout time.Duration
	// Concurrency caps the events one subscriber processes at once; defaults to 1.
	Concurrency int
	// ObserveLag receives the delay between publish and delivery of each event.
	ObserveLag         func(time.Duration)
	ResilienceExecutor *resilience.Executor
}

type emailReceivedEvent struct {
	RecordID    string    `json:"record_id"`
	PublishedAt time.Time `json:"published_at"`
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	group := strings.TrimSpace(options.QueueGroup)
	if group == "" {
		group = "mail-workers"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("mail-triage"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		group:          group,
		handlerTimeout: options.HandlerTimeout,
		concurrency:    concurrency,
		observeLag:     options.ObserveLag,
		executor:       options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishEmailReceived(ctx context.Context, recordID string) error {
	payload, err := encodeEvent(recordID, time.Now().UTC())
	if err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeEmailReceived blocks until ctx is done, then drains the subscription and waits
// for in-flight handlers. Up to the configured concurrency events are handled at once.
func (q *Queue) SubscribeEmailReceived(ctx context.Context, handler func(context.Context, string) error) error {
	pool := newHandlerPool(q.concurrency, q.handlerTimeout, handler)
	defer pool.wait()

	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		recordID, publishedAt, err := decodeEvent(msg.Data)
		if err != nil {
			slog.Warn("queue_event_invalid", "subject", msg.Subject, "error", err)
			return
		}
		if q.observeLag != nil && !publishedAt.IsZero() {
			q.observeLag(time.Since(publishedAt))
		}
		pool.dispatch(ctx, recordID)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return handlerContext(ctx, q.handlerTimeout)
}

func handlerContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// handlerPool runs event handlers on at most limit goroutines. dispatch blocks the
// subscription callback while every slot is busy, leaving further events pending in nats.
type handlerPool struct {
	slots   *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
	handler func(context.Context, string) error
}

func newHandlerPool(limit int, timeout time.Duration, handler func(context.Context, string) error) *handlerPool {
	if limit <= 0 {
		limit = 1
	}
	return &handlerPool{
		slots:   semaphore.NewWeighted(int64(limit)),
		timeout: timeout,
		handler: handler,
	}
}

func (p *handlerPool) dispatch(ctx context.Context, recordID string) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		slog.Warn("queue_event_dropped", "record_id", recordID, "error", err)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.slots.Release(1)

		handlerCtx, cancel := handlerContext(ctx, p.timeout)
		defer cancel()
		if err := p.handler(handlerCtx, recordID); err != nil {
			slog.Error("queue_handler_failed", "record_id", recordID, "error", err)
		}
	}()
}

func (p *handlerPool) wait() {
	p.wg.Wait()
}

func encodeEvent(recordID string, at time.Time) ([]byte, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode event", errors.New("record id is empty"))
	}
	payload, err := json.Marshal(emailReceivedEvent{RecordID: recordID, PublishedAt: at})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

// decodeEvent accepts the JSON envelope and bare record ids published by older pollers.
// Bare ids carry no publish time.
func decodeEvent(data []byte) (string, time.Time, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", time.Time{}, domain.WrapError(domain.ErrInvalidInput, "decode event", errors.New("empty payload"))
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, time.Time{}, nil
	}

	var event emailReceivedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", time.Time{}, domain.WrapError(domain.ErrInvalidInput, "decode event", err)
	}
	if strings.TrimSpace(event.RecordID) == "" {
		return "", time.Time{}, domain.WrapError(domain.ErrInvalidInput, "decode event", errors.New("record id is empty"))
	}
	return strings.TrimSpace(event.RecordID), event.PublishedAt, nil
}
