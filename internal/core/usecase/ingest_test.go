package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func TestPollQueuesOnlyNewMessages(t *testing.T) {
	existing := pendingRecord()
	store := newStoreFake(existing)
	gateway := &gatewayFake{inbox: []domain.MessageSummary{
		{ID: "m-1", Subject: "old"},
		{ID: "m-2", Subject: "new", From: "customer@example.com"},
	}}
	queue := &queueFake{}
	uc := NewIngestInboxUseCase(gateway, store, queue, "inbox@example.com")

	queued, err := uc.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if queued != 1 || len(store.created) != 1 {
		t.Fatalf("expected one new record, got queued=%d created=%d", queued, len(store.created))
	}
	created := store.created[0]
	if created.MessageRef != "m-2" || created.Status != domain.StatusPending || created.ID == "" {
		t.Fatalf("unexpected record: %+v", created)
	}
	if len(queue.published) != 1 || queue.published[0] != created.ID {
		t.Fatalf("expected record id to be published, got %v", queue.published)
	}
}

func TestPollContinuesAfterPublishFailure(t *testing.T) {
	store := newStoreFake()
	gateway := &gatewayFake{inbox: []domain.MessageSummary{{ID: "m-1"}, {ID: "m-2"}}}
	queue := &queueFake{err: errors.New("nats down")}
	uc := NewIngestInboxUseCase(gateway, store, queue, "inbox@example.com")

	queued, err := uc.Poll(context.Background())
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if queued != 0 || len(store.created) != 2 {
		t.Fatalf("expected both messages attempted, got queued=%d created=%d", queued, len(store.created))
	}
}

func TestRequeuePublishesExistingRecord(t *testing.T) {
	store := newStoreFake(pendingRecord())
	queue := &queueFake{}
	uc := NewIngestInboxUseCase(&gatewayFake{}, store, queue, "inbox@example.com")

	if err := uc.Requeue(context.Background(), "rec-1"); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if len(queue.published) != 1 || queue.published[0] != "rec-1" {
		t.Fatalf("unexpected publish: %v", queue.published)
	}

	if err := uc.Requeue(context.Background(), "missing"); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
