package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func TestRenderSubject(t *testing.T) {
	cases := []struct {
		action domain.ForwardingAction
		want   string
	}{
		{
			action: domain.ForwardingAction{CustomerNumber: "AB1234CD56", Categories: []string{"Billing", "Tariff"}, SequenceIndex: 2, Total: 3},
			want:   "AB1234CD56_Billing+Tariff [2/3] FWD: Question",
		},
		{
			action: domain.ForwardingAction{CustomerNumber: "AB1234CD56", Categories: []string{"Billing"}, SequenceIndex: 1, Total: 1},
			want:   "AB1234CD56_Billing FWD: Question",
		},
		{
			action: domain.ForwardingAction{Categories: []string{"Billing"}, SequenceIndex: 1, Total: 1},
			want:   "Billing FWD: Question",
		},
		{
			action: domain.ForwardingAction{SequenceIndex: 1, Total: 1},
			want:   "FWD: Question",
		},
	}
	for _, tc := range cases {
		if got := RenderSubject(tc.action, "Question"); got != tc.want {
			t.Fatalf("RenderSubject(%+v) = %q, want %q", tc.action, got, tc.want)
		}
	}
}

func TestRenderBodyEmbedsHTMLBodyContent(t *testing.T) {
	msg := &domain.Message{
		From:       "customer@example.com",
		Subject:    "Meter",
		ReceivedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		HTMLBody:   "<html><head><title>x</title></head><body><p>Hello <b>team</b></p></body></html>",
	}
	action := domain.ForwardingAction{CustomerNumber: "AB1234CD56", Categories: []string{"Meter Reading"}, SequenceIndex: 1, Total: 1}

	body := RenderBody(action, &domain.AnalysisRecord{}, msg)
	if !strings.Contains(body, "<p>Hello <b>team</b></p>") {
		t.Fatalf("expected original body content, got %s", body)
	}
	if strings.Contains(body, "<title>") {
		t.Fatalf("head must not be embedded: %s", body)
	}
	if !strings.Contains(body, "AB1234CD56") || !strings.Contains(body, "Meter Reading") {
		t.Fatalf("expected metadata block, got %s", body)
	}
}

func TestRenderBodyWrapsPlainText(t *testing.T) {
	msg := &domain.Message{TextBody: "a < b\nthanks"}
	body := RenderBody(domain.ForwardingAction{Total: 1, SequenceIndex: 1}, nil, msg)
	if !strings.Contains(body, "<pre") || !strings.Contains(body, "a &lt; b\nthanks</pre>") {
		t.Fatalf("expected escaped preformatted text, got %s", body)
	}
}

func TestPlainTextFromHTML(t *testing.T) {
	msg := &domain.Message{HTMLBody: "<html><head><style>p{}</style></head><body><p>Customer AB1234CD56</p><script>x()</script></body></html>"}
	if got := PlainText(msg); got != "Customer AB1234CD56" {
		t.Fatalf("PlainText() = %q", got)
	}
}

func TestExecutorContinuesAfterFailedAction(t *testing.T) {
	gateway := &gatewayFake{sendErrs: map[int]error{1: errors.New("smtp 451")}}
	executor := NewForwardingExecutor(gateway, resolverFake{recipients: []string{"billing@example.com"}}, nil, "inbox@example.com")
	record := analyzedRecord([]string{"AB1234CD56", "ZZ9988XX77"}, "Billing", []string{"Billing"})
	plan, err := PlanForwarding(record)
	if err != nil {
		t.Fatalf("PlanForwarding() error = %v", err)
	}

	report := executor.Execute(context.Background(), record, &domain.Message{ID: "m-1", Subject: "Hi", TextBody: "x"}, plan.Actions)
	if report.Attempted != 2 || report.Sent != 1 || len(report.Failures) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Failures[0].Action.CustomerNumber != "AB1234CD56" {
		t.Fatalf("expected first action to fail, got %+v", report.Failures[0])
	}
	if gateway.sent[0].Subject != "ZZ9988XX77_Billing [2/2] FWD: Hi" {
		t.Fatalf("unexpected subject: %s", gateway.sent[0].Subject)
	}
}

func TestExecutorForwardsAttachmentsVerbatim(t *testing.T) {
	gateway := &gatewayFake{attachments: map[string][]byte{"a2": []byte("lazy")}}
	executor := NewForwardingExecutor(gateway, resolverFake{recipients: []string{"ops@example.com"}}, nil, "inbox@example.com")
	msg := &domain.Message{
		ID: "m-1",
		Attachments: []domain.Attachment{
			{ID: "a1", Filename: "bill.pdf", ContentType: "application/pdf", Content: []byte("%PDF")},
			{ID: "a2", Filename: "notes.txt", ContentType: "text/plain"},
		},
	}
	actions := []domain.ForwardingAction{{CustomerNumber: "AB1234CD56", Categories: []string{"Billing"}, SequenceIndex: 1, Total: 1}}

	report := executor.Execute(context.Background(), &domain.AnalysisRecord{ID: "rec-1"}, msg, actions)
	if report.Sent != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	sent := gateway.sent[0]
	if len(sent.Attachments) != 2 || string(sent.Attachments[1].Content) != "lazy" || sent.Attachments[0].Filename != "bill.pdf" {
		t.Fatalf("unexpected attachments: %+v", sent.Attachments)
	}
	if sent.From != "inbox@example.com" || sent.Recipients[0] != "ops@example.com" {
		t.Fatalf("unexpected envelope: %+v", sent)
	}
}

func TestExecutorWithoutRecipientsRecordsFailure(t *testing.T) {
	gateway := &gatewayFake{}
	executor := NewForwardingExecutor(gateway, resolverFake{}, nil, "inbox@example.com")
	actions := []domain.ForwardingAction{{CustomerNumber: "AB1234CD56", Categories: []string{"Billing"}, SequenceIndex: 1, Total: 1}}

	report := executor.Execute(context.Background(), &domain.AnalysisRecord{ID: "rec-1"}, &domain.Message{ID: "m-1"}, actions)
	if report.Sent != 0 || len(report.Failures) != 1 || gateway.sendCalls != 0 {
		t.Fatalf("expected delivery failure without send, got %+v (calls=%d)", report, gateway.sendCalls)
	}
}

func TestForwardAutomaticallyNothingToForward(t *testing.T) {
	record := analyzedRecord(nil, domain.Unclassified, []string{domain.Unclassified})
	store := newStoreFake(record)
	gateway := &gatewayFake{}
	uc := NewForwardUseCase(store, gateway, NewForwardingExecutor(gateway, resolverFake{recipients: []string{"x@example.com"}}, nil, "inbox"), "Processed")

	report, err := uc.ForwardAutomatically(context.Background(), record, &domain.Message{ID: "m-1"})
	if err != nil {
		t.Fatalf("ForwardAutomatically() error = %v", err)
	}
	if report.Attempted != 0 || gateway.sendCalls != 0 {
		t.Fatalf("expected no sends, got %+v", report)
	}
	if !record.ForwardingCompleted || record.Forwarded {
		t.Fatalf("expected forwarded=false, forwardingCompleted=true, got %v/%v", record.Forwarded, record.ForwardingCompleted)
	}
	if len(store.forwardedMarks) != 1 || store.forwardedMarks[0] {
		t.Fatalf("expected persisted forwarded=false, got %v", store.forwardedMarks)
	}
	if len(gateway.markedRead) != 0 || len(gateway.moved) != 0 {
		t.Fatalf("expected source message untouched, got read=%v moved=%v", gateway.markedRead, gateway.moved)
	}
}

func TestForwardAutomaticallyMarksForwardedAfterPartialFailure(t *testing.T) {
	record := analyzedRecord([]string{"AB1234CD56", "ZZ9988XX77"}, "Billing", []string{"Billing"})
	store := newStoreFake(record)
	gateway := &gatewayFake{sendErrs: map[int]error{2: errors.New("rejected")}}
	uc := NewForwardUseCase(store, gateway, NewForwardingExecutor(gateway, resolverFake{recipients: []string{"x@example.com"}}, nil, "inbox"), "Processed")

	report, err := uc.ForwardAutomatically(context.Background(), record, &domain.Message{ID: "m-1", Subject: "s"})
	if err != nil {
		t.Fatalf("ForwardAutomatically() error = %v", err)
	}
	if report.Sent != 1 || len(report.Failures) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !record.Forwarded || !record.ForwardingCompleted {
		t.Fatalf("expected forwarded terminal state")
	}
	if len(gateway.markedRead) != 1 || len(gateway.moved) != 1 || gateway.moved[0] != "m-1->Processed" {
		t.Fatalf("expected one read/move, got read=%v moved=%v", gateway.markedRead, gateway.moved)
	}

	again, err := uc.ForwardAutomatically(context.Background(), record, &domain.Message{ID: "m-1"})
	if err != nil || again.Attempted != 0 || gateway.sendCalls != 2 {
		t.Fatalf("expected second run to be a no-op, got %+v err=%v calls=%d", again, err, gateway.sendCalls)
	}
}

func TestForwardManuallySendsOneUntaggedAction(t *testing.T) {
	record := analyzedRecord([]string{"AB1234CD56", "ZZ9988XX77"}, "Billing", []string{"Billing", "Tariff"})
	record.ForwardingCompleted = true
	store := newStoreFake(record)
	gateway := &gatewayFake{messages: map[string]*domain.Message{
		"m-1": {ID: "m-1", Subject: "Question", TextBody: "hello"},
	}}
	uc := NewForwardUseCase(store, gateway, NewForwardingExecutor(gateway, resolverFake{recipients: []string{"x@example.com"}}, nil, "inbox"), "Processed")

	updated, report, err := uc.ForwardManually(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("ForwardManually() error = %v", err)
	}
	if report.Sent != 1 || len(gateway.sent) != 1 {
		t.Fatalf("expected exactly one send, got %+v", report)
	}
	if gateway.sent[0].Subject != "AB1234CD56_Billing+Tariff FWD: Question" {
		t.Fatalf("unexpected subject: %s", gateway.sent[0].Subject)
	}
	if !updated.Forwarded || !updated.ForwardingCompleted {
		t.Fatalf("expected forwarded terminal state, got %+v", updated)
	}
	if len(gateway.markedRead) != 1 || len(gateway.moved) != 1 {
		t.Fatalf("expected side effects once, got read=%v moved=%v", gateway.markedRead, gateway.moved)
	}
}

func TestForwardManuallyUnknownRecord(t *testing.T) {
	gateway := &gatewayFake{}
	uc := NewForwardUseCase(newStoreFake(), gateway, NewForwardingExecutor(gateway, resolverFake{}, nil, "inbox"), "")

	_, _, err := uc.ForwardManually(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestForwardManuallyAfterSourceWasFiledAway(t *testing.T) {
	record := analyzedRecord([]string{"AB1234CD56"}, "Billing", []string{"Billing"})
	store := newStoreFake(record)
	msg := &domain.Message{ID: "m-1", Mailbox: "inbox@example.com", Subject: "Question", TextBody: "hello"}
	gateway := &gatewayFake{
		relocate: true,
		nextUID:  41,
		messages: map[string]*domain.Message{"inbox@example.com/m-1": msg},
	}
	uc := NewForwardUseCase(store, gateway, NewForwardingExecutor(gateway, resolverFake{recipients: []string{"x@example.com"}}, nil, "inbox"), "Processed")

	report, err := uc.ForwardAutomatically(context.Background(), record, msg)
	if err != nil || report.Sent != 1 {
		t.Fatalf("ForwardAutomatically() = %+v, %v", report, err)
	}
	if record.Mailbox != "Processed" || record.MessageRef != "42" {
		t.Fatalf("expected record to follow the moved message, got %s/%s", record.Mailbox, record.MessageRef)
	}

	for i := 0; i < 2; i++ {
		updated, report, err := uc.ForwardManually(context.Background(), "rec-1")
		if err != nil {
			t.Fatalf("ForwardManually() #%d error = %v", i+1, err)
		}
		if report.Sent != 1 || updated.MessageRef != "42" {
			t.Fatalf("ForwardManually() #%d = %+v ref=%s", i+1, report, updated.MessageRef)
		}
	}

	if len(gateway.sent) != 3 {
		t.Fatalf("expected three sends, got %d", len(gateway.sent))
	}
	if len(gateway.moved) != 1 || gateway.moved[0] != "m-1->Processed" {
		t.Fatalf("expected a single move, got %v", gateway.moved)
	}
	if len(store.locations) != 1 || store.locations[0] != "Processed/42" {
		t.Fatalf("unexpected persisted locations: %v", store.locations)
	}
}
