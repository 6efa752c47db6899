package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"sync"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func strPtr(v string) *string { return &v }

type classifierFake struct {
	mu        sync.Mutex
	text      func(subject, body string) (domain.ClassificationResult, error)
	image     func(content string) (domain.ClassificationResult, error)
	pdf       func(content string) (domain.ClassificationResult, error)
	textCalls int
	seen      []string
}

func (f *classifierFake) ClassifyText(_ context.Context, subject, body string) (domain.ClassificationResult, error) {
	f.mu.Lock()
	f.textCalls++
	f.mu.Unlock()
	if f.text == nil {
		return domain.UnclassifiedResult(), nil
	}
	return f.text(subject, body)
}

func (f *classifierFake) ClassifyImage(_ context.Context, b64 string) (domain.ClassificationResult, error) {
	content := f.decode(b64)
	if f.image == nil {
		return domain.UnclassifiedResult(), nil
	}
	return f.image(content)
}

func (f *classifierFake) ClassifyPDF(_ context.Context, b64 string) (domain.ClassificationResult, error) {
	content := f.decode(b64)
	if f.pdf == nil {
		return domain.UnclassifiedResult(), nil
	}
	return f.pdf(content)
}

func (f *classifierFake) decode(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		raw = []byte(b64)
	}
	f.mu.Lock()
	f.seen = append(f.seen, string(raw))
	f.mu.Unlock()
	return string(raw)
}

type storeFake struct {
	records        map[string]*domain.AnalysisRecord
	getErr         error
	updateErr      error
	markErr        error
	createErr      error
	updates        []domain.AnalysisUpdate
	forwardedMarks []bool
	created        []*domain.AnalysisRecord
	locations      []string
}

func newStoreFake(records ...*domain.AnalysisRecord) *storeFake {
	f := &storeFake{records: map[string]*domain.AnalysisRecord{}}
	for _, record := range records {
		f.records[record.ID] = record
	}
	return f
}

func (f *storeFake) Create(_ context.Context, record *domain.AnalysisRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyRecord := *record
	f.records[record.ID] = &copyRecord
	f.created = append(f.created, &copyRecord)
	return nil
}

func (f *storeFake) GetByID(_ context.Context, id string) (*domain.AnalysisRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	record, ok := f.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", errors.New(id))
	}
	copyRecord := *record
	return &copyRecord, nil
}

func (f *storeFake) ExistsByMessageRef(_ context.Context, mailbox, ref string) (bool, error) {
	for _, record := range f.records {
		if record.Mailbox == mailbox && record.MessageRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (f *storeFake) UpdateAnalysis(_ context.Context, id string, update domain.AnalysisUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, update)
	if record, ok := f.records[id]; ok {
		record.ApplyAnalysis(update)
	}
	return nil
}

func (f *storeFake) MarkForwarded(_ context.Context, id string, forwarded bool) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.forwardedMarks = append(f.forwardedMarks, forwarded)
	if record, ok := f.records[id]; ok {
		record.MarkForwarded(forwarded)
	}
	return nil
}

func (f *storeFake) UpdateLocation(_ context.Context, id, mailbox, ref string) error {
	f.locations = append(f.locations, mailbox+"/"+ref)
	if record, ok := f.records[id]; ok {
		record.Mailbox = mailbox
		record.MessageRef = ref
	}
	return nil
}

func (f *storeFake) List(context.Context, domain.ListFilter) ([]domain.AnalysisRecord, error) {
	out := make([]domain.AnalysisRecord, 0, len(f.records))
	for _, record := range f.records {
		out = append(out, *record)
	}
	return out, nil
}

type gatewayFake struct {
	messages    map[string]*domain.Message
	inbox       []domain.MessageSummary
	attachments map[string][]byte
	getErr      error
	fetchErr    error
	sendErrs    map[int]error
	sent        []domain.OutboundMessage
	sendCalls   int
	markedRead  []string
	moved       []string
	fetchCalls  int
	// relocate makes MoveMessage behave like a server: the message leaves its folder
	// and is reachable under a fresh id.
	relocate bool
	nextUID  int
}

func (f *gatewayFake) ListInboxMessages(context.Context, string) ([]domain.MessageSummary, error) {
	return f.inbox, nil
}

func (f *gatewayFake) GetMessageContent(_ context.Context, mailbox string, id string) (*domain.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	key := id
	if f.relocate {
		key = mailbox + "/" + id
	}
	msg, ok := f.messages[key]
	if !ok {
		return nil, errors.New("message not found")
	}
	copyMsg := *msg
	return &copyMsg, nil
}

func (f *gatewayFake) GetAttachmentBytes(_ context.Context, _, _, attachmentID string) ([]byte, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	content, ok := f.attachments[attachmentID]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return content, nil
}

func (f *gatewayFake) SendMessage(_ context.Context, msg domain.OutboundMessage) error {
	f.sendCalls++
	if err := f.sendErrs[f.sendCalls]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *gatewayFake) MarkRead(_ context.Context, _, id string) error {
	f.markedRead = append(f.markedRead, id)
	return nil
}

func (f *gatewayFake) MoveMessage(_ context.Context, mailbox, id, folder string) (string, error) {
	f.moved = append(f.moved, id+"->"+folder)
	if !f.relocate {
		return "", nil
	}
	msg, ok := f.messages[mailbox+"/"+id]
	if !ok {
		return "", errors.New("no such uid in " + mailbox)
	}
	delete(f.messages, mailbox+"/"+id)
	f.nextUID++
	movedID := strconv.Itoa(f.nextUID)
	f.messages[folder+"/"+movedID] = msg
	return movedID, nil
}

type resolverFake struct {
	recipients []string
}

func (f resolverFake) Recipients([]string) []string { return f.recipients }

type queueFake struct {
	published []string
	err       error
}

func (f *queueFake) PublishEmailReceived(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, id)
	return nil
}

func (f *queueFake) SubscribeEmailReceived(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}
