package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

type DispatchInput struct {
	Mailbox     string
	MessageID   string
	Subject     string
	Body        string
	Attachments []domain.Attachment
}

// AttachmentResult keeps the source attachment next to its result for error attribution.
type AttachmentResult struct {
	AttachmentID string
	Filename     string
	Source       domain.ResultSource
	Result       domain.ClassificationResult
	Err          error
}

type DispatchOutput struct {
	Text        domain.ClassificationResult
	TextErr     error
	Attachments []AttachmentResult
}

func (o DispatchOutput) AttachmentResults() []domain.ClassificationResult {
	results := make([]domain.ClassificationResult, 0, len(o.Attachments))
	for _, attachment := range o.Attachments {
		results = append(results, attachment.Result)
	}
	return results
}

// Dispatcher fans out one text call and one call per image/PDF attachment.
type Dispatcher struct {
	classifier ports.Classifier
	fetcher    ports.AttachmentFetcher
	metrics    ports.PipelineMetrics
	limit      int
}

// NewDispatcher builds a dispatcher. limit <= 0 runs every call at once.
func NewDispatcher(classifier ports.Classifier, fetcher ports.AttachmentFetcher, metrics ports.PipelineMetrics, limit int) *Dispatcher {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		classifier: classifier,
		fetcher:    fetcher,
		metrics:    metrics,
		limit:      limit,
	}
}

// Dispatch never fails: every failed call is replaced by the Unclassified sentinel.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) DispatchOutput {
	classifiable := classifiableAttachments(in.Attachments)
	out := DispatchOutput{
		Attachments: make([]AttachmentResult, len(classifiable)),
	}

	var group errgroup.Group
	if d.limit > 0 {
		group.SetLimit(d.limit)
	}

	group.Go(func() error {
		out.Text, out.TextErr = safeClassify(func() (domain.ClassificationResult, error) {
			return d.classifier.ClassifyText(ctx, in.Subject, in.Body)
		})
		d.metrics.ObserveClassification(domain.SourceText, out.TextErr)
		if out.TextErr != nil {
			slog.Warn("text_classification_failed",
				"message_id", in.MessageID,
				"error", out.TextErr,
			)
		}
		return nil
	})

	for i, attachment := range classifiable {
		group.Go(func() error {
			out.Attachments[i] = d.classifyAttachment(ctx, in, attachment)
			return nil
		})
	}

	_ = group.Wait()
	return out
}

func (d *Dispatcher) classifyAttachment(ctx context.Context, in DispatchInput, attachment domain.Attachment) AttachmentResult {
	source := domain.SourceImage
	if attachment.IsPDF() {
		source = domain.SourcePDF
	}
	res := AttachmentResult{
		AttachmentID: attachment.ID,
		Filename:     attachment.Filename,
		Source:       source,
	}

	res.Result, res.Err = safeClassify(func() (domain.ClassificationResult, error) {
		content, err := d.attachmentContent(ctx, in, attachment)
		if err != nil {
			return domain.ClassificationResult{}, err
		}
		encoded := base64.StdEncoding.EncodeToString(content)
		if source == domain.SourcePDF {
			return d.classifier.ClassifyPDF(ctx, encoded)
		}
		return d.classifier.ClassifyImage(ctx, encoded)
	})
	d.metrics.ObserveClassification(source, res.Err)
	if res.Err != nil {
		slog.Warn("attachment_classification_failed",
			"message_id", in.MessageID,
			"attachment_id", attachment.ID,
			"filename", attachment.Filename,
			"source", string(source),
			"error", res.Err,
		)
	}
	return res
}

func (d *Dispatcher) attachmentContent(ctx context.Context, in DispatchInput, attachment domain.Attachment) ([]byte, error) {
	if len(attachment.Content) > 0 {
		return attachment.Content, nil
	}
	if d.fetcher == nil {
		return nil, errors.New("attachment content missing and no fetcher configured")
	}
	content, err := d.fetcher.GetAttachmentBytes(ctx, in.Mailbox, in.MessageID, attachment.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment %s: %w", attachment.ID, err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("fetch attachment %s: empty content", attachment.ID)
	}
	return content, nil
}

func classifiableAttachments(attachments []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, 0, len(attachments))
	for _, attachment := range attachments {
		if attachment.IsImage() || attachment.IsPDF() {
			out = append(out, attachment)
		}
	}
	return out
}

// safeClassify converts errors and panics from a classifier call into the sentinel.
func safeClassify(call func() (domain.ClassificationResult, error)) (result domain.ClassificationResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = domain.UnclassifiedResult()
			err = fmt.Errorf("classifier panic: %v", recovered)
		}
	}()

	result, err = call()
	if err != nil {
		return domain.UnclassifiedResult(), err
	}
	return result, nil
}
