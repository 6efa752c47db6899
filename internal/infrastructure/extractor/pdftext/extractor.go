package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// Extractor pulls the text layer out of PDF attachments. Scanned PDFs without a text
// layer yield an error so the caller can fall back to the sentinel.
type Extractor struct {
	maxBytes int
}

func NewExtractor(maxBytes int) *Extractor {
	if maxBytes <= 0 {
		maxBytes = 64 << 10
	}
	return &Extractor{maxBytes: maxBytes}
}

func (e *Extractor) ExtractText(ctx context.Context, content []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(content) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.New("empty pdf content"))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			text = ""
			err = domain.WrapError(domain.ErrInvalidInput, "extract pdf text", fmt.Errorf("malformed pdf: %v", recovered))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(plain, int64(e.maxBytes)))
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte(" "))
	}
	text = strings.TrimSpace(string(raw))
	if text == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.New("pdf has no text layer"))
	}
	return text, nil
}
