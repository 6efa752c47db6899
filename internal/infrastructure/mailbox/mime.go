package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

const maxPartBytes = 25 << 20

// ParseMessage expands a raw RFC 5322 message. Attachment ids are "att-N" in part order,
// so the same raw message always yields the same ids.
func ParseMessage(raw []byte) (*domain.Message, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse message", err)
	}
	defer reader.Close()

	msg := &domain.Message{Attachments: []domain.Attachment{}}
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if to, err := reader.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.To = append(msg.To, addr.Address)
		}
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.ReceivedAt = date
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read message part", err)
		}
		if part == nil {
			continue
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, params, _ := h.ContentType()
			switch {
			case contentType == "text/plain" && msg.TextBody == "":
				msg.TextBody = string(body)
			case contentType == "text/html" && msg.HTMLBody == "":
				msg.HTMLBody = string(body)
			case strings.HasPrefix(contentType, "text/"):
			default:
				msg.Attachments = append(msg.Attachments, newAttachment(len(msg.Attachments), params["name"], contentType, body, true))
			}
		case *mail.AttachmentHeader:
			contentType, params, _ := h.ContentType()
			filename, _ := h.Filename()
			if filename == "" {
				filename = params["name"]
			}
			msg.Attachments = append(msg.Attachments, newAttachment(len(msg.Attachments), filename, contentType, body, false))
		}
	}
	return msg, nil
}

func newAttachment(index int, filename, contentType string, content []byte, inline bool) domain.Attachment {
	id := "att-" + strconv.Itoa(index+1)
	if filename == "" {
		filename = id
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.Attachment{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(content)),
		Inline:      inline,
		Content:     content,
	}
}

// ComposeMessage renders an outbound message as MIME: one HTML part followed by the
// attachments, base64 encoded.
func ComposeMessage(out domain.OutboundMessage, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(out.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: out.From}})
	to := make([]*mail.Address, 0, len(out.Recipients))
	for _, recipient := range out.Recipients {
		to = append(to, &mail.Address{Address: recipient})
	}
	h.SetAddressList("To", to)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	if len(out.Attachments) == 0 {
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create message writer: %w", err)
		}
		if _, err := io.WriteString(w, out.HTMLBody); err != nil {
			return nil, fmt.Errorf("write html body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if err := writeHTMLPart(mw, out.HTMLBody); err != nil {
		return nil, err
	}
	for _, attachment := range out.Attachments {
		var ah mail.AttachmentHeader
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(attachment.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("create attachment %s: %w", attachment.Filename, err)
		}
		if _, err := w.Write(attachment.Content); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", attachment.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("close attachment %s: %w", attachment.Filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHTMLPart(mw *mail.Writer, body string) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline writer: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write html body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close html part: %w", err)
	}
	return tw.Close()
}
