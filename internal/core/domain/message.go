package domain

import (
	"mime"
	"strings"
	"time"
)

type MessageSummary struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	ReceivedAt time.Time `json:"received_at"`
}

type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Inline      bool   `json:"inline"`
	Content     []byte `json:"-"`
}

// MediaType returns the lower-cased content type without parameters.
func (a Attachment) MediaType() string {
	mediaType, _, err := mime.ParseMediaType(a.ContentType)
	if err != nil {
		mediaType = a.ContentType
		if idx := strings.Index(mediaType, ";"); idx >= 0 {
			mediaType = mediaType[:idx]
		}
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MediaType(), "image/")
}

func (a Attachment) IsPDF() bool {
	return a.MediaType() == "application/pdf"
}

// Message is an inbound email with its attachments expanded.
type Message struct {
	ID          string       `json:"id"`
	Mailbox     string       `json:"mailbox"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	ReceivedAt  time.Time    `json:"received_at"`
	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

func (m *Message) IsHTML() bool {
	return strings.TrimSpace(m.HTMLBody) != ""
}

func (m *Message) AttachmentIDs() []string {
	ids := make([]string, 0, len(m.Attachments))
	for _, attachment := range m.Attachments {
		ids = append(ids, attachment.ID)
	}
	return ids
}

type OutboundMessage struct {
	From        string
	Subject     string
	HTMLBody    string
	Recipients  []string
	Attachments []Attachment
}
