package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/resilience"
)

type SendGridConfig struct {
	APIKey   string
	FromName string
	// Host overrides the API host, e.g. for a regional endpoint.
	Host string
}

// SendGridSender delivers forwards through the SendGrid v3 mail send API.
type SendGridSender struct {
	cfg SendGridConfig
	now func() time.Time
}

func NewSendGridSender(cfg SendGridConfig) *SendGridSender {
	return &SendGridSender{cfg: cfg, now: time.Now}
}

func (s *SendGridSender) Send(ctx context.Context, out domain.OutboundMessage) error {
	request := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", s.cfg.Host)
	request.Method = "POST"
	client := &sendgrid.Client{Request: request}

	response, err := client.SendWithContext(ctx, buildSendGridMail(s.cfg.FromName, out))
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "sendgrid send", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}

	remote := fmt.Errorf("sendgrid status %d: %s", response.StatusCode, strings.TrimSpace(response.Body))
	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		delay := sendGridRetryDelay(http.Header(response.Headers), s.now())
		return &resilience.ThrottledError{StatusCode: response.StatusCode, Delay: delay, Err: domain.WrapError(domain.ErrTemporary, "sendgrid send", remote)}
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return domain.WrapError(domain.ErrUnauthorized, "sendgrid send", remote)
	case response.StatusCode >= 500:
		return domain.WrapError(domain.ErrTemporary, "sendgrid send", remote)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "sendgrid send", remote)
	}
}

func buildSendGridMail(fromName string, out domain.OutboundMessage) *mail.SGMailV3 {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(fromName, out.From))
	message.Subject = out.Subject

	p := mail.NewPersonalization()
	for _, recipient := range out.Recipients {
		p.AddTos(mail.NewEmail("", recipient))
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/html", out.HTMLBody))

	for _, attachment := range out.Attachments {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(attachment.Content))
		if attachment.ContentType != "" {
			a.SetType(attachment.ContentType)
		}
		a.SetFilename(attachment.Filename)
		a.SetDisposition("attachment")
		message.AddAttachment(a)
	}
	return message
}

// sendGridRetryDelay reads Retry-After, falling back to the X-RateLimit-Reset epoch.
func sendGridRetryDelay(header http.Header, now time.Time) time.Duration {
	if delay, ok := resilience.ParseRetryAfter(header.Get("Retry-After"), now); ok {
		return delay
	}
	if reset, err := strconv.ParseInt(strings.TrimSpace(header.Get("X-RateLimit-Reset")), 10, 64); err == nil {
		if delay := time.Unix(reset, 0).Sub(now); delay > 0 {
			return delay
		}
	}
	return time.Second
}
