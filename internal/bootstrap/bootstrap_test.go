package bootstrap

import (
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/llm/classification"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/infrastructure/routing"
)

func TestResilienceConfigOverridesDefaults(t *testing.T) {
	cfg := resilienceConfig(config.Config{
		RetryMaxAttempts:    7,
		RetryInitialBackoff: 250 * time.Millisecond,
		BreakerEnabled:      false,
	})
	if cfg.RetryMaxAttempts != 7 || cfg.RetryInitialBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected retry settings: %+v", cfg)
	}
	if cfg.BreakerEnabled {
		t.Fatalf("expected breaker to follow config")
	}
	if cfg.RetryMaxBackoff <= 0 {
		t.Fatalf("expected default max backoff to be kept")
	}
}

func TestClassifierCategoriesFallbacks(t *testing.T) {
	resolver, err := routing.New(routing.File{Rules: []routing.Rule{{Category: "Billing", Recipients: []string{"billing@example.com"}}}})
	if err != nil {
		t.Fatalf("routing.New() error = %v", err)
	}

	if got := classifierCategories(config.Config{Categories: []string{"Tariff"}}, resolver); len(got) != 1 || got[0] != "Tariff" {
		t.Fatalf("expected configured categories, got %v", got)
	}
	if got := classifierCategories(config.Config{}, resolver); len(got) != 1 || got[0] != "Billing" {
		t.Fatalf("expected ruled categories, got %v", got)
	}

	static, err := routing.NewStatic([]string{"inbox@example.com"})
	if err != nil {
		t.Fatalf("routing.NewStatic() error = %v", err)
	}
	if got := classifierCategories(config.Config{}, static); len(got) != len(classification.DefaultCategories) {
		t.Fatalf("expected default categories, got %v", got)
	}
}

func TestNewSenderSelection(t *testing.T) {
	if _, err := newSender(config.Config{MailSender: "smtp"}); err != nil {
		t.Fatalf("smtp sender error = %v", err)
	}
	if _, err := newSender(config.Config{MailSender: "sendgrid"}); err == nil {
		t.Fatalf("expected error for sendgrid without api key")
	}
	if _, err := newSender(config.Config{MailSender: "sendgrid", SendGridAPIKey: "key"}); err != nil {
		t.Fatalf("sendgrid sender error = %v", err)
	}
	if _, err := newSender(config.Config{MailSender: "pigeon"}); err == nil {
		t.Fatalf("expected error for unknown sender")
	}
}

func TestNewClassifierRejectsUnknownProvider(t *testing.T) {
	if _, err := newClassifier(config.Config{ClassifierProvider: "magic"}, nil, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := newClassifier(config.Config{ClassifierProvider: "ollama", OllamaURL: "http://localhost:11434"}, nil, nil); err != nil {
		t.Fatalf("ollama classifier error = %v", err)
	}
}

func TestSendLimiter(t *testing.T) {
	if limiter := sendLimiter(config.Config{}); limiter.Limit() != rate.Inf {
		t.Fatalf("expected unlimited sender, got %v", limiter.Limit())
	}
	limiter := sendLimiter(config.Config{SendRatePerSecond: 2})
	if limiter.Limit() != rate.Limit(2) || limiter.Burst() != 1 {
		t.Fatalf("unexpected limiter: %v/%d", limiter.Limit(), limiter.Burst())
	}
}
