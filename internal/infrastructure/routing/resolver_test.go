package routing

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

const routingFixture = `
defaults:
  - service@stadtwerke.example
rules:
  - category: Billing
    recipients: [billing@stadtwerke.example, "Backoffice <backoffice@stadtwerke.example>"]
  - category: Meter Reading
    recipients: [meter@stadtwerke.example, billing@stadtwerke.example]
`

func TestRecipientsUnionsRulesInCategoryOrder(t *testing.T) {
	resolver, err := Parse([]byte(routingFixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := resolver.Recipients([]string{"meter reading", "Billing"})
	want := []string{"meter@stadtwerke.example", "billing@stadtwerke.example", "backoffice@stadtwerke.example"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Recipients() = %v, want %v", got, want)
	}
}

func TestRecipientsFallsBackToDefaults(t *testing.T) {
	resolver, err := Parse([]byte(routingFixture))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	got := resolver.Recipients([]string{"Tariff"})
	if !reflect.DeepEqual(got, []string{"service@stadtwerke.example"}) {
		t.Fatalf("Recipients() = %v", got)
	}
	if !reflect.DeepEqual(resolver.Categories(), []string{"Billing", "Meter Reading"}) {
		t.Fatalf("Categories() = %v", resolver.Categories())
	}
}

func TestParseRejectsInvalidAddresses(t *testing.T) {
	_, err := Parse([]byte("defaults: [not-an-address]\n"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	resolver, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := resolver.Validate(); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected empty routing to be invalid, got %v", err)
	}
}

func TestNewStaticAndSplitList(t *testing.T) {
	resolver, err := NewStatic(SplitList(" a@example.com, ,b@example.com "))
	if err != nil {
		t.Fatalf("NewStatic() error = %v", err)
	}
	if got := resolver.Recipients([]string{"Billing"}); len(got) != 2 {
		t.Fatalf("Recipients() = %v", got)
	}
}
