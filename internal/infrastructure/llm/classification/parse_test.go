package classification

import (
	"strings"
	"testing"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func TestParseFencedResponse(t *testing.T) {
	raw := "```json\n" + `{
		"customer_number": "AB1234CD56",
		"category": "meter reading",
		"all_customer_numbers": ["AB1234CD56", " "],
		"all_categories": ["Meter Reading", "Gardening"],
		"extracted_information": [
			{"name": "Meter", "data": {"reading": 1234.5, "id": "M-77"}},
			{"name": "", "data": {"x": "y"}}
		]
	}` + "\n```"

	result, err := Parse(raw, []string{"Meter Reading", "Billing"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if result.Category == nil || *result.Category != "Meter Reading" {
		t.Fatalf("expected canonical category, got %v", result.Category)
	}
	if len(result.AllCategories) != 1 || result.AllCategories[0] != "Meter Reading" {
		t.Fatalf("expected unknown category to be dropped, got %v", result.AllCategories)
	}
	if len(result.AllCustomerNumbers) != 1 {
		t.Fatalf("expected blank numbers to be dropped, got %v", result.AllCustomerNumbers)
	}
	if len(result.ExtractedInformation) != 1 {
		t.Fatalf("expected one extracted group, got %+v", result.ExtractedInformation)
	}
	fields := result.ExtractedInformation[0].Fields
	if fields[0].Key != "id" || fields[1].Key != "reading" || fields[1].Value != "1234.5" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestParseKeepsUnclassified(t *testing.T) {
	result, err := Parse(`{"customer_number": null, "category": "Unclassified", "all_customer_numbers": [], "all_categories": ["Unclassified"], "extracted_information": []}`, []string{"Billing"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !result.IsSentinel() {
		t.Fatalf("expected sentinel-equivalent result, got %+v", result)
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse("I could not read the image.", nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	_, err = Parse(`{"category": [1,2}`, nil)
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTextPromptListsCategories(t *testing.T) {
	prompt := TextPrompt("Zählerstand", "Customer AB1234CD56", []string{"Meter Reading"})
	if !strings.Contains(prompt, "- Meter Reading") || !strings.Contains(prompt, "Customer AB1234CD56") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
}
