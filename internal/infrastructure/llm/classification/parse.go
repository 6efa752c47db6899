package classification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// PDFTextExtractor turns PDF bytes into plain text for the document prompt.
type PDFTextExtractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

type wireGroup struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

type wireResult struct {
	CustomerNumber       *string     `json:"customer_number"`
	Category             *string     `json:"category"`
	AllCustomerNumbers   []string    `json:"all_customer_numbers"`
	AllCategories        []string    `json:"all_categories"`
	ExtractedInformation []wireGroup `json:"extracted_information"`
}

// Parse validates a model response. Categories outside the allowed list are dropped;
// an empty list allows any category.
func Parse(raw string, categories []string) (domain.ClassificationResult, error) {
	object := ExtractJSONObject(raw)
	if object == "" {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrInvalidInput, "parse classification", errors.New("no json object in response"))
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(object), &wire); err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrInvalidInput, "parse classification", fmt.Errorf("decode json: %w", err))
	}

	allowed := newCategoryMatcher(categories)
	result := domain.ClassificationResult{
		AllCustomerNumbers:   nonBlank(wire.AllCustomerNumbers),
		AllCategories:        []string{},
		ExtractedInformation: []domain.ExtractedGroup{},
	}
	if wire.CustomerNumber != nil && strings.TrimSpace(*wire.CustomerNumber) != "" {
		number := strings.TrimSpace(*wire.CustomerNumber)
		result.CustomerNumber = &number
	}
	if wire.Category != nil {
		if category, ok := allowed.match(*wire.Category); ok {
			result.Category = &category
		}
	}
	for _, raw := range wire.AllCategories {
		if category, ok := allowed.match(raw); ok {
			result.AllCategories = append(result.AllCategories, category)
		}
	}
	for _, group := range wire.ExtractedInformation {
		if converted, ok := convertGroup(group); ok {
			result.ExtractedInformation = append(result.ExtractedInformation, converted)
		}
	}
	return result, nil
}

// ExtractJSONObject cuts the outermost {...} out of a response that may carry fences or prose.
func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}

func convertGroup(group wireGroup) (domain.ExtractedGroup, bool) {
	name := strings.TrimSpace(group.Name)
	if name == "" || len(group.Data) == 0 {
		return domain.ExtractedGroup{}, false
	}

	keys := make([]string, 0, len(group.Data))
	for key := range group.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := domain.ExtractedGroup{Name: name, Fields: make([]domain.ExtractedField, 0, len(keys))}
	for _, key := range keys {
		value := stringify(group.Data[key])
		if strings.TrimSpace(key) == "" || value == "" {
			continue
		}
		out.Fields = append(out.Fields, domain.ExtractedField{Key: strings.TrimSpace(key), Value: value})
	}
	return out, len(out.Fields) > 0
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type categoryMatcher map[string]string

func newCategoryMatcher(categories []string) categoryMatcher {
	m := make(categoryMatcher, len(categories))
	for _, category := range categories {
		m[strings.ToLower(strings.TrimSpace(category))] = strings.TrimSpace(category)
	}
	return m
}

func (m categoryMatcher) match(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if strings.EqualFold(trimmed, domain.Unclassified) {
		return domain.Unclassified, true
	}
	if len(m) == 0 {
		return trimmed, true
	}
	canonical, ok := m[strings.ToLower(trimmed)]
	return canonical, ok
}
