package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// CustomerNumberLength is the exact length of a normalized customer number.
const CustomerNumberLength = 10

// AggregateAttachments folds attachment results into one: the first present scalar wins,
// scalars and array fields are unioned, and sentinel results contribute nothing.
func AggregateAttachments(results []domain.ClassificationResult) domain.ClassificationResult {
	agg := domain.ClassificationResult{
		AllCustomerNumbers:   []string{},
		AllCategories:        []string{},
		ExtractedInformation: []domain.ExtractedGroup{},
	}
	numbers := newOrderedSet()
	categories := newOrderedSet()

	for _, result := range results {
		if result.IsSentinel() {
			continue
		}
		if agg.CustomerNumber == nil && result.CustomerNumber != nil && strings.TrimSpace(*result.CustomerNumber) != "" {
			number := strings.TrimSpace(*result.CustomerNumber)
			agg.CustomerNumber = &number
		}
		if agg.Category == nil && domain.IsUsableCategory(result.Category) {
			category := strings.TrimSpace(*result.Category)
			agg.Category = &category
		}
		if result.CustomerNumber != nil {
			numbers.add(*result.CustomerNumber)
		}
		numbers.add(result.AllCustomerNumbers...)
		if domain.IsUsableCategory(result.Category) {
			categories.add(*result.Category)
		}
		categories.add(usableCategories(result.AllCategories)...)
		agg.ExtractedInformation = append(agg.ExtractedInformation, domain.CloneGroups(result.ExtractedInformation)...)
	}

	agg.AllCustomerNumbers = numbers.values()
	agg.AllCategories = categories.values()
	return agg
}

// Reconcile merges the text result with the attachments aggregate. Text takes precedence;
// the function is pure, so identical inputs always produce identical output.
func Reconcile(text, attachments domain.ClassificationResult) domain.Reconciled {
	numbers := newOrderedSet()
	categories := newOrderedSet()

	primaryNumber := ""
	switch {
	case text.CustomerNumber != nil && strings.TrimSpace(*text.CustomerNumber) != "":
		primaryNumber = strings.TrimSpace(*text.CustomerNumber)
	case attachments.CustomerNumber != nil && strings.TrimSpace(*attachments.CustomerNumber) != "":
		primaryNumber = strings.TrimSpace(*attachments.CustomerNumber)
	}
	numbers.add(primaryNumber)
	if text.CustomerNumber != nil {
		numbers.add(*text.CustomerNumber)
	}
	numbers.add(text.AllCustomerNumbers...)
	if attachments.CustomerNumber != nil {
		numbers.add(*attachments.CustomerNumber)
	}
	numbers.add(attachments.AllCustomerNumbers...)

	textCategories := usableCategories(text.AllCategories)
	primaryCategory := ""
	switch {
	case domain.IsUsableCategory(text.Category):
		primaryCategory = strings.TrimSpace(*text.Category)
	case len(textCategories) > 0:
		primaryCategory = textCategories[0]
	case domain.IsUsableCategory(attachments.Category):
		primaryCategory = strings.TrimSpace(*attachments.Category)
	}
	categories.add(primaryCategory)
	categories.add(textCategories...)
	if domain.IsUsableCategory(attachments.Category) {
		categories.add(*attachments.Category)
	}
	categories.add(usableCategories(attachments.AllCategories)...)

	out := domain.Reconciled{
		AllCategories:        categories.values(),
		ExtractedInformation: mergeExtractedInformation(text.ExtractedInformation, attachments.ExtractedInformation),
	}

	if len(out.AllCategories) == 0 {
		out.Category = domain.Unclassified
		out.AllCategories = []string{domain.Unclassified}
	} else {
		out.Category = primaryCategory
		if out.Category == "" {
			out.Category = out.AllCategories[0]
		}
	}

	out.AllCustomerNumbers, out.CustomerNumber = normalizeCustomerNumbers(numbers.values(), primaryNumber)
	return out
}

// NormalizeCustomerNumber strips everything but letters and digits, folds to upper case
// and accepts the value only if exactly ten ASCII alphanumerics remain.
func NormalizeCustomerNumber(raw string) (string, bool) {
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC),
		raw,
	)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	normalized := b.String()
	if len(normalized) != CustomerNumberLength {
		return "", false
	}
	return normalized, true
}

func normalizeCustomerNumbers(candidates []string, primary string) ([]string, *string) {
	valid := newOrderedSet()
	for _, candidate := range candidates {
		if normalized, ok := NormalizeCustomerNumber(candidate); ok {
			valid.add(normalized)
		}
	}
	numbers := valid.values()

	if normalized, ok := NormalizeCustomerNumber(primary); ok {
		return numbers, &normalized
	}
	if len(numbers) > 0 {
		first := numbers[0]
		return numbers, &first
	}
	return numbers, nil
}

// mergeExtractedInformation appends each group into the earlier group with the same name,
// or adds it as a new group.
func mergeExtractedInformation(text, attachments []domain.ExtractedGroup) []domain.ExtractedGroup {
	out := make([]domain.ExtractedGroup, 0, len(text)+len(attachments))
	byName := make(map[string]int)

	add := func(group domain.ExtractedGroup) {
		name := strings.TrimSpace(group.Name)
		if idx, ok := byName[name]; ok {
			out[idx].Fields = append(out[idx].Fields, group.Fields...)
			return
		}
		byName[name] = len(out)
		out = append(out, domain.ExtractedGroup{
			Name:   name,
			Fields: append([]domain.ExtractedField(nil), group.Fields...),
		})
	}

	for _, group := range text {
		add(group)
	}
	for _, group := range attachments {
		add(group)
	}
	return out
}

func usableCategories(categories []string) []string {
	out := make([]string, 0, len(categories))
	for _, category := range categories {
		if domain.IsUsableCategory(&category) {
			out = append(out, strings.TrimSpace(category))
		}
	}
	return out
}

// orderedSet deduplicates strings while keeping first-seen order. Blank entries are dropped.
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(values ...string) {
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := s.seen[value]; ok {
			continue
		}
		s.seen[value] = struct{}{}
		s.items = append(s.items, value)
	}
}

func (s *orderedSet) values() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}
