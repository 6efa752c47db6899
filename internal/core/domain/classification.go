package domain

import "strings"

// Unclassified is the stand-in category used when no valid category is found.
const Unclassified = "Unclassified"

type ResultSource string

const (
	SourceText  ResultSource = "text"
	SourceImage ResultSource = "image"
	SourcePDF   ResultSource = "pdf"
)

type ExtractedField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ExtractedGroup is a named group of key/value data pulled out of an email or attachment.
type ExtractedGroup struct {
	Name   string           `json:"name"`
	Fields []ExtractedField `json:"fields"`
}

// ClassificationResult is the validated output of one text, image or PDF classifier call.
type ClassificationResult struct {
	CustomerNumber       *string          `json:"customer_number"`
	Category             *string          `json:"category"`
	AllCustomerNumbers   []string         `json:"all_customer_numbers"`
	AllCategories        []string         `json:"all_categories"`
	ExtractedInformation []ExtractedGroup `json:"extracted_information"`
}

// UnclassifiedResult returns the sentinel that replaces failed or malformed classifier calls.
func UnclassifiedResult() ClassificationResult {
	category := Unclassified
	return ClassificationResult{
		CustomerNumber:       nil,
		Category:             &category,
		AllCustomerNumbers:   []string{},
		AllCategories:        []string{Unclassified},
		ExtractedInformation: []ExtractedGroup{},
	}
}

// IsSentinel reports whether the result carries nothing beyond the Unclassified sentinel.
func (r ClassificationResult) IsSentinel() bool {
	if r.CustomerNumber != nil && strings.TrimSpace(*r.CustomerNumber) != "" {
		return false
	}
	if len(r.AllCustomerNumbers) > 0 || len(r.ExtractedInformation) > 0 {
		return false
	}
	if IsUsableCategory(r.Category) {
		return false
	}
	for _, category := range r.AllCategories {
		if IsUsableCategory(&category) {
			return false
		}
	}
	return true
}

// IsUsableCategory reports whether the category is present and not the sentinel.
func IsUsableCategory(category *string) bool {
	if category == nil {
		return false
	}
	trimmed := strings.TrimSpace(*category)
	return trimmed != "" && trimmed != Unclassified
}

// Clone returns a deep copy so merged results never alias classifier output.
func (r ClassificationResult) Clone() ClassificationResult {
	out := ClassificationResult{
		AllCustomerNumbers:   append([]string(nil), r.AllCustomerNumbers...),
		AllCategories:        append([]string(nil), r.AllCategories...),
		ExtractedInformation: CloneGroups(r.ExtractedInformation),
	}
	if r.CustomerNumber != nil {
		v := *r.CustomerNumber
		out.CustomerNumber = &v
	}
	if r.Category != nil {
		v := *r.Category
		out.Category = &v
	}
	return out
}

func CloneGroups(groups []ExtractedGroup) []ExtractedGroup {
	if groups == nil {
		return nil
	}
	out := make([]ExtractedGroup, len(groups))
	for i, group := range groups {
		out[i] = ExtractedGroup{
			Name:   group.Name,
			Fields: append([]ExtractedField(nil), group.Fields...),
		}
	}
	return out
}
