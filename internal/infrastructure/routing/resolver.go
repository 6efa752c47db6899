package routing

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// File is the routing table as stored on disk:
//
//	defaults: [service@stadtwerke.example]
//	rules:
//	  - category: Billing
//	    recipients: [billing@stadtwerke.example]
type File struct {
	Defaults []string `yaml:"defaults"`
	Rules    []Rule   `yaml:"rules"`
}

type Rule struct {
	Category   string   `yaml:"category"`
	Recipients []string `yaml:"recipients"`
}

// Resolver maps categories to forward recipients. Categories without a rule fall back
// to the defaults.
type Resolver struct {
	defaults   []string
	byCategory map[string][]string
	categories []string
}

func Load(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Resolver, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse routing file", err)
	}
	return New(file)
}

func New(file File) (*Resolver, error) {
	defaults, err := normalizeAddresses(file.Defaults)
	if err != nil {
		return nil, err
	}

	r := &Resolver{defaults: defaults, byCategory: make(map[string][]string, len(file.Rules))}
	for i, rule := range file.Rules {
		category := strings.TrimSpace(rule.Category)
		if category == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse routing file", fmt.Errorf("rule %d has no category", i+1))
		}
		recipients, err := normalizeAddresses(rule.Recipients)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(category)
		if _, seen := r.byCategory[key]; !seen && category != domain.Unclassified {
			r.categories = append(r.categories, category)
		}
		r.byCategory[key] = append(r.byCategory[key], recipients...)
	}
	return r, nil
}

// NewStatic routes every category to the same recipients.
func NewStatic(recipients []string) (*Resolver, error) {
	return New(File{Defaults: recipients})
}

// Recipients returns the union of the rule recipients of all categories, in category
// order, or the defaults when no category has a rule.
func (r *Resolver) Recipients(categories []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, category := range categories {
		for _, recipient := range r.byCategory[strings.ToLower(strings.TrimSpace(category))] {
			key := strings.ToLower(recipient)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, recipient)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), r.defaults...)
	}
	return out
}

// Categories lists the categories that have a rule, in file order.
func (r *Resolver) Categories() []string {
	return append([]string(nil), r.categories...)
}

func normalizeAddresses(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		addr, err := mail.ParseAddress(value)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse recipient", fmt.Errorf("%q: %w", value, err))
		}
		out = append(out, addr.Address)
	}
	return out, nil
}

// SplitList parses a comma separated recipient list.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

var errNoRecipients = errors.New("routing has no recipients")

// Validate fails when no category could ever be delivered anywhere.
func (r *Resolver) Validate() error {
	if len(r.defaults) == 0 && len(r.byCategory) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate routing", errNoRecipients)
	}
	return nil
}
