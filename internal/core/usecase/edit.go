package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

type EditRecordUseCase struct {
	store ports.RecordStore
}

func NewEditRecordUseCase(store ports.RecordStore) *EditRecordUseCase {
	return &EditRecordUseCase{store: store}
}

// UpdateClassification applies a manual correction to the reconciled values and
// re-resolves the status. Forwarding state is left as it is.
func (uc *EditRecordUseCase) UpdateClassification(ctx context.Context, recordID string, edit ports.RecordEdit) (*domain.AnalysisRecord, error) {
	record, err := uc.store.GetByID(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("fetch analysis record: %w", err)
	}

	reconciled, err := applyEdit(record.Reconciled, edit)
	if err != nil {
		return nil, err
	}

	update := record.AnalysisSnapshot()
	update.Reconciled = reconciled
	update.Status = ResolveStatus(reconciled.CustomerNumber, reconciled.Category)

	if err := uc.store.UpdateAnalysis(ctx, record.ID, update); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "save manual edit", err)
	}
	record.ApplyAnalysis(update)
	return record, nil
}

func applyEdit(current domain.Reconciled, edit ports.RecordEdit) (domain.Reconciled, error) {
	out := domain.Reconciled{
		CustomerNumber:       current.CustomerNumber,
		AllCustomerNumbers:   append([]string(nil), current.AllCustomerNumbers...),
		Category:             current.Category,
		AllCategories:        append([]string(nil), current.AllCategories...),
		ExtractedInformation: domain.CloneGroups(current.ExtractedInformation),
	}

	if edit.CustomerNumbers != nil {
		numbers := newOrderedSet()
		for _, raw := range edit.CustomerNumbers {
			normalized, ok := NormalizeCustomerNumber(raw)
			if !ok {
				return domain.Reconciled{}, domain.WrapError(
					domain.ErrInvalidInput,
					"edit customer numbers",
					fmt.Errorf("%q is not a %d character customer number", raw, CustomerNumberLength),
				)
			}
			numbers.add(normalized)
		}
		out.AllCustomerNumbers = numbers.values()
	}

	if edit.PrimaryCustomerNumber != nil {
		if strings.TrimSpace(*edit.PrimaryCustomerNumber) == "" {
			out.CustomerNumber = nil
		} else {
			normalized, ok := NormalizeCustomerNumber(*edit.PrimaryCustomerNumber)
			if !ok {
				return domain.Reconciled{}, domain.WrapError(
					domain.ErrInvalidInput,
					"edit primary customer number",
					fmt.Errorf("%q is not a %d character customer number", *edit.PrimaryCustomerNumber, CustomerNumberLength),
				)
			}
			out.CustomerNumber = &normalized
			if !slices.Contains(out.AllCustomerNumbers, normalized) {
				out.AllCustomerNumbers = append([]string{normalized}, out.AllCustomerNumbers...)
			}
		}
	}
	if out.CustomerNumber != nil && !slices.Contains(out.AllCustomerNumbers, *out.CustomerNumber) {
		out.CustomerNumber = nil
	}
	if out.CustomerNumber == nil && len(out.AllCustomerNumbers) > 0 {
		first := out.AllCustomerNumbers[0]
		out.CustomerNumber = &first
	}

	if edit.Categories != nil {
		out.AllCategories = usableCategories(edit.Categories)
		if !slices.Contains(out.AllCategories, out.Category) {
			out.Category = ""
		}
	}
	if edit.PrimaryCategory != nil {
		out.Category = strings.TrimSpace(*edit.PrimaryCategory)
	}

	categories := newOrderedSet()
	if domain.IsUsableCategory(&out.Category) {
		categories.add(out.Category)
	}
	categories.add(usableCategories(out.AllCategories)...)
	out.AllCategories = categories.values()

	switch {
	case len(out.AllCategories) == 0:
		out.Category = domain.Unclassified
		out.AllCategories = []string{domain.Unclassified}
	case !domain.IsUsableCategory(&out.Category):
		out.Category = out.AllCategories[0]
	}
	return out, nil
}
