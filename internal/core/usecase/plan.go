package usecase

import (
	"fmt"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

type ForwardingPlan struct {
	Actions []domain.ForwardingAction
	// AlreadyCompleted is set when the record reached a terminal forwarding state earlier.
	AlreadyCompleted bool
}

// NothingToForward is the "analyzed, nothing to forward" outcome.
func (p ForwardingPlan) NothingToForward() bool {
	return !p.AlreadyCompleted && len(p.Actions) == 0
}

// PlanForwarding emits one action per distinct customer number, each carrying the full
// category set. Numbers and categories are bundled, never crossed.
func PlanForwarding(record *domain.AnalysisRecord) (ForwardingPlan, error) {
	if record == nil {
		return ForwardingPlan{}, domain.WrapError(domain.ErrInvalidInput, "plan forwarding", fmt.Errorf("record is nil"))
	}
	if !record.AnalysisCompleted {
		return ForwardingPlan{}, domain.WrapError(
			domain.ErrInvalidInput,
			"plan forwarding",
			fmt.Errorf("analysis of record %s is not completed", record.ID),
		)
	}
	if record.ForwardingCompleted {
		return ForwardingPlan{AlreadyCompleted: true}, nil
	}
	if !IsForwardable(record.Reconciled) {
		return ForwardingPlan{}, nil
	}

	numbers := newOrderedSet()
	numbers.add(record.Reconciled.AllCustomerNumbers...)
	distinct := numbers.values()

	actions := make([]domain.ForwardingAction, 0, len(distinct))
	for i, number := range distinct {
		actions = append(actions, domain.ForwardingAction{
			CustomerNumber: number,
			Categories:     append([]string(nil), record.Reconciled.AllCategories...),
			SequenceIndex:  i + 1,
			Total:          len(distinct),
		})
	}
	return ForwardingPlan{Actions: actions}, nil
}

// IsForwardable holds when numbers and categories exist and the primary category is real.
func IsForwardable(rec domain.Reconciled) bool {
	return len(rec.AllCustomerNumbers) > 0 &&
		len(usableCategories(rec.AllCategories)) > 0 &&
		domain.IsUsableCategory(&rec.Category)
}

// PlanManualForward bypasses the forwarding rule and always yields one untagged action.
func PlanManualForward(record *domain.AnalysisRecord) ForwardingPlan {
	return ForwardingPlan{
		Actions: []domain.ForwardingAction{{
			CustomerNumber: record.Reconciled.PrimaryCustomerNumber(),
			Categories:     usableCategories(record.Reconciled.AllCategories),
			SequenceIndex:  1,
			Total:          1,
		}},
	}
}
