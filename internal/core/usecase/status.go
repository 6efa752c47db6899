package usecase

import (
	"strings"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// ResolveStatus maps the primary customer number and category to a lifecycle status.
// A missing customer number always wins over a missing category.
func ResolveStatus(customerNumber *string, category string) domain.RecordStatus {
	hasNumber := customerNumber != nil && strings.TrimSpace(*customerNumber) != ""
	hasCategory := strings.TrimSpace(category) != ""

	switch {
	case hasNumber && hasCategory:
		return domain.StatusCategorized
	case hasNumber:
		return domain.StatusUncategorized
	default:
		return domain.StatusMissingCustomerNumber
	}
}
