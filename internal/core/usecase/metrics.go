package usecase

import (
	"time"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

type noopMetrics struct{}

func (noopMetrics) ObserveClassification(domain.ResultSource, error)             {}
func (noopMetrics) ObserveAnalysis(domain.RecordStatus, time.Duration, error) {}
func (noopMetrics) ObserveDelivery(error)                                       {}
