// Package analytics aggregates decision outcomes for reporting.
package analytics

import (
	"context"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service computes aggregate statistics from the repository.
type Service struct {
	repo domain.Repository
}

// NewService creates an analytics service.
func NewService(repo domain.Repository) *Service {
	return &Service{repo: repo}
}

// Report is the aggregate view of all decisioned transactions.
type Report struct {
	TotalTransactions int64 `json:"totalTransactions"`

	ApprovedCount      int64 `json:"approvedCount"`
	PendingReviewCount int64 `json:"pendingReviewCount"`
	BlockedCount       int64 `json:"blockedCount"`

	LowRiskCount    int64 `json:"lowRiskCount"`
	MediumRiskCount int64 `json:"mediumRiskCount"`
	HighRiskCount   int64 `json:"highRiskCount"`

	FraudCount        int64   `json:"fraudCount"`
	FraudRatePct      float64 `json:"fraudRatePercentage"`
	AverageFraudScore float64 `json:"averageFraudScore"`
}

// Report builds the aggregate report.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	r := &Report{}

	total, err := s.repo.CountTransactions(ctx)
	if err != nil {
		return nil, err
	}
	r.TotalTransactions = total

	if r.ApprovedCount, err = s.repo.CountByStatus(ctx, domain.StatusApproved); err != nil {
		return nil, err
	}
	if r.PendingReviewCount, err = s.repo.CountByStatus(ctx, domain.StatusPendingReview); err != nil {
		return nil, err
	}
	if r.BlockedCount, err = s.repo.CountByStatus(ctx, domain.StatusBlocked); err != nil {
		return nil, err
	}

	if r.LowRiskCount, err = s.repo.CountByRiskLevel(ctx, domain.RiskLow); err != nil {
		return nil, err
	}
	if r.MediumRiskCount, err = s.repo.CountByRiskLevel(ctx, domain.RiskMedium); err != nil {
		return nil, err
	}
	if r.HighRiskCount, err = s.repo.CountByRiskLevel(ctx, domain.RiskHigh); err != nil {
		return nil, err
	}

	fraudCount, avgScore, err := s.repo.FraudSummary(ctx)
	if err != nil {
		return nil, err
	}
	r.FraudCount = fraudCount
	r.AverageFraudScore = round2(avgScore)

	if total > 0 {
		r.FraudRatePct = round2(float64(fraudCount) / float64(total) * 100)
	}

	return r, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
