// Package history resolves the behavioral covariates consumed by the
// scoring pipeline: velocity counts, personal averages, and the derived
// location/timing flags. The engine calls Resolve before scoring so the
// scorers themselves never block on I/O.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const avgCacheTTL = 5 * time.Minute

// Service computes covariates from the repository with a cache fast path.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
}

// NewService creates a history service. cache may be nil.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{repo: repo, cache: cache, window: window}
}

// Window returns the velocity window.
func (s *Service) Window() time.Duration {
	return s.window
}

// CountRecent returns the number of transactions for an account within
// the trailing velocity window ending at the given time.
func (s *Service) CountRecent(ctx context.Context, accountID string, at time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("accountID is required")
	}
	if s.repo == nil {
		return 0, &domain.CollaboratorUnavailableError{Collaborator: "history", Err: fmt.Errorf("no repository")}
	}

	since := at.Add(-s.window)
	count, err := s.repo.CountRecentByAccount(ctx, accountID, since)
	if err != nil {
		return 0, &domain.CollaboratorUnavailableError{Collaborator: "history", Err: err}
	}
	return count, nil
}

// AverageAmount returns the account's historical average amount, with a
// short-lived cache in front of the repository aggregate.
func (s *Service) AverageAmount(ctx context.Context, accountID string) (float64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("accountID is required")
	}

	cacheKey := "avg:" + accountID
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil && raw != nil {
			if avg, err := strconv.ParseFloat(string(raw), 64); err == nil {
				return avg, nil
			}
		}
	}

	if s.repo == nil {
		return 0, &domain.CollaboratorUnavailableError{Collaborator: "history", Err: fmt.Errorf("no repository")}
	}

	avg, err := s.repo.AverageAmountByAccount(ctx, accountID)
	if err != nil {
		return 0, &domain.CollaboratorUnavailableError{Collaborator: "history", Err: err}
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, []byte(strconv.FormatFloat(avg, 'f', -1, 64)), avgCacheTTL)
	}
	return avg, nil
}

// Resolve fills in the snapshot's derived covariates. Caller-supplied
// values are kept. A collaborator failure leaves the affected covariate
// at its "unknown" zero value and is logged; it never fails the
// evaluation.
func (s *Service) Resolve(ctx context.Context, snap *domain.TransactionSnapshot) {
	if count, err := s.CountRecent(ctx, snap.AccountID, snap.Timestamp); err != nil {
		slog.Warn("velocity lookup degraded",
			"account_id", snap.AccountID,
			"error", err,
		)
	} else {
		snap.Covariates.RecentCount = count
	}

	if avg, err := s.AverageAmount(ctx, snap.AccountID); err != nil {
		slog.Warn("average-amount lookup degraded",
			"account_id", snap.AccountID,
			"error", err,
		)
	} else {
		snap.Covariates.AverageAmount = avg
	}

	if !snap.Covariates.NightTime {
		snap.Covariates.NightTime = IsNightTime(snap.Timestamp)
	}

	if !snap.Covariates.UnusualLocation || snap.Covariates.PriorSuccess == nil {
		s.resolveFromLast(ctx, snap)
	}
}

// resolveFromLast derives the location-shift and prior-success covariates
// from the account's most recent transaction.
func (s *Service) resolveFromLast(ctx context.Context, snap *domain.TransactionSnapshot) {
	if s.repo == nil {
		return
	}

	last, err := s.repo.LastTransactionByAccount(ctx, snap.AccountID)
	if err != nil || last == nil {
		return
	}

	if !snap.Covariates.UnusualLocation {
		prev := strings.ToUpper(strings.TrimSpace(last.Country))
		curr := strings.ToUpper(strings.TrimSpace(snap.Country))
		if prev != "" && curr != "" && prev != curr {
			snap.Covariates.UnusualLocation = true
		}
	}

	if snap.Covariates.PriorSuccess == nil {
		success := last.Status != domain.StatusBlocked
		snap.Covariates.PriorSuccess = &success
	}
}

// Observe bumps the account's velocity counter after a transaction is
// accepted. Best effort; the repository count remains authoritative.
func (s *Service) Observe(ctx context.Context, accountID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.IncrementCounter(ctx, "velocity:"+accountID, s.window); err != nil {
		slog.Debug("velocity counter increment failed",
			"account_id", accountID,
			"error", err,
		)
	}
}

// IsNightTime reports whether the hour falls in the 23:00-04:59 band.
func IsNightTime(t time.Time) bool {
	h := t.Hour()
	return h >= 23 || h <= 4
}
