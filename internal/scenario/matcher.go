// Package scenario detects known compound fraud patterns.
package scenario

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scenario tags.
const (
	VelocityAttack         = "VELOCITY_ATTACK"
	ForeignUnusualLocation = "FOREIGN_UNUSUAL_LOCATION"
	RepeatedFailureBurst   = "REPEATED_FAILURE_BURST"
)

// Fixed verdict scores. A scenario that fires is authoritative, so these
// are not tunable per deployment.
const (
	velocityAttackScore       = 90.0
	foreignUnusualScore       = 85.0
	repeatedFailureBurstScore = 60.0
)

// Pattern thresholds.
const (
	velocityAttackCount  = 15
	velocityAttackAmount = 50000.0
	failureBurstCount    = 10
)

// Matcher evaluates a short, ordered list of compound conditions and
// returns the first that fires. First-match-wins, not highest-score.
type Matcher struct {
	home map[string]struct{}
}

// NewMatcher creates a matcher with the configured home-country set.
func NewMatcher(homeCountries []string) *Matcher {
	home := make(map[string]struct{}, len(homeCountries))
	for _, c := range homeCountries {
		home[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return &Matcher{home: home}
}

// Match returns the first scenario verdict that applies, or ok=false when
// no pattern is recognized. ok=false means "no scenario opinion" and must
// not be treated as agreement with LOW.
func (m *Matcher) Match(snap *domain.TransactionSnapshot) (domain.ScenarioVerdict, bool) {
	cov := snap.Covariates

	// 1. Velocity attack: burst of transactions carrying large amounts.
	if cov.RecentCount > velocityAttackCount && snap.Amount > velocityAttackAmount {
		return domain.ScenarioVerdict{
			Scenario: VelocityAttack,
			Level:    domain.RiskHigh,
			Score:    velocityAttackScore,
			Reason:   fmt.Sprintf("%d transactions in window with amount %.2f", cov.RecentCount, snap.Amount),
		}, true
	}

	// 2. Unusual location outside the home-country set.
	if cov.UnusualLocation && !m.isHome(snap.Country) {
		return domain.ScenarioVerdict{
			Scenario: ForeignUnusualLocation,
			Level:    domain.RiskHigh,
			Score:    foreignUnusualScore,
			Reason:   fmt.Sprintf("unusual location in foreign country %s", strings.ToUpper(snap.Country)),
		}, true
	}

	// 3. Repeated-failure burst. PriorSuccess must be known-false;
	// unknown does not fire.
	if cov.PriorSuccess != nil && !*cov.PriorSuccess && cov.RecentCount > failureBurstCount {
		return domain.ScenarioVerdict{
			Scenario: RepeatedFailureBurst,
			Level:    domain.RiskMedium,
			Score:    repeatedFailureBurstScore,
			Reason:   fmt.Sprintf("failed prior attempt with %d transactions in window", cov.RecentCount),
		}, true
	}

	return domain.ScenarioVerdict{}, false
}

func (m *Matcher) isHome(country string) bool {
	_, ok := m.home[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}
