// Package rules implements the deterministic weighted rule scorer.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Country risk contributions. The sets themselves are configurable; the
// per-set weights are part of the scoring contract.
const (
	highRiskCountryScore   = 15.0
	mediumRiskCountryScore = 10.0
	lowRiskCountryScore    = 1.0
)

// Trigger tags attached to rule signals for breakdown reporting.
const (
	TriggerAmount          = "AMOUNT_TIER"
	TriggerKind            = "KIND_RISK"
	TriggerCountry         = "COUNTRY_RISK"
	TriggerNightTime       = "NIGHT_TIME"
	TriggerVelocity        = "VELOCITY"
	TriggerUnusualLocation = "UNUSUAL_LOCATION"
)

// Scorer evaluates six independent weighted contributions over a
// transaction snapshot and sums them, clamped to [0,100]. It is a pure
// function of the snapshot; history is supplied as covariates by the
// caller, never queried here.
type Scorer struct {
	cfg domain.ScoringConfig

	highRisk   map[string]struct{}
	mediumRisk map[string]struct{}
	lowRisk    map[string]struct{}

	// Amount and velocity tiers sorted highest threshold first.
	amountTiers   []domain.AmountTier
	velocityTiers []domain.VelocityTier

	custom *CustomEvaluator
}

// NewScorer creates a rule scorer from configuration. Zero-valued config
// sections fall back to defaults. Custom CEL rules are compiled up front;
// a rule that does not compile fails construction.
func NewScorer(cfg domain.ScoringConfig) (*Scorer, error) {
	def := domain.DefaultScoringConfig()
	if len(cfg.AmountTiers) == 0 {
		cfg.AmountTiers = def.AmountTiers
	}
	if len(cfg.KindScores) == 0 {
		cfg.KindScores = def.KindScores
	}
	if cfg.UnknownCountryScore == 0 {
		cfg.UnknownCountryScore = def.UnknownCountryScore
	}
	if cfg.NightTimeScore == 0 {
		cfg.NightTimeScore = def.NightTimeScore
	}
	if len(cfg.VelocityTiers) == 0 {
		cfg.VelocityTiers = def.VelocityTiers
	}
	if cfg.UnusualLocationScore == 0 {
		cfg.UnusualLocationScore = def.UnusualLocationScore
	}
	if len(cfg.HighRiskCountries) == 0 && len(cfg.MediumRiskCountries) == 0 && len(cfg.LowRiskCountries) == 0 {
		cfg.HighRiskCountries = def.HighRiskCountries
		cfg.MediumRiskCountries = def.MediumRiskCountries
		cfg.LowRiskCountries = def.LowRiskCountries
	}

	s := &Scorer{
		cfg:           cfg,
		highRisk:      countrySet(cfg.HighRiskCountries),
		mediumRisk:    countrySet(cfg.MediumRiskCountries),
		lowRisk:       countrySet(cfg.LowRiskCountries),
		amountTiers:   sortedAmountTiers(cfg.AmountTiers),
		velocityTiers: sortedVelocityTiers(cfg.VelocityTiers),
	}

	if len(cfg.CustomRules) > 0 {
		custom, err := NewCustomEvaluator(cfg.CustomRules)
		if err != nil {
			return nil, fmt.Errorf("failed to compile custom rules: %w", err)
		}
		s.custom = custom
	}

	return s, nil
}

// Score evaluates the rule contributions for a snapshot. The order of
// evaluation does not affect the sum; no contribution depends on another.
func (s *Scorer) Score(snap *domain.TransactionSnapshot) domain.RiskSignal {
	var (
		score    float64
		triggers []string
		reasons  []string
	)

	// 1. Amount tier
	for _, tier := range s.amountTiers {
		if snap.Amount > tier.Threshold {
			score += tier.Score
			triggers = append(triggers, TriggerAmount)
			reasons = append(reasons, fmt.Sprintf("amount %.2f exceeds %.0f", snap.Amount, tier.Threshold))
			break
		}
	}

	// 2. Transaction kind
	if ks, ok := s.cfg.KindScores[snap.Kind]; ok && ks > 0 {
		score += ks
		triggers = append(triggers, TriggerKind)
		reasons = append(reasons, fmt.Sprintf("%s transaction", snap.Kind))
	}

	// 3. Declared location. Unknown countries are mildly suspicious,
	// not neutral.
	country := strings.ToUpper(strings.TrimSpace(snap.Country))
	switch {
	case country == "":
		score += s.cfg.UnknownCountryScore
		triggers = append(triggers, TriggerCountry)
		reasons = append(reasons, "no declared country")
	case contains(s.highRisk, country):
		score += highRiskCountryScore
		triggers = append(triggers, TriggerCountry)
		reasons = append(reasons, fmt.Sprintf("high-risk country %s", country))
	case contains(s.mediumRisk, country):
		score += mediumRiskCountryScore
		triggers = append(triggers, TriggerCountry)
		reasons = append(reasons, fmt.Sprintf("medium-risk country %s", country))
	case contains(s.lowRisk, country):
		score += lowRiskCountryScore
	default:
		score += s.cfg.UnknownCountryScore
		triggers = append(triggers, TriggerCountry)
		reasons = append(reasons, fmt.Sprintf("unrecognized country %s", country))
	}

	// 4. Night time
	if snap.Covariates.NightTime {
		score += s.cfg.NightTimeScore
		triggers = append(triggers, TriggerNightTime)
		reasons = append(reasons, "night-time transaction")
	}

	// 5. Velocity
	for _, tier := range s.velocityTiers {
		if snap.Covariates.RecentCount > tier.Count {
			score += tier.Score
			triggers = append(triggers, TriggerVelocity)
			reasons = append(reasons, fmt.Sprintf("%d transactions in window", snap.Covariates.RecentCount))
			break
		}
	}

	// 6. Unusual location
	if snap.Covariates.UnusualLocation {
		score += s.cfg.UnusualLocationScore
		triggers = append(triggers, TriggerUnusualLocation)
		reasons = append(reasons, "unusual location for account")
	}

	// Operator-defined CEL extensions.
	if s.custom != nil {
		extra, extraTriggers, extraReasons := s.custom.Evaluate(snap)
		score += extra
		triggers = append(triggers, extraTriggers...)
		reasons = append(reasons, extraReasons...)
	}

	reason := "transaction appears normal"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return domain.RiskSignal{
		Score:    domain.ClampScore(score),
		Reason:   reason,
		Triggers: triggers,
	}
}

func countrySet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func sortedAmountTiers(tiers []domain.AmountTier) []domain.AmountTier {
	out := make([]domain.AmountTier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold > out[j].Threshold })
	return out
}

func sortedVelocityTiers(tiers []domain.VelocityTier) []domain.VelocityTier {
	out := make([]domain.VelocityTier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}
