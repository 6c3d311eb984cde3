// Package decision merges the three risk signals into the final,
// authoritative decision.
package decision

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Resolver combines the rule, advisory, and scenario signals under a
// fixed priority order. It is pure and side-effect free: it never touches
// persistence or blocking state, and resolving the same inputs twice
// yields identical decisions.
type Resolver struct {
	ruleHigh         float64
	ruleMedium       float64
	advisoryStrong   float64
	advisoryElevated float64
}

// NewResolver creates a resolver with the configured cut points. Zero
// cut points fall back to the defaults (HIGH >= 60, MEDIUM >= 30,
// advisory >= 70 / >= 50).
func NewResolver(cfg domain.ScoringConfig) *Resolver {
	def := domain.DefaultScoringConfig()
	if cfg.RuleHighCutoff == 0 {
		cfg.RuleHighCutoff = def.RuleHighCutoff
	}
	if cfg.RuleMediumCutoff == 0 {
		cfg.RuleMediumCutoff = def.RuleMediumCutoff
	}
	if cfg.AdvisoryStrongCutoff == 0 {
		cfg.AdvisoryStrongCutoff = def.AdvisoryStrongCutoff
	}
	if cfg.AdvisoryElevatedCutoff == 0 {
		cfg.AdvisoryElevatedCutoff = def.AdvisoryElevatedCutoff
	}
	return &Resolver{
		ruleHigh:         cfg.RuleHighCutoff,
		ruleMedium:       cfg.RuleMediumCutoff,
		advisoryStrong:   cfg.AdvisoryStrongCutoff,
		advisoryElevated: cfg.AdvisoryElevatedCutoff,
	}
}

// Resolve applies the priority order: a MEDIUM-or-HIGH scenario verdict
// is adopted verbatim; then the rule signal against its cut points; then
// the advisory signal, which can raise to MEDIUM at most; otherwise LOW.
// The approval outcome is always derived from the risk level.
func (r *Resolver) Resolve(rule, advisory domain.RiskSignal, verdict *domain.ScenarioVerdict) domain.Decision {
	if verdict != nil && verdict.Level.AtLeast(domain.RiskMedium) {
		return r.finalize(domain.Decision{
			Level:    verdict.Level,
			Score:    verdict.Score,
			Reason:   verdict.Reason,
			Origin:   domain.OriginScenario,
			Triggers: []string{verdict.Scenario},
		})
	}

	if rule.Score >= r.ruleHigh {
		return r.finalize(domain.Decision{
			Level:    domain.RiskHigh,
			Score:    rule.Score,
			Reason:   rule.Reason,
			Origin:   domain.OriginRule,
			Triggers: rule.Triggers,
		})
	}

	if rule.Score >= r.ruleMedium {
		return r.finalize(domain.Decision{
			Level:    domain.RiskMedium,
			Score:    rule.Score,
			Reason:   rule.Reason,
			Origin:   domain.OriginRule,
			Triggers: rule.Triggers,
		})
	}

	// Advisory alone can never yield HIGH; its authority stops at
	// MEDIUM regardless of magnitude.
	if advisory.Score >= r.advisoryStrong || advisory.Score >= r.advisoryElevated {
		return r.finalize(domain.Decision{
			Level:  domain.RiskMedium,
			Score:  advisory.Score,
			Reason: advisory.Reason,
			Origin: domain.OriginAdvisory,
		})
	}

	return r.finalize(domain.Decision{
		Level:  domain.RiskLow,
		Score:  0,
		Reason: "no risk signal exceeded thresholds",
		Origin: domain.OriginDefault,
	})
}

// finalize derives the fraud flag and approval outcome from the risk
// level. MEDIUM is fraud-flagged by policy.
func (r *Resolver) finalize(d domain.Decision) domain.Decision {
	d.Fraud = d.Level.AtLeast(domain.RiskMedium)
	d.Status = domain.ApprovalForLevel(d.Level)
	return d
}
