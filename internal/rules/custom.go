package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEvaluator evaluates operator-supplied CEL rules against a
// transaction snapshot. Each rule that fires contributes its configured
// score and trigger tag to the rule signal; the total remains subject to
// the signal's [0,100] clamp.
type CustomEvaluator struct {
	rules []*compiledCustomRule
}

type compiledCustomRule struct {
	cfg     domain.CustomRuleConfig
	program cel.Program
}

// NewCustomEvaluator compiles the enabled custom rules. Every expression
// must evaluate to a bool.
func NewCustomEvaluator(configs []domain.CustomRuleConfig) (*CustomEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("city", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("recent_count", cel.IntType),
		cel.Variable("average_amount", cel.DoubleType),
		cel.Variable("night_time", cel.BoolType),
		cel.Variable("unusual_location", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &CustomEvaluator{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		ast, issues := env.Compile(cfg.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
		}

		e.rules = append(e.rules, &compiledCustomRule{cfg: cfg, program: program})
	}

	return e, nil
}

// RuleCount returns the number of compiled rules.
func (e *CustomEvaluator) RuleCount() int {
	return len(e.rules)
}

// Evaluate runs all compiled rules over the snapshot. A rule that errors
// at evaluation time contributes nothing; custom rules may only add risk,
// never remove it.
func (e *CustomEvaluator) Evaluate(snap *domain.TransactionSnapshot) (score float64, triggers []string, reasons []string) {
	if len(e.rules) == 0 {
		return 0, nil, nil
	}

	activation := map[string]any{
		"amount":           snap.Amount,
		"currency":         snap.Currency,
		"kind":             string(snap.Kind),
		"country":          snap.Country,
		"city":             snap.City,
		"device_id":        snap.DeviceID,
		"ip_address":       snap.IPAddress,
		"recent_count":     snap.Covariates.RecentCount,
		"average_amount":   snap.Covariates.AverageAmount,
		"night_time":       snap.Covariates.NightTime,
		"unusual_location": snap.Covariates.UnusualLocation,
	}

	for _, rule := range e.rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			score += rule.cfg.Score
			trigger := rule.cfg.Trigger
			if trigger == "" {
				trigger = rule.cfg.ID
			}
			triggers = append(triggers, trigger)
			reasons = append(reasons, rule.cfg.Name)
		}
	}

	return score, triggers, reasons
}
