package domain

// RiskLevel is the ordered risk category assigned to a transaction.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

var riskOrder = map[RiskLevel]int{
	RiskLow:    0,
	RiskMedium: 1,
	RiskHigh:   2,
}

// AtLeast reports whether l is ordered at or above other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskOrder[l] >= riskOrder[other]
}

// Approval outcomes, derived 1:1 from risk level.
const (
	StatusApproved      = "APPROVED"
	StatusPendingReview = "PENDING_REVIEW"
	StatusBlocked       = "BLOCKED"
)

// ApprovalForLevel maps a risk level to its approval outcome. The outcome
// is always derived through this function, never set independently.
func ApprovalForLevel(l RiskLevel) string {
	switch l {
	case RiskHigh:
		return StatusBlocked
	case RiskMedium:
		return StatusPendingReview
	default:
		return StatusApproved
	}
}

// Signal origins identify which source won the final decision.
const (
	OriginScenario = "SCENARIO"
	OriginRule     = "RULE"
	OriginAdvisory = "ADVISORY"
	OriginDefault  = "DEFAULT"
)

// RiskSignal is the output of the rule or advisory scorer: a score clamped
// to [0,100] with a human-readable explanation. Trigger tags are populated
// by the rule scorer only. Signals are pure values, never mutated.
type RiskSignal struct {
	Score    float64  `json:"score"`
	Reason   string   `json:"reason"`
	Triggers []string `json:"triggers,omitempty"`
}

// ScenarioVerdict is produced when a known compound fraud pattern is
// recognized. Absence of a verdict (the matcher's ok=false) means "no
// scenario opinion", which is distinct from a LOW-risk verdict.
type ScenarioVerdict struct {
	Scenario string    `json:"scenario"`
	Level    RiskLevel `json:"level"`
	Score    float64   `json:"score"`
	Reason   string    `json:"reason"`
}

// Decision is the final output of the resolver.
type Decision struct {
	Level    RiskLevel `json:"level"`
	Fraud    bool      `json:"fraud"`
	Score    float64   `json:"score"`
	Reason   string    `json:"reason"`
	Origin   string    `json:"origin"`
	Status   string    `json:"status"`
	Triggers []string  `json:"triggers,omitempty"`
}

// ClampScore bounds a score to [0,100].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
