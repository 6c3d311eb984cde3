// Package advisory implements the probabilistic advisory signal.
//
// The scorer stands in for a trained model behind the
// domain.AdvisoryScorer contract; a remote-inference client can replace
// it without touching the resolver. Its authority is capped by the
// resolver, not by its own output range.
package advisory

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Deviation-from-average contributions.
const (
	extremeDeviationRatio = 10.0
	largeDeviationRatio   = 5.0
	mildDeviationRatio    = 2.5

	extremeDeviationScore = 35.0
	largeDeviationScore   = 25.0
	mildDeviationScore    = 12.0
)

// Location-shift and timing contributions.
const (
	locationShiftScore = 20.0
	unknownCityScore   = 10.0
	lateHourScore      = 10.0
)

// Low-probability noise terms representing unmodeled device/IP risk.
const (
	noiseProbability = 0.1
	deviceNoiseScore = 8.0
	ipNoiseScore     = 6.0
)

// Scorer simulates a probabilistic model with weighted heuristics plus
// seedable noise. Safe for concurrent use.
type Scorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewScorer creates an advisory scorer seeded from the clock.
func NewScorer() *Scorer {
	return NewSeededScorer(time.Now().UnixNano())
}

// NewSeededScorer creates an advisory scorer with a fixed seed, keeping
// the noise terms reproducible in tests.
func NewSeededScorer(seed int64) *Scorer {
	return &Scorer{rng: rand.New(rand.NewSource(seed))}
}

// Score produces the advisory risk signal for a snapshot.
func (s *Scorer) Score(snap *domain.TransactionSnapshot) domain.RiskSignal {
	var (
		score   float64
		reasons []string
	)

	// Deviation from the account's personal average. No history means
	// no opinion on the amount.
	if avg := snap.Covariates.AverageAmount; avg > 0 {
		ratio := snap.Amount / avg
		switch {
		case ratio > extremeDeviationRatio:
			score += extremeDeviationScore
			reasons = append(reasons, fmt.Sprintf("amount %.1fx above personal average", ratio))
		case ratio > largeDeviationRatio:
			score += largeDeviationScore
			reasons = append(reasons, fmt.Sprintf("amount %.1fx above personal average", ratio))
		case ratio > mildDeviationRatio:
			score += mildDeviationScore
			reasons = append(reasons, "amount above personal average")
		}
	}

	// Location shift relative to the account's profile.
	if snap.Covariates.UnusualLocation {
		score += locationShiftScore
		reasons = append(reasons, "location shift from account profile")
	} else if city := strings.ToUpper(strings.TrimSpace(snap.City)); city == "" || city == "UNKNOWN" {
		score += unknownCityScore
		reasons = append(reasons, "unrecognized city")
	}

	if snap.Covariates.NightTime {
		score += lateHourScore
		reasons = append(reasons, "late-hour activity")
	}

	// Model-uncertainty noise terms.
	s.mu.Lock()
	deviceHit := snap.DeviceID != "" && s.rng.Float64() < noiseProbability
	ipHit := snap.IPAddress != "" && s.rng.Float64() < noiseProbability
	s.mu.Unlock()

	if deviceHit {
		score += deviceNoiseScore
		reasons = append(reasons, "device risk signal")
	}
	if ipHit {
		score += ipNoiseScore
		reasons = append(reasons, "ip risk signal")
	}

	reason := "no advisory findings"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return domain.RiskSignal{
		Score:  domain.ClampScore(score),
		Reason: reason,
	}
}

// Neutral returns the signal used when the advisory backend is
// unavailable: score zero, never fabricated risk.
func Neutral() domain.RiskSignal {
	return domain.RiskSignal{Score: 0, Reason: "advisory signal unavailable"}
}
