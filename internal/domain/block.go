package domain

import "time"

// AccountBlockRecord is the per-account punitive state. A record is
// created lazily on the first high-risk event and transitioned from then
// on, never deleted.
type AccountBlockRecord struct {
	AccountID      string    `json:"accountId"`
	FailedAttempts int       `json:"failedAttempts"`
	FirstAttemptAt time.Time `json:"firstAttemptAt"`
	Active         bool      `json:"active"`
	BlockedUntil   time.Time `json:"blockedUntil"`
	Reason         string    `json:"reason"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Blocked reports whether the record represents an active block at now.
func (r *AccountBlockRecord) Blocked(now time.Time) bool {
	return r.Active && now.Before(r.BlockedUntil)
}
