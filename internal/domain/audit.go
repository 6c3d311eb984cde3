package domain

import (
	"context"
	"time"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID          string    `json:"id"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performedBy"`
	Description string    `json:"description"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	EventTime   time.Time `json:"eventTime"`
}

// Audit entity types and actors.
const (
	EntityTransaction = "TRANSACTION"
	EntityAccount     = "ACCOUNT"

	ActorSystem = "SYSTEM"
)

// Audit actions for account block transitions.
const (
	ActionBlocked   = "BLOCKED"
	ActionUnblocked = "UNBLOCKED"
)

// AuditSink receives one record per decision and per block/unblock
// transition. Fire-and-forget: failures must never roll back a decision.
type AuditSink interface {
	Record(ctx context.Context, entityType, entityID, action, actor, description string)
}

// AlertSink is notified when a decision carries the fraud flag.
// Best-effort and non-blocking.
type AlertSink interface {
	Notify(ctx context.Context, decision *Decision, tx *Transaction)
}

// AdvisoryScorer is the pluggable probabilistic signal. Implementations
// must stay within the RiskSignal contract; the resolver caps their
// authority so they can never independently force a HIGH decision.
type AdvisoryScorer interface {
	Score(snap *TransactionSnapshot) RiskSignal
}
