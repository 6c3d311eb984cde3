package domain

import (
	"fmt"
	"time"
)

// ValidationError rejects a request before scoring. It is never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// DuplicateTransactionError signals the idempotency guard tripped; the
// transaction is rejected without being scored.
type DuplicateTransactionError struct {
	TransactionID string
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("duplicate transaction %s", e.TransactionID)
}

// AccountBlockedError rejects a transaction because the account gate
// tripped. The transaction never receives a risk score; this is distinct
// from a HIGH-risk decision.
type AccountBlockedError struct {
	AccountID string
	Until     time.Time
	Reason    string
}

func (e *AccountBlockedError) Error() string {
	return fmt.Sprintf("account %s temporarily blocked until %s", e.AccountID, e.Until.Format(time.RFC3339))
}

// CollaboratorUnavailableError wraps a failure of an external collaborator
// (history lookup, advisory backend). The engine degrades instead of
// failing the evaluation; this error is surfaced only in logs.
type CollaboratorUnavailableError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorUnavailableError) Error() string {
	return fmt.Sprintf("collaborator %s unavailable: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorUnavailableError) Unwrap() error {
	return e.Err
}
