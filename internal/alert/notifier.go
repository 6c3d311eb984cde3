// Package alert delivers fraud alerts to downstream consumers.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Notifier publishes fraud alerts to the event bus and the structured
// log. Best effort: a failed publish is logged and swallowed so it can
// never roll back a decision.
type Notifier struct {
	bus domain.EventBus
}

// NewNotifier creates an alert notifier. bus may be nil, in which case
// alerts go to the log only.
func NewNotifier(bus domain.EventBus) *Notifier {
	return &Notifier{bus: bus}
}

// Payload is the alert message published on the alert topic.
type Payload struct {
	TransactionID string           `json:"transactionId"`
	AccountID     string           `json:"accountId"`
	Amount        float64          `json:"amount"`
	Currency      string           `json:"currency"`
	RiskLevel     domain.RiskLevel `json:"riskLevel"`
	Score         float64          `json:"score"`
	Origin        string           `json:"origin"`
	Reason        string           `json:"reason"`
	Timestamp     string           `json:"timestamp"`
}

// Notify emits an alert for a fraud-flagged decision.
func (n *Notifier) Notify(ctx context.Context, decision *domain.Decision, tx *domain.Transaction) {
	payload := Payload{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		RiskLevel:     decision.Level,
		Score:         decision.Score,
		Origin:        decision.Origin,
		Reason:        decision.Reason,
		Timestamp:     tx.Timestamp.Format("2006-01-02 15:04:05"),
	}

	slog.Warn("fraud alert",
		"tx_id", tx.ID,
		"account_id", tx.AccountID,
		"amount", fmt.Sprintf("%.2f", tx.Amount),
		"risk_level", decision.Level,
		"score", decision.Score,
		"origin", decision.Origin,
	)

	if n.bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal alert payload", "tx_id", tx.ID, "error", err)
		return
	}

	if err := n.bus.Publish(ctx, domain.TopicAlert, data); err != nil {
		slog.Error("failed to publish alert",
			"tx_id", tx.ID,
			"error", err,
		)
	}
}
