package domain

import (
	"time"
)

// TransactionKind classifies a transaction by channel.
type TransactionKind string

const (
	KindCard          TransactionKind = "CARD"
	KindTransfer      TransactionKind = "TRANSFER"
	KindOnline        TransactionKind = "ONLINE"
	KindInternational TransactionKind = "INTERNATIONAL"
	KindWithdrawal    TransactionKind = "WITHDRAWAL"
)

// TransactionSnapshot is the immutable input to scoring. It carries the
// transaction itself plus the derived behavioral covariates resolved by
// the history collaborator before scoring begins. The scorers never
// query storage themselves.
type TransactionSnapshot struct {
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	Kind          TransactionKind `json:"kind"`

	// Declared location
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`

	// Device fingerprint
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Covariates Covariates `json:"covariates"`
}

// Covariates are the derived behavioral inputs supplied by the caller.
// All of them are optional; the zero value means "unknown" and must
// contribute zero risk, never an error.
type Covariates struct {
	// RecentCount is the number of transactions for this account in the
	// trailing velocity window.
	RecentCount int64 `json:"recentCount"`

	// AverageAmount is the account's historical average amount.
	// Zero means no history is available.
	AverageAmount float64 `json:"averageAmount"`

	NightTime       bool `json:"nightTime"`
	UnusualLocation bool `json:"unusualLocation"`

	// PriorSuccess reports whether the account's previous transaction
	// succeeded. Nil means unknown, which is distinct from false.
	PriorSuccess *bool `json:"priorSuccess,omitempty"`
}

// Transaction is the persisted, decisioned transaction record.
type Transaction struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	CustomerName string          `json:"customerName,omitempty"`
	Amount       float64         `json:"amount"`
	Currency     string          `json:"currency"`
	Kind         TransactionKind `json:"kind"`
	Country      string          `json:"country,omitempty"`
	City         string          `json:"city,omitempty"`
	DeviceID     string          `json:"deviceId,omitempty"`
	IPAddress    string          `json:"ipAddress,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Decision outcome
	RuleScore     float64   `json:"ruleScore"`
	AdvisoryScore float64   `json:"advisoryScore"`
	FinalScore    float64   `json:"finalScore"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Fraud         bool      `json:"fraud"`
	Origin        string    `json:"origin"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	Triggers      []string  `json:"triggers,omitempty"`

	ProcessingMs int64 `json:"processingMs"`
}

// TransactionRequest is the API request payload for transaction evaluation.
type TransactionRequest struct {
	TransactionID string          `json:"transactionId"`
	AccountID     string          `json:"accountId"`
	CustomerName  string          `json:"customerName,omitempty"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	Kind          TransactionKind `json:"kind"`
	Country       string          `json:"country,omitempty"`
	City          string          `json:"city,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	IPAddress     string          `json:"ipAddress,omitempty"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`

	// Optional caller-supplied covariates. Anything the caller does not
	// provide is resolved by the history service or left unknown.
	UnusualLocation bool  `json:"unusualLocation,omitempty"`
	PriorSuccess    *bool `json:"priorSuccess,omitempty"`
}

// ToSnapshot converts a request to a scoring snapshot. Derived covariates
// beyond the caller-supplied flags are filled in later by the engine.
func (r *TransactionRequest) ToSnapshot() *TransactionSnapshot {
	ts := time.Now().UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return &TransactionSnapshot{
		TransactionID: r.TransactionID,
		AccountID:     r.AccountID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Kind:          r.Kind,
		Country:       r.Country,
		City:          r.City,
		DeviceID:      r.DeviceID,
		IPAddress:     r.IPAddress,
		Timestamp:     ts,
		Covariates: Covariates{
			UnusualLocation: r.UnusualLocation,
			PriorSuccess:    r.PriorSuccess,
		},
	}
}
