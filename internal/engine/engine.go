// Package engine orchestrates the transaction evaluation pipeline:
// validation, idempotency guard, account block gate, the three risk
// signals, resolution, persistence, block-state updates, and the audit
// and alert sinks.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/blocklist"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
)

const dupMarkerTTL = 24 * time.Hour

var tracer = otel.Tracer("kestrel-engine")

// Engine is the transaction risk decision engine. Evaluate is safe for
// concurrent use; transactions for different accounts run fully in
// parallel, and the block store is the only shared mutable state.
type Engine struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	ruleScore *rules.Scorer
	advisory  domain.AdvisoryScorer
	scenarios *scenario.Matcher
	resolver  *decision.Resolver
	blocks    *blocklist.Store
	history   *history.Service
	audit     domain.AuditSink
	alerts    domain.AlertSink
}

// New creates an engine. cache, bus, audit, and alerts may be nil; a nil
// advisory scorer degrades to the neutral signal.
func New(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	ruleScorer *rules.Scorer,
	advisoryScorer domain.AdvisoryScorer,
	matcher *scenario.Matcher,
	resolver *decision.Resolver,
	blocks *blocklist.Store,
	hist *history.Service,
	auditSink domain.AuditSink,
	alertSink domain.AlertSink,
) *Engine {
	return &Engine{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		ruleScore: ruleScorer,
		advisory:  advisoryScorer,
		scenarios: matcher,
		resolver:  resolver,
		blocks:    blocks,
		history:   hist,
		audit:     auditSink,
		alerts:    alertSink,
	}
}

// Evaluate runs the full pipeline for one transaction and returns the
// decisioned record. Failures are always one of the typed domain errors;
// collaborator outages degrade instead of failing the evaluation.
func (e *Engine) Evaluate(ctx context.Context, req *domain.TransactionRequest) (*domain.Transaction, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.evaluate")
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}

	if req.TransactionID == "" {
		req.TransactionID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("tx.id", req.TransactionID),
		attribute.String("tx.account_id", req.AccountID),
	)

	if err := e.checkDuplicate(ctx, req.TransactionID); err != nil {
		return nil, err
	}

	// Account gate runs before scoring; a blocked account skips the
	// pipeline entirely and the transaction never receives a score.
	if rec, blocked := e.blocks.IsBlocked(ctx, req.AccountID); blocked {
		return nil, &domain.AccountBlockedError{
			AccountID: req.AccountID,
			Until:     rec.BlockedUntil,
			Reason:    rec.Reason,
		}
	}

	snap := req.ToSnapshot()
	e.history.Resolve(ctx, snap)

	// The three signals run independently over the same snapshot.
	ruleSignal := e.ruleScore.Score(snap)
	advisorySignal := e.advisorySignal(snap)

	var verdict *domain.ScenarioVerdict
	if v, ok := e.scenarios.Match(snap); ok {
		verdict = &v
	}

	d := e.resolver.Resolve(ruleSignal, advisorySignal, verdict)

	tx := buildTransaction(req, snap, ruleSignal, advisorySignal, d, start)

	if err := e.repo.SaveTransaction(ctx, tx); err != nil {
		// The decision stands; persistence is retried by the caller's
		// reconciliation, not by failing the evaluation.
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
	} else {
		e.markSeen(ctx, tx.ID)
		e.history.Observe(ctx, tx.AccountID)
	}

	if d.Level == domain.RiskHigh {
		reasons := d.Triggers
		if len(reasons) == 0 {
			reasons = []string{d.Reason}
		}
		e.blocks.OnHighRiskEvent(ctx, tx.AccountID, reasons)
	}

	if e.audit != nil {
		e.audit.Record(ctx, domain.EntityTransaction, tx.ID, tx.Status, domain.ActorSystem,
			fmt.Sprintf("transaction decisioned with risk level %s, fraud: %t", d.Level, d.Fraud))
	}

	e.publishDecision(ctx, tx)

	if d.Fraud && e.alerts != nil {
		e.alerts.Notify(ctx, &d, tx)
	}

	slog.Info("transaction evaluated",
		"tx_id", tx.ID,
		"account_id", tx.AccountID,
		"risk_level", d.Level,
		"status", tx.Status,
		"score", d.Score,
		"origin", d.Origin,
		"duration_ms", tx.ProcessingMs,
	)

	return tx, nil
}

func validate(req *domain.TransactionRequest) error {
	if req.AccountID == "" {
		return &domain.ValidationError{Field: "accountId", Reason: "required"}
	}
	if req.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Kind == "" {
		return &domain.ValidationError{Field: "kind", Reason: "required"}
	}
	return nil
}

// checkDuplicate enforces the idempotency guard with a cache fast path
// in front of the repository.
func (e *Engine) checkDuplicate(ctx context.Context, txID string) error {
	if e.cache != nil {
		if raw, err := e.cache.Get(ctx, "seen:"+txID); err == nil && raw != nil {
			return &domain.DuplicateTransactionError{TransactionID: txID}
		}
	}

	exists, err := e.repo.ExistsByTransactionID(ctx, txID)
	if err != nil {
		// A degraded repository must not fabricate duplicates.
		slog.Warn("duplicate check degraded", "tx_id", txID, "error", err)
		return nil
	}
	if exists {
		return &domain.DuplicateTransactionError{TransactionID: txID}
	}
	return nil
}

func (e *Engine) markSeen(ctx context.Context, txID string) {
	if e.cache == nil {
		return
	}
	_ = e.cache.Set(ctx, "seen:"+txID, []byte("1"), dupMarkerTTL)
}

func (e *Engine) advisorySignal(snap *domain.TransactionSnapshot) domain.RiskSignal {
	if e.advisory == nil {
		return domain.RiskSignal{Score: 0, Reason: "advisory signal unavailable"}
	}
	return e.advisory.Score(snap)
}

func (e *Engine) publishDecision(ctx context.Context, tx *domain.Transaction) {
	if e.bus == nil {
		return
	}
	payload, err := encodeTransaction(tx)
	if err != nil {
		slog.Error("failed to encode decision event", "tx_id", tx.ID, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision", "tx_id", tx.ID, "error", err)
	}
}

func encodeTransaction(tx *domain.Transaction) ([]byte, error) {
	return json.Marshal(tx)
}

func buildTransaction(
	req *domain.TransactionRequest,
	snap *domain.TransactionSnapshot,
	ruleSignal, advisorySignal domain.RiskSignal,
	d domain.Decision,
	start time.Time,
) *domain.Transaction {
	return &domain.Transaction{
		ID:           req.TransactionID,
		AccountID:    req.AccountID,
		CustomerName: req.CustomerName,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Kind:         req.Kind,
		Country:      req.Country,
		City:         req.City,
		DeviceID:     req.DeviceID,
		IPAddress:    req.IPAddress,
		Timestamp:    snap.Timestamp,
		CreatedAt:    time.Now().UTC(),

		RuleScore:     ruleSignal.Score,
		AdvisoryScore: advisorySignal.Score,
		FinalScore:    d.Score,
		RiskLevel:     d.Level,
		Fraud:         d.Fraud,
		Origin:        d.Origin,
		Status:        d.Status,
		Reason:        d.Reason,
		Triggers:      d.Triggers,

		ProcessingMs: time.Since(start).Milliseconds(),
	}
}
