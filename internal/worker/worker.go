// Package worker provides async transaction ingestion from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Worker consumes transaction requests from the ingest topic and runs
// them through the decision engine. Used in Pro-tier deployments where
// upstream systems publish instead of calling the HTTP API.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewWorker creates an async ingest worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("ingest worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req domain.TransactionRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx, err := w.engine.Evaluate(ctx, &req)
	if err != nil {
		// Typed rejections are expected outcomes, not failures.
		var (
			valErr *domain.ValidationError
			dupErr *domain.DuplicateTransactionError
			blkErr *domain.AccountBlockedError
		)
		switch {
		case errors.As(err, &valErr), errors.As(err, &dupErr), errors.As(err, &blkErr):
			slog.Warn("transaction rejected",
				"message_id", msg.ID,
				"account_id", req.AccountID,
				"reason", err.Error(),
			)
			return nil
		default:
			slog.Error("transaction evaluation failed",
				"message_id", msg.ID,
				"error", err,
			)
			return err
		}
	}

	slog.Debug("transaction processed",
		"tx_id", tx.ID,
		"status", tx.Status,
		"score", tx.FinalScore,
	)
	return nil
}

// Stop unsubscribes and waits for in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("ingest worker stopped")
	return nil
}
