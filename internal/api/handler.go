package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/blocklist"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Engine
	blocks    *blocklist.Store
	analytics *analytics.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, blocks *blocklist.Store, stats *analytics.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		blocks:    blocks,
		analytics: stats,
		version:   version,
	}
}

// DecisionResponse is the response for POST /transactions.
type DecisionResponse struct {
	TransactionID string   `json:"transactionId"`
	AccountID     string   `json:"accountId"`
	RiskLevel     string   `json:"riskLevel"`
	Fraud         bool     `json:"fraud"`
	Score         float64  `json:"score"`
	Status        string   `json:"status"`
	Origin        string   `json:"origin"`
	Reason        string   `json:"reason"`
	Triggers      []string `json:"triggers,omitempty"`
	Metadata      struct {
		TraceID      string `json:"traceId"`
		ProcessingMs int64  `json:"processingMs"`
		Version      string `json:"version"`
	} `json:"metadata"`
}

// EvaluateTransaction handles POST /transactions requests.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	// Parse request
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := h.engine.Evaluate(ctx, &req)
	if err != nil {
		h.writeEvaluateError(w, err)
		return
	}

	resp := DecisionResponse{
		TransactionID: tx.ID,
		AccountID:     tx.AccountID,
		RiskLevel:     string(tx.RiskLevel),
		Fraud:         tx.Fraud,
		Score:         tx.FinalScore,
		Status:        tx.Status,
		Origin:        tx.Origin,
		Reason:        tx.Reason,
		Triggers:      tx.Triggers,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.ProcessingMs = tx.ProcessingMs
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// writeEvaluateError maps typed domain errors to HTTP status codes.
func (h *Handler) writeEvaluateError(w http.ResponseWriter, err error) {
	var (
		valErr *domain.ValidationError
		dupErr *domain.DuplicateTransactionError
		blkErr *domain.AccountBlockedError
	)

	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": valErr.Error(),
			"field": valErr.Field,
		})
	case errors.As(err, &dupErr):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":         dupErr.Error(),
			"transactionId": dupErr.TransactionID,
		})
	case errors.As(err, &blkErr):
		writeJSON(w, http.StatusLocked, map[string]string{
			"error":        blkErr.Error(),
			"accountId":    blkErr.AccountID,
			"blockedUntil": blkErr.Until.UTC().Format(time.RFC3339),
		})
	default:
		slog.Error("transaction evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
	}
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// BlockStatusResponse is the response for GET /accounts/{id}/block.
type BlockStatusResponse struct {
	AccountID      string `json:"accountId"`
	Blocked        bool   `json:"blocked"`
	FailedAttempts int    `json:"failedAttempts"`
	BlockedUntil   string `json:"blockedUntil,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// GetBlockStatus returns the current block state of an account.
func (h *Handler) GetBlockStatus(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id is required",
		})
		return
	}

	rec, blocked := h.blocks.IsBlocked(r.Context(), accountID)

	resp := BlockStatusResponse{
		AccountID:      accountID,
		Blocked:        blocked,
		FailedAttempts: rec.FailedAttempts,
	}
	if blocked {
		resp.BlockedUntil = rec.BlockedUntil.UTC().Format(time.RFC3339)
		resp.Reason = rec.Reason
	}

	writeJSON(w, http.StatusOK, resp)
}

// UnblockAccount lifts an account block before the cooldown expires.
func (h *Handler) UnblockAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "account id is required",
		})
		return
	}

	if !h.blocks.Unblock(r.Context(), accountID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "account is not blocked",
		})
		return
	}

	slog.Info("account unblocked by operator", "account_id", accountID)
	writeJSON(w, http.StatusOK, map[string]string{
		"accountId": accountID,
		"status":    "unblocked",
	})
}

// SweepBlocks forces an immediate expiry sweep over the block store.
func (h *Handler) SweepBlocks(w http.ResponseWriter, r *http.Request) {
	released := h.blocks.SweepExpired(r.Context(), time.Now().UTC())

	writeJSON(w, http.StatusOK, map[string]int{
		"released": released,
	})
}

// GetAnalytics returns aggregate decision statistics.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.Report(r.Context())
	if err != nil {
		slog.Error("failed to build analytics report", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build report",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListAuditEntries returns the audit trail for an entity.
func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "id")
	if entityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity id is required",
		})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.repo.ListAuditEntries(r.Context(), entityID, limit)
	if err != nil {
		slog.Error("failed to list audit entries", "entity_id", entityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list audit entries",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entityId": entityID,
		"entries":  entries,
		"count":    len(entries),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
