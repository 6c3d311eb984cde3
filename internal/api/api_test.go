package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/advisory"
	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/blocklist"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
)

// memRepo is an in-memory repository backing the API tests.
type memRepo struct {
	mu           sync.Mutex
	transactions map[string]*domain.Transaction
	audits       []*domain.AuditEntry
}

func newMemRepo() *memRepo {
	return &memRepo{transactions: make(map[string]*domain.Transaction)}
}

func (m *memRepo) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *memRepo) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

func (m *memRepo) ExistsByTransactionID(ctx context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transactions[txID]
	return ok, nil
}

func (m *memRepo) CountRecentByAccount(ctx context.Context, accountID string, since time.Time) (int64, error) {
	return 0, nil
}

func (m *memRepo) AverageAmountByAccount(ctx context.Context, accountID string) (float64, error) {
	return 0, nil
}

func (m *memRepo) LastTransactionByAccount(ctx context.Context, accountID string) (*domain.Transaction, error) {
	return nil, nil
}

func (m *memRepo) SaveBlockRecord(ctx context.Context, rec *domain.AccountBlockRecord) error {
	return nil
}

func (m *memRepo) ListActiveBlockRecords(ctx context.Context) ([]*domain.AccountBlockRecord, error) {
	return nil, nil
}

func (m *memRepo) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, entry)
	return nil
}

func (m *memRepo) ListAuditEntries(ctx context.Context, entityID string, limit int) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range m.audits {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memRepo) CountTransactions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.transactions)), nil
}

func (m *memRepo) CountByRiskLevel(ctx context.Context, level domain.RiskLevel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tx := range m.transactions {
		if tx.RiskLevel == level {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CountByStatus(ctx context.Context, status string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tx := range m.transactions {
		if tx.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) FraudSummary(ctx context.Context) (int64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	var sum float64
	for _, tx := range m.transactions {
		if tx.Fraud {
			n++
			sum += tx.FinalScore
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return n, sum / float64(n), nil
}

func (m *memRepo) Ping(ctx context.Context) error { return nil }
func (m *memRepo) Close() error                   { return nil }

// createTestServer wires a full evaluation stack over an in-memory repository.
func createTestServer(t *testing.T) (*Server, *memRepo, *blocklist.Store) {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	repo := newMemRepo()
	scoring := domain.DefaultScoringConfig()

	ruleScorer, err := rules.NewScorer(scoring)
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}

	blocks := blocklist.NewStore(domain.DefaultBlockConfig(), repo, nil, nil)
	hist := history.NewService(repo, nil, scoring.VelocityWindow)

	eng := engine.New(
		repo,
		nil,
		nil,
		ruleScorer,
		advisory.NewSeededScorer(1),
		scenario.NewMatcher(scoring.HomeCountries),
		decision.NewResolver(scoring),
		blocks,
		hist,
		nil,
		nil,
	)

	stats := analytics.NewService(repo)
	server := NewServer(cfg, repo, nil, nil, eng, blocks, stats, "test-v1")
	return server, repo, blocks
}

func evaluateBody(txID, accountID string, amount float64, kind domain.TransactionKind, country string) []byte {
	ts := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(domain.TransactionRequest{
		TransactionID: txID,
		AccountID:     accountID,
		Amount:        amount,
		Currency:      "INR",
		Kind:          kind,
		Country:       country,
		City:          "Mumbai",
		Timestamp:     &ts,
	})
	return body
}

func postJSON(server *Server, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestEvaluateEndpoint(t *testing.T) {
	t.Run("SuccessfulEvaluation", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		rr := postJSON(server, "/transactions", evaluateBody("tx-ok", "acct-1", 50, domain.KindCard, "IN"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp DecisionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.TransactionID != "tx-ok" {
			t.Errorf("expected transactionId tx-ok, got %s", resp.TransactionID)
		}
		if resp.RiskLevel != string(domain.RiskLow) {
			t.Errorf("expected LOW, got %s", resp.RiskLevel)
		}
		if resp.Status != domain.StatusApproved {
			t.Errorf("expected APPROVED, got %s", resp.Status)
		}
		if resp.Fraud {
			t.Error("approved transaction must not be fraud-flagged")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("HighRiskBlocked", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		rr := postJSON(server, "/transactions", evaluateBody("tx-hot", "acct-2", 250000, domain.KindInternational, "NG"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp DecisionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RiskLevel != string(domain.RiskHigh) {
			t.Errorf("expected HIGH, got %s", resp.RiskLevel)
		}
		if resp.Status != domain.StatusBlocked {
			t.Errorf("expected BLOCKED, got %s", resp.Status)
		}
		if !resp.Fraud {
			t.Error("high-risk transaction must be fraud-flagged")
		}
		if len(resp.Triggers) == 0 {
			t.Error("expected triggers in response")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		rr := postJSON(server, "/transactions", []byte("not-json"))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ValidationErrorCarriesField", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		rr := postJSON(server, "/transactions", evaluateBody("tx-bad", "", 50, domain.KindCard, "IN"))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["field"] == "" {
			t.Error("expected the offending field in the error response")
		}
	})

	t.Run("DuplicateReturnsConflict", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		body := evaluateBody("tx-dup", "acct-3", 50, domain.KindCard, "IN")
		if rr := postJSON(server, "/transactions", body); rr.Code != http.StatusOK {
			t.Fatalf("first evaluation failed: %d %s", rr.Code, rr.Body.String())
		}

		rr := postJSON(server, "/transactions", body)
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["transactionId"] != "tx-dup" {
			t.Errorf("expected transactionId tx-dup, got %s", resp["transactionId"])
		}
	})

	t.Run("BlockedAccountReturnsLocked", func(t *testing.T) {
		server, _, blocks := createTestServer(t)

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			blocks.OnHighRiskEvent(ctx, "acct-locked", []string{"AMOUNT_TIER"})
		}

		rr := postJSON(server, "/transactions", evaluateBody("tx-locked", "acct-locked", 50, domain.KindCard, "IN"))
		if rr.Code != http.StatusLocked {
			t.Fatalf("expected status 423, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["accountId"] != "acct-locked" {
			t.Errorf("expected accountId acct-locked, got %s", resp["accountId"])
		}
		if resp["blockedUntil"] == "" {
			t.Error("expected blockedUntil in the error response")
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		server, _, _ := createTestServer(t)

		rr := postJSON(server, "/transactions", evaluateBody("tx-hdr", "acct-4", 50, domain.KindCard, "IN"))

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestTransactionLookup(t *testing.T) {
	server, _, _ := createTestServer(t)

	if rr := postJSON(server, "/transactions", evaluateBody("tx-get", "acct-5", 50, domain.KindCard, "IN")); rr.Code != http.StatusOK {
		t.Fatalf("evaluation failed: %d", rr.Code)
	}

	t.Run("Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-get", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var tx domain.Transaction
		if err := json.Unmarshal(rr.Body.Bytes(), &tx); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if tx.ID != "tx-get" || tx.AccountID != "acct-5" {
			t.Errorf("unexpected transaction: %+v", tx)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/tx-ghost", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestBlockEndpoints(t *testing.T) {
	server, _, blocks := createTestServer(t)
	ctx := context.Background()

	t.Run("StatusUnblocked", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts/acct-free/block", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp BlockStatusResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Blocked {
			t.Error("unknown account must not be blocked")
		}
	})

	t.Run("StatusBlocked", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			blocks.OnHighRiskEvent(ctx, "acct-hot", []string{"VELOCITY"})
		}

		req := httptest.NewRequest(http.MethodGet, "/accounts/acct-hot/block", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp BlockStatusResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if !resp.Blocked {
			t.Fatal("expected account to be blocked")
		}
		if resp.BlockedUntil == "" || resp.Reason == "" {
			t.Errorf("expected block details, got %+v", resp)
		}
	})

	t.Run("Unblock", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/accounts/acct-hot/unblock", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		if _, blocked := blocks.IsBlocked(ctx, "acct-hot"); blocked {
			t.Error("account must be unblocked")
		}
	})

	t.Run("UnblockNotBlocked", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/accounts/acct-free/unblock", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Sweep", func(t *testing.T) {
		rr := postJSON(server, "/blocklist/sweep", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]int
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if _, ok := resp["released"]; !ok {
			t.Error("expected released count in response")
		}
	})
}

func TestAnalyticsEndpoint(t *testing.T) {
	server, _, _ := createTestServer(t)

	if rr := postJSON(server, "/transactions", evaluateBody("tx-a1", "acct-6", 50, domain.KindCard, "IN")); rr.Code != http.StatusOK {
		t.Fatalf("evaluation failed: %d", rr.Code)
	}
	if rr := postJSON(server, "/transactions", evaluateBody("tx-a2", "acct-7", 250000, domain.KindInternational, "NG")); rr.Code != http.StatusOK {
		t.Fatalf("evaluation failed: %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/analytics", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var report analytics.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to parse report: %v", err)
	}
	if report.TotalTransactions != 2 {
		t.Errorf("expected 2 transactions, got %d", report.TotalTransactions)
	}
	if report.FraudCount != 1 {
		t.Errorf("expected 1 fraud transaction, got %d", report.FraudCount)
	}
	if report.FraudRatePct != 50 {
		t.Errorf("expected 50%% fraud rate, got %.2f", report.FraudRatePct)
	}
}

func TestAuditEndpoint(t *testing.T) {
	server, repo, _ := createTestServer(t)

	_ = repo.SaveAuditEntry(context.Background(), &domain.AuditEntry{
		ID:          "audit-1",
		EntityType:  domain.EntityAccount,
		EntityID:    "acct-audit",
		Action:      domain.ActionBlocked,
		PerformedBy: domain.ActorSystem,
		EventTime:   time.Now().UTC(),
	})

	req := httptest.NewRequest(http.MethodGet, "/audit/acct-audit", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		EntityID string               `json:"entityId"`
		Entries  []*domain.AuditEntry `json:"entries"`
		Count    int                  `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Count != 1 || len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %+v", resp)
	}
	if resp.Entries[0].Action != domain.ActionBlocked {
		t.Errorf("unexpected entry: %+v", resp.Entries[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
