package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func sampleTransaction(id, accountID string, amount float64, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:           id,
		AccountID:    accountID,
		CustomerName: "Asha Rao",
		Amount:       amount,
		Currency:     "INR",
		Kind:         domain.KindCard,
		Country:      "IN",
		City:         "Mumbai",
		Timestamp:    ts,
		CreatedAt:    ts,

		RuleScore:     12,
		AdvisoryScore: 5,
		FinalScore:    0,
		RiskLevel:     domain.RiskLow,
		Origin:        domain.OriginDefault,
		Status:        domain.StatusApproved,
		Reason:        "no risk signal exceeded thresholds",
		ProcessingMs:  3,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := sampleTransaction("tx-001", "acct-001", 1000, now)
		tx.RiskLevel = domain.RiskHigh
		tx.Fraud = true
		tx.Origin = domain.OriginRule
		tx.Status = domain.StatusBlocked
		tx.Triggers = []string{"AMOUNT_TIER", "KIND_RISK"}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID || retrieved.AccountID != tx.AccountID {
			t.Errorf("identity mismatch: %+v", retrieved)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.RiskLevel != domain.RiskHigh || !retrieved.Fraud {
			t.Errorf("decision fields lost: %+v", retrieved)
		}
		if len(retrieved.Triggers) != 2 || retrieved.Triggers[0] != "AMOUNT_TIER" {
			t.Errorf("triggers lost: %v", retrieved.Triggers)
		}
	})

	t.Run("GetMissingTransaction", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "no-such-tx")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ExistsByTransactionID", func(t *testing.T) {
		exists, err := repo.ExistsByTransactionID(ctx, "tx-001")
		if err != nil {
			t.Fatalf("ExistsByTransactionID failed: %v", err)
		}
		if !exists {
			t.Error("tx-001 should exist")
		}

		exists, err = repo.ExistsByTransactionID(ctx, "tx-ghost")
		if err != nil {
			t.Fatalf("ExistsByTransactionID failed: %v", err)
		}
		if exists {
			t.Error("tx-ghost should not exist")
		}
	})

	t.Run("CountRecentByAccount", func(t *testing.T) {
		for i, offset := range []time.Duration{-10 * time.Minute, -30 * time.Minute, -2 * time.Hour} {
			tx := sampleTransaction("tx-recent-"+string(rune('a'+i)), "acct-velocity", 100, now.Add(offset))
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		count, err := repo.CountRecentByAccount(ctx, "acct-velocity", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountRecentByAccount failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 transactions inside the window, got %d", count)
		}
	})

	t.Run("AverageAmountByAccount", func(t *testing.T) {
		for i, amount := range []float64{100, 300} {
			tx := sampleTransaction("tx-avg-"+string(rune('a'+i)), "acct-avg", amount, now)
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		avg, err := repo.AverageAmountByAccount(ctx, "acct-avg")
		if err != nil {
			t.Fatalf("AverageAmountByAccount failed: %v", err)
		}
		if avg != 200 {
			t.Errorf("expected average 200, got %.2f", avg)
		}

		// No history means zero, not an error.
		avg, err = repo.AverageAmountByAccount(ctx, "acct-empty")
		if err != nil {
			t.Fatalf("AverageAmountByAccount failed: %v", err)
		}
		if avg != 0 {
			t.Errorf("expected 0 for empty account, got %.2f", avg)
		}
	})

	t.Run("LastTransactionByAccount", func(t *testing.T) {
		older := sampleTransaction("tx-last-a", "acct-last", 100, now.Add(-time.Hour))
		newer := sampleTransaction("tx-last-b", "acct-last", 200, now)
		newer.Country = "NG"

		if err := repo.SaveTransaction(ctx, older); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		if err := repo.SaveTransaction(ctx, newer); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		last, err := repo.LastTransactionByAccount(ctx, "acct-last")
		if err != nil {
			t.Fatalf("LastTransactionByAccount failed: %v", err)
		}
		if last == nil || last.ID != "tx-last-b" {
			t.Errorf("expected tx-last-b, got %+v", last)
		}

		last, err = repo.LastTransactionByAccount(ctx, "acct-none")
		if err != nil {
			t.Fatalf("LastTransactionByAccount failed: %v", err)
		}
		if last != nil {
			t.Errorf("expected nil for unknown account, got %+v", last)
		}
	})

	t.Run("BlockRecordUpsert", func(t *testing.T) {
		rec := &domain.AccountBlockRecord{
			AccountID:      "acct-blocked",
			FailedAttempts: 1,
			FirstAttemptAt: now,
			UpdatedAt:      now,
			BlockedUntil:   now,
			Reason:         "initial monitoring",
		}
		if err := repo.SaveBlockRecord(ctx, rec); err != nil {
			t.Fatalf("SaveBlockRecord failed: %v", err)
		}

		rec.FailedAttempts = 3
		rec.Active = true
		rec.BlockedUntil = now.Add(24 * time.Hour)
		rec.Reason = "velocity, amount"
		if err := repo.SaveBlockRecord(ctx, rec); err != nil {
			t.Fatalf("SaveBlockRecord upsert failed: %v", err)
		}

		active, err := repo.ListActiveBlockRecords(ctx)
		if err != nil {
			t.Fatalf("ListActiveBlockRecords failed: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("expected 1 active record, got %d", len(active))
		}
		got := active[0]
		if got.AccountID != "acct-blocked" || got.FailedAttempts != 3 || !got.Active {
			t.Errorf("unexpected record: %+v", got)
		}

		// Deactivation removes it from the active listing.
		rec.Active = false
		if err := repo.SaveBlockRecord(ctx, rec); err != nil {
			t.Fatalf("SaveBlockRecord failed: %v", err)
		}
		active, err = repo.ListActiveBlockRecords(ctx)
		if err != nil {
			t.Fatalf("ListActiveBlockRecords failed: %v", err)
		}
		if len(active) != 0 {
			t.Errorf("expected no active records, got %d", len(active))
		}
	})

	t.Run("AuditTrail", func(t *testing.T) {
		entries := []*domain.AuditEntry{
			{ID: "audit-1", EntityType: domain.EntityAccount, EntityID: "acct-audit", Action: domain.ActionBlocked, PerformedBy: domain.ActorSystem, EventTime: now},
			{ID: "audit-2", EntityType: domain.EntityAccount, EntityID: "acct-audit", Action: domain.ActionUnblocked, PerformedBy: domain.ActorSystem, EventTime: now.Add(time.Hour)},
		}
		for _, e := range entries {
			if err := repo.SaveAuditEntry(ctx, e); err != nil {
				t.Fatalf("SaveAuditEntry failed: %v", err)
			}
		}

		listed, err := repo.ListAuditEntries(ctx, "acct-audit", 10)
		if err != nil {
			t.Fatalf("ListAuditEntries failed: %v", err)
		}
		if len(listed) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(listed))
		}
		// Most recent first.
		if listed[0].Action != domain.ActionUnblocked {
			t.Errorf("expected newest entry first, got %s", listed[0].Action)
		}
	})

	t.Run("AggregateCounts", func(t *testing.T) {
		fraud := sampleTransaction("tx-fraud", "acct-stats", 90000, now)
		fraud.RiskLevel = domain.RiskHigh
		fraud.Fraud = true
		fraud.FinalScore = 80
		fraud.Status = domain.StatusBlocked
		if err := repo.SaveTransaction(ctx, fraud); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		total, err := repo.CountTransactions(ctx)
		if err != nil {
			t.Fatalf("CountTransactions failed: %v", err)
		}
		if total == 0 {
			t.Error("expected transactions to be counted")
		}

		high, err := repo.CountByRiskLevel(ctx, domain.RiskHigh)
		if err != nil {
			t.Fatalf("CountByRiskLevel failed: %v", err)
		}
		if high < 1 {
			t.Errorf("expected at least 1 HIGH transaction, got %d", high)
		}

		blocked, err := repo.CountByStatus(ctx, domain.StatusBlocked)
		if err != nil {
			t.Fatalf("CountByStatus failed: %v", err)
		}
		if blocked < 1 {
			t.Errorf("expected at least 1 BLOCKED transaction, got %d", blocked)
		}

		count, avg, err := repo.FraudSummary(ctx)
		if err != nil {
			t.Fatalf("FraudSummary failed: %v", err)
		}
		if count < 1 {
			t.Errorf("expected at least 1 fraud transaction, got %d", count)
		}
		if avg <= 0 {
			t.Errorf("expected positive average fraud score, got %.2f", avg)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveTransaction(ctx, &domain.Transaction{}); err == nil {
			t.Error("expected error for transaction without ID")
		}
		if _, err := repo.CountRecentByAccount(ctx, "", now); err == nil {
			t.Error("expected error for empty accountID")
		}
	})
}

func TestRebind(t *testing.T) {
	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("SELECT ? , ?"); got != "SELECT ? , ?" {
		t.Errorf("sqlite queries must pass through, got %q", got)
	}

	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("INSERT INTO t (a, b) VALUES (?, ?)"); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("unexpected rebind output: %q", got)
	}
}
