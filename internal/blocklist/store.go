// Package blocklist implements the account block state machine.
package blocklist

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AutoUnblockReason is recorded when a block expires.
const AutoUnblockReason = "auto-unblocked after timeout"

// Store holds per-account block records behind sharded locks. Records
// for different accounts live in independent shards and are updated
// concurrently without coordination; mutations to a single account are
// serialized by its shard lock. Records are transitioned, never deleted.
type Store struct {
	cfg    domain.BlockConfig
	shards []*shard

	// Optional collaborators. Write-through persistence and audit are
	// best effort; failures are logged and never block the gate.
	repo  domain.Repository
	audit domain.AuditSink
	bus   domain.EventBus

	now func() time.Time

	sweepOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type shard struct {
	mu      sync.Mutex
	records map[string]*domain.AccountBlockRecord
}

// NewStore creates a block store. repo, audit, and bus may be nil.
func NewStore(cfg domain.BlockConfig, repo domain.Repository, audit domain.AuditSink, bus domain.EventBus) *Store {
	def := domain.DefaultBlockConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{records: make(map[string]*domain.AccountBlockRecord)}
	}

	return &Store{
		cfg:    cfg,
		shards: shards,
		repo:   repo,
		audit:  audit,
		bus:    bus,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// WarmStart loads active block records from the repository so blocks
// survive a restart.
func (s *Store) WarmStart(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	records, err := s.repo.ListActiveBlockRecords(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		sh := s.shardFor(rec.AccountID)
		sh.mu.Lock()
		copied := *rec
		sh.records[rec.AccountID] = &copied
		sh.mu.Unlock()
	}

	if len(records) > 0 {
		slog.Info("block records loaded", "count", len(records))
	}
	return nil
}

// OnHighRiskEvent records a high-risk outcome for an account. The first
// event creates the record; subsequent events increment the attempt
// counter. Reaching the configured threshold transitions the record to
// an active block with expiry now + duration. Returns true when the
// account is blocked as a result of this event.
func (s *Store) OnHighRiskEvent(ctx context.Context, accountID string, reasons []string) bool {
	now := s.now().UTC()
	sh := s.shardFor(accountID)

	sh.mu.Lock()
	rec, ok := sh.records[accountID]
	if !ok {
		rec = &domain.AccountBlockRecord{
			AccountID:      accountID,
			FirstAttemptAt: now,
			Reason:         "initial monitoring",
		}
		sh.records[accountID] = rec
	}

	rec.FailedAttempts++
	rec.UpdatedAt = now

	transitioned := false
	if !rec.Active && rec.FailedAttempts >= s.cfg.MaxAttempts {
		rec.Active = true
		rec.BlockedUntil = now.Add(s.cfg.Duration)
		rec.Reason = strings.Join(reasons, ", ")
		transitioned = true
	}
	snapshot := *rec
	sh.mu.Unlock()

	if transitioned {
		slog.Warn("account blocked",
			"account_id", accountID,
			"attempts", snapshot.FailedAttempts,
			"blocked_until", snapshot.BlockedUntil,
			"reason", snapshot.Reason,
		)
		if s.audit != nil {
			s.audit.Record(ctx, domain.EntityAccount, accountID, domain.ActionBlocked,
				domain.ActorSystem, "account blocked due to: "+snapshot.Reason)
		}
		s.publish(ctx, domain.TopicAccountBlocked, accountID)
	}

	s.persist(ctx, &snapshot)
	return snapshot.Blocked(now)
}

// IsBlocked reports whether the account is currently blocked, returning
// the record snapshot when it is. Expiry is checked lazily so no caller
// observes a stale block past its expiry.
func (s *Store) IsBlocked(ctx context.Context, accountID string) (domain.AccountBlockRecord, bool) {
	now := s.now().UTC()
	sh := s.shardFor(accountID)

	sh.mu.Lock()
	rec, ok := sh.records[accountID]
	if !ok {
		sh.mu.Unlock()
		return domain.AccountBlockRecord{}, false
	}

	if rec.Active && !now.Before(rec.BlockedUntil) {
		s.expireLocked(rec, now)
		snapshot := *rec
		sh.mu.Unlock()
		s.onUnblocked(ctx, &snapshot)
		return domain.AccountBlockRecord{}, false
	}

	snapshot := *rec
	sh.mu.Unlock()
	return snapshot, snapshot.Blocked(now)
}

// SweepExpired transitions every expired active block back to unblocked,
// resetting the attempt counter. Safe to run concurrently with IsBlocked
// checks: callers observe either pre- or post-sweep state.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) int {
	now = now.UTC()
	var expired []domain.AccountBlockRecord

	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			if rec.Active && !now.Before(rec.BlockedUntil) {
				s.expireLocked(rec, now)
				expired = append(expired, *rec)
			}
		}
		sh.mu.Unlock()
	}

	for i := range expired {
		s.onUnblocked(ctx, &expired[i])
	}

	return len(expired)
}

// Start launches the background sweeper. Stop with Stop.
func (s *Store) Start() {
	s.sweepOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(s.cfg.SweepInterval)
			defer ticker.Stop()

			for {
				select {
				case <-s.stopCh:
					return
				case <-ticker.C:
					if n := s.SweepExpired(context.Background(), s.now()); n > 0 {
						slog.Info("expired blocks swept", "count", n)
					}
				}
			}
		}()
	})
}

// Stop halts the background sweeper.
func (s *Store) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Record returns a snapshot of an account's block record, if one exists.
func (s *Store) Record(accountID string) (domain.AccountBlockRecord, bool) {
	sh := s.shardFor(accountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[accountID]
	if !ok {
		return domain.AccountBlockRecord{}, false
	}
	return *rec, true
}

// Unblock clears an active block immediately (admin operation).
func (s *Store) Unblock(ctx context.Context, accountID string) bool {
	now := s.now().UTC()
	sh := s.shardFor(accountID)

	sh.mu.Lock()
	rec, ok := sh.records[accountID]
	if !ok || !rec.Active {
		sh.mu.Unlock()
		return false
	}
	s.expireLocked(rec, now)
	rec.Reason = "manually unblocked"
	snapshot := *rec
	sh.mu.Unlock()

	s.onUnblocked(ctx, &snapshot)
	return true
}

// expireLocked transitions a record to unblocked. Caller holds the shard lock.
func (s *Store) expireLocked(rec *domain.AccountBlockRecord, now time.Time) {
	rec.Active = false
	rec.FailedAttempts = 0
	rec.Reason = AutoUnblockReason
	rec.UpdatedAt = now
}

func (s *Store) onUnblocked(ctx context.Context, snapshot *domain.AccountBlockRecord) {
	slog.Info("account unblocked", "account_id", snapshot.AccountID, "reason", snapshot.Reason)
	if s.audit != nil {
		s.audit.Record(ctx, domain.EntityAccount, snapshot.AccountID, domain.ActionUnblocked,
			domain.ActorSystem, snapshot.Reason)
	}
	s.publish(ctx, domain.TopicAccountUnblocked, snapshot.AccountID)
	s.persist(ctx, snapshot)
}

func (s *Store) persist(ctx context.Context, rec *domain.AccountBlockRecord) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveBlockRecord(ctx, rec); err != nil {
		slog.Error("failed to persist block record",
			"account_id", rec.AccountID,
			"error", err,
		)
	}
}

func (s *Store) publish(ctx context.Context, topic, accountID string) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, []byte(accountID)); err != nil {
		slog.Error("failed to publish block event",
			"topic", topic,
			"account_id", accountID,
			"error", err,
		)
	}
}

func (s *Store) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return s.shards[int(h.Sum32())%len(s.shards)]
}
