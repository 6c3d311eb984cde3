// Package audit provides the append-only audit trail recorder.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Recorder writes audit entries asynchronously. Recording is
// fire-and-forget from the engine's perspective: a full queue or a
// failed write is logged and dropped, never propagated to the caller.
type Recorder struct {
	repo    domain.Repository
	entries chan *domain.AuditEntry

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder creates a recorder draining into the repository.
func NewRecorder(repo domain.Repository, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	r := &Recorder{
		repo:    repo,
		entries: make(chan *domain.AuditEntry, bufferSize),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues one audit entry. Non-blocking.
func (r *Recorder) Record(ctx context.Context, entityType, entityID, action, actor, description string) {
	entry := &domain.AuditEntry{
		ID:          uuid.New().String(),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		PerformedBy: actor,
		Description: description,
		EventTime:   time.Now().UTC(),
	}

	select {
	case r.entries <- entry:
	default:
		slog.Warn("audit queue full, entry dropped",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
		)
	}
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.SaveAuditEntry(ctx, entry); err != nil {
			slog.Error("failed to persist audit entry",
				"entity_id", entry.EntityID,
				"action", entry.Action,
				"error", err,
			)
		}
		cancel()
	}
}

// Close flushes pending entries and stops the drain goroutine.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.entries)
	})
	r.wg.Wait()
}
