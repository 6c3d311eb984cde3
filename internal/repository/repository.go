// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a decisioned transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	triggers, _ := json.Marshal(tx.Triggers)

	query := `
		INSERT INTO transactions (
			id, account_id, customer_name, amount, currency, kind,
			country, city, device_id, ip_address, timestamp, created_at,
			rule_score, advisory_score, final_score, risk_level, fraud,
			origin, status, reason, triggers, processing_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.CustomerName,
		tx.Amount, tx.Currency, string(tx.Kind),
		tx.Country, tx.City, tx.DeviceID, tx.IPAddress,
		tx.Timestamp, tx.CreatedAt,
		tx.RuleScore, tx.AdvisoryScore, tx.FinalScore,
		string(tx.RiskLevel), boolToInt(tx.Fraud),
		tx.Origin, tx.Status, tx.Reason, string(triggers),
		tx.ProcessingMs,
	)
	return err
}

const transactionColumns = `
	id, account_id, customer_name, amount, currency, kind,
	country, city, device_id, ip_address, timestamp, created_at,
	rule_score, advisory_score, final_score, risk_level, fraud,
	origin, status, reason, triggers, processing_ms
`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var (
		tx       domain.Transaction
		kind     string
		level    string
		fraud    int
		triggers sql.NullString
	)

	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.CustomerName,
		&tx.Amount, &tx.Currency, &kind,
		&tx.Country, &tx.City, &tx.DeviceID, &tx.IPAddress,
		&tx.Timestamp, &tx.CreatedAt,
		&tx.RuleScore, &tx.AdvisoryScore, &tx.FinalScore,
		&level, &fraud,
		&tx.Origin, &tx.Status, &tx.Reason, &triggers,
		&tx.ProcessingMs,
	)
	if err != nil {
		return nil, err
	}

	tx.Kind = domain.TransactionKind(kind)
	tx.RiskLevel = domain.RiskLevel(level)
	tx.Fraud = fraud == 1
	if triggers.Valid && triggers.String != "" {
		json.Unmarshal([]byte(triggers.String), &tx.Triggers)
	}

	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ExistsByTransactionID reports whether a transaction ID has been seen.
func (r *SQLRepository) ExistsByTransactionID(ctx context.Context, txID string) (bool, error) {
	query := `SELECT COUNT(1) FROM transactions WHERE id = ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountRecentByAccount counts an account's transactions since the given time.
func (r *SQLRepository) CountRecentByAccount(ctx context.Context, accountID string, since time.Time) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM transactions WHERE account_id = ? AND timestamp >= ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), accountID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// AverageAmountByAccount returns the account's historical average amount.
// Zero when the account has no history.
func (r *SQLRepository) AverageAmountByAccount(ctx context.Context, accountID string) (float64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `SELECT COALESCE(AVG(amount), 0) FROM transactions WHERE account_id = ?`

	var avg float64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), accountID).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to average amounts: %w", err)
	}
	return avg, nil
}

// LastTransactionByAccount returns the account's most recent transaction,
// or nil without error when none exists.
func (r *SQLRepository) LastTransactionByAccount(ctx context.Context, accountID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions WHERE account_id = ?
		ORDER BY timestamp DESC LIMIT 1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// SaveBlockRecord upserts an account block record.
func (r *SQLRepository) SaveBlockRecord(ctx context.Context, rec *domain.AccountBlockRecord) error {
	if rec.AccountID == "" {
		return fmt.Errorf("%w: accountID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO blocked_accounts (
			account_id, failed_attempts, first_attempt_at, active, blocked_until, reason, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			failed_attempts = excluded.failed_attempts,
			active = excluded.active,
			blocked_until = excluded.blocked_until,
			reason = excluded.reason,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.AccountID, rec.FailedAttempts, rec.FirstAttemptAt,
		boolToInt(rec.Active), rec.BlockedUntil, rec.Reason, rec.UpdatedAt,
	)
	return err
}

// ListActiveBlockRecords returns all records with an active block.
func (r *SQLRepository) ListActiveBlockRecords(ctx context.Context) ([]*domain.AccountBlockRecord, error) {
	query := `
		SELECT account_id, failed_attempts, first_attempt_at, active, blocked_until, reason, updated_at
		FROM blocked_accounts
		WHERE active = 1
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AccountBlockRecord
	for rows.Next() {
		var rec domain.AccountBlockRecord
		var active int

		if err := rows.Scan(
			&rec.AccountID, &rec.FailedAttempts, &rec.FirstAttemptAt,
			&active, &rec.BlockedUntil, &rec.Reason, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rec.Active = active == 1
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveAuditEntry appends one audit record.
func (r *SQLRepository) SaveAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (
			id, entity_type, entity_id, action, performed_by, description, ip_address, event_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.PerformedBy, entry.Description, entry.IPAddress, entry.EventTime,
	)
	return err
}

// ListAuditEntries returns the most recent audit entries for an entity.
func (r *SQLRepository) ListAuditEntries(ctx context.Context, entityID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, entity_type, entity_id, action, performed_by, description, ip_address, event_time
		FROM audit_logs
		WHERE entity_id = ?
		ORDER BY event_time DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&e.PerformedBy, &e.Description, &e.IPAddress, &e.EventTime,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CountTransactions returns the total number of transactions.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count)
	return count, err
}

// CountByRiskLevel counts transactions at a risk level.
func (r *SQLRepository) CountByRiskLevel(ctx context.Context, level domain.RiskLevel) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE risk_level = ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), string(level)).Scan(&count)
	return count, err
}

// CountByStatus counts transactions with an approval status.
func (r *SQLRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE status = ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), status).Scan(&count)
	return count, err
}

// FraudSummary returns the fraud-flagged count and their average final score.
func (r *SQLRepository) FraudSummary(ctx context.Context) (int64, float64, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(final_score), 0) FROM transactions WHERE fraud = 1`

	var count int64
	var avg float64
	err := r.db.QueryRowContext(ctx, query).Scan(&count, &avg)
	return count, avg, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
