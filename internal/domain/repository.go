// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ExistsByTransactionID(ctx context.Context, txID string) (bool, error)

	// History lookups used to populate scoring covariates
	CountRecentByAccount(ctx context.Context, accountID string, since time.Time) (int64, error)
	AverageAmountByAccount(ctx context.Context, accountID string) (float64, error)
	LastTransactionByAccount(ctx context.Context, accountID string) (*Transaction, error)

	// Account block records (write-through from the block store)
	SaveBlockRecord(ctx context.Context, rec *AccountBlockRecord) error
	ListActiveBlockRecords(ctx context.Context) ([]*AccountBlockRecord, error)

	// Audit trail
	SaveAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, entityID string, limit int) ([]*AuditEntry, error)

	// Analytics aggregates
	CountTransactions(ctx context.Context) (int64, error)
	CountByRiskLevel(ctx context.Context, level RiskLevel) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
	FraudSummary(ctx context.Context) (count int64, avgScore float64, err error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
