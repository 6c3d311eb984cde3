package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    customer_name TEXT,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    kind TEXT NOT NULL,
    country TEXT,
    city TEXT,
    device_id TEXT,
    ip_address TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    rule_score REAL NOT NULL DEFAULT 0,
    advisory_score REAL NOT NULL DEFAULT 0,
    final_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL,
    fraud INTEGER NOT NULL DEFAULT 0,
    origin TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    triggers TEXT,
    processing_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_risk ON transactions(risk_level);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const schemaBlockedAccounts = `
CREATE TABLE IF NOT EXISTS blocked_accounts (
    account_id TEXT PRIMARY KEY,
    failed_attempts INTEGER NOT NULL DEFAULT 0,
    first_attempt_at TIMESTAMP NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    blocked_until TIMESTAMP NOT NULL,
    reason TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocked_accounts_active ON blocked_accounts(active);
`

const schemaAuditLogs = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    action TEXT NOT NULL,
    performed_by TEXT NOT NULL,
    description TEXT,
    ip_address TEXT,
    event_time TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_time ON audit_logs(event_time);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaBlockedAccounts,
		schemaAuditLogs,
	}
}
