package repository

import (
	"context"
	"fmt"
	"strings"
)

// Money columns are TEXT on SQLite so decimal strings round-trip exactly;
// NUMERIC affinity would coerce them to floating point.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS obligations (
    id TEXT PRIMARY KEY,
    original_value TEXT NOT NULL,
    outstanding_balance TEXT NOT NULL,
    status TEXT NOT NULL,
    due_date TEXT NOT NULL,
    linkage_note TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    obligation_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    method TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    FOREIGN KEY (obligation_id) REFERENCES obligations(id)
);

CREATE INDEX IF NOT EXISTS idx_obligations_due_date ON obligations(due_date);
CREATE INDEX IF NOT EXISTS idx_obligations_status ON obligations(status);
CREATE INDEX IF NOT EXISTS idx_receipts_obligation_id ON receipts(obligation_id);
CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts(created_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS obligations (
    id TEXT PRIMARY KEY,
    original_value NUMERIC(14,2) NOT NULL CHECK (original_value > 0),
    outstanding_balance NUMERIC(14,2) NOT NULL CHECK (outstanding_balance >= 0 AND outstanding_balance <= original_value),
    status TEXT NOT NULL,
    due_date DATE NOT NULL,
    linkage_note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    obligation_id TEXT NOT NULL REFERENCES obligations(id),
    amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    method TEXT NOT NULL,
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_obligations_due_date ON obligations(due_date);
CREATE INDEX IF NOT EXISTS idx_obligations_status ON obligations(status);
CREATE INDEX IF NOT EXISTS idx_receipts_obligation_id ON receipts(obligation_id);
CREATE INDEX IF NOT EXISTS idx_receipts_created_at ON receipts(created_at);
`

// EnsureSchema creates the obligations and receipts tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == Postgres {
		schema = postgresSchema
	}

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
