// Package history persists the migration ledger.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/preflightdb/preflight/migrate/registry"
	"github.com/preflightdb/preflight/migrate/version"
)

// Execer is the subset of database handles the ledger writes through. Both
// *sql.DB and *sql.Tx satisfy it; commit paths must pass the transaction
// carrying the migration's own effect so the ledger entry and the schema
// change commit atomically.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Manager reads and writes the preflight_migrations ledger table.
type Manager struct {
	db       *sql.DB
	provider string
}

// NewManager creates a ledger manager for the given provider
// (postgres, mysql or sqlite).
func NewManager(db *sql.DB, provider string) *Manager {
	return &Manager{db: db, provider: provider}
}

// InitTable creates the ledger table if it does not exist. Idempotent.
func (m *Manager) InitTable(ctx context.Context) error {
	ddl := m.createTableSQL()
	if ddl == "" {
		return fmt.Errorf("unsupported provider: %s", m.provider)
	}
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create ledger table: %w", err)
	}
	return nil
}

// ListApplied returns all ledger entries, oldest first.
func (m *Manager) ListApplied(ctx context.Context) ([]registry.LedgerEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT version, name, applied_at, execution_time_ms, checksum
		FROM preflight_migrations
		ORDER BY applied_at ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []registry.LedgerEntry
	for rows.Next() {
		var (
			raw      string
			entry    registry.LedgerEntry
			checksum sql.NullString
		)
		if err := rows.Scan(&raw, &entry.Name, &entry.AppliedAt, &entry.DurationMs, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		entry.Version, err = version.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger row %q: %w", raw, err)
		}
		if checksum.Valid {
			entry.Checksum = checksum.String
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// RecordApplied inserts a ledger entry through q.
func (m *Manager) RecordApplied(ctx context.Context, q Execer, entry registry.LedgerEntry) error {
	_, err := q.ExecContext(ctx, m.insertSQL(),
		entry.Version.String(),
		entry.Name,
		entry.AppliedAt,
		entry.DurationMs,
		entry.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", entry.Version, err)
	}
	return nil
}

// RecordRolledBack removes a version's ledger entry through q.
func (m *Manager) RecordRolledBack(ctx context.Context, q Execer, v version.Version) error {
	_, err := q.ExecContext(ctx, m.deleteSQL(), v.String())
	if err != nil {
		return fmt.Errorf("failed to record rollback of %s: %w", v, err)
	}
	return nil
}

// Checksum returns the hex SHA-256 of a migration script.
func Checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) createTableSQL() string {
	switch m.provider {
	case "postgresql", "postgres":
		return `
			CREATE TABLE IF NOT EXISTS preflight_migrations (
				version VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				checksum VARCHAR(64)
			)
		`
	case "mysql":
		return `
			CREATE TABLE IF NOT EXISTS preflight_migrations (
				version VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				checksum VARCHAR(64)
			)
		`
	case "sqlite":
		return `
			CREATE TABLE IF NOT EXISTS preflight_migrations (
				version TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				execution_time_ms INTEGER NOT NULL DEFAULT 0,
				checksum TEXT
			)
		`
	default:
		return ""
	}
}

func (m *Manager) insertSQL() string {
	switch m.provider {
	case "postgresql", "postgres":
		return `
			INSERT INTO preflight_migrations (version, name, applied_at, execution_time_ms, checksum)
			VALUES ($1, $2, $3, $4, $5)
		`
	default:
		return `
			INSERT INTO preflight_migrations (version, name, applied_at, execution_time_ms, checksum)
			VALUES (?, ?, ?, ?, ?)
		`
	}
}

func (m *Manager) deleteSQL() string {
	switch m.provider {
	case "postgresql", "postgres":
		return `DELETE FROM preflight_migrations WHERE version = $1`
	default:
		return `DELETE FROM preflight_migrations WHERE version = ?`
	}
}
