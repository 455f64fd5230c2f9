package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Ledger table schema:
// CREATE TABLE pgvolve_migrations (
//     version     BIGINT PRIMARY KEY,
//     filename    TEXT NOT NULL,
//     checksum    VARCHAR(64),
//     executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
// )

// LedgerTableName is the name of the applied-versions tracking table.
// Application code must never write to it directly.
const LedgerTableName = "pgvolve_migrations"

// LedgerEntry records one successfully applied migration. Presence of a
// version in the ledger means all of its statements committed.
type LedgerEntry struct {
	Version    int
	Filename   string
	Checksum   string
	ExecutedAt time.Time
}

// Querier is the subset of database handles ledger writes operate on.
// Both *sql.DB and *sql.Tx satisfy it; the executor passes the migration's
// own transaction so a rolled-back migration never leaves a ledger row.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LedgerStore is the applied-versions bookkeeping abstraction injected into
// the Executor. The SQL-backed implementation below is the production store;
// tests may substitute their own.
type LedgerStore interface {
	// EnsureTable creates the tracking table if absent. Idempotent, and
	// required before any other ledger operation.
	EnsureTable(ctx context.Context) error

	// Applied returns every recorded entry keyed by version.
	Applied(ctx context.Context) (map[int]LedgerEntry, error)

	// RecordApplied inserts an entry through q, normally the transaction
	// that executed the migration's statements.
	RecordApplied(ctx context.Context, q Querier, entry LedgerEntry) error

	// RecordRollback deletes the entry for a version through q.
	RecordRollback(ctx context.Context, q Querier, version int) error

	// Wipe deletes every ledger row. Used only by rollback testing.
	Wipe(ctx context.Context) error
}

// SQLLedger is the LedgerStore implementation backed by the target database.
type SQLLedger struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// NewSQLLedger creates a ledger store over db.
// Returns nil if db or d is nil.
func NewSQLLedger(db *sql.DB, d dialect.Dialect) *SQLLedger {
	if db == nil || d == nil {
		return nil
	}
	return &SQLLedger{db: db, dialect: d}
}

// EnsureTable creates the ledger table if it doesn't exist.
func (l *SQLLedger) EnsureTable(ctx context.Context) error {
	ddl := l.createTableSQL()
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to create ledger table").
			WithSQL(ddl)
	}
	return nil
}

// createTableSQL returns the CREATE TABLE statement for the ledger table.
func (l *SQLLedger) createTableSQL() string {
	quotedTable := l.dialect.QuoteIdent(LedgerTableName)

	switch l.dialect.Name() {
	case "sqlite":
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version     INTEGER PRIMARY KEY,
    filename    TEXT NOT NULL,
    checksum    TEXT,
    executed_at TEXT NOT NULL DEFAULT (datetime('now'))
)`, quotedTable)

	default:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    version     BIGINT PRIMARY KEY,
    filename    TEXT NOT NULL,
    checksum    VARCHAR(64),
    executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, quotedTable)
	}
}

// Applied returns all recorded entries keyed by version.
func (l *SQLLedger) Applied(ctx context.Context) (map[int]LedgerEntry, error) {
	quotedTable := l.dialect.QuoteIdent(LedgerTableName)
	query := fmt.Sprintf(
		"SELECT version, filename, checksum, executed_at FROM %s ORDER BY version ASC",
		quotedTable,
	)

	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrSQLExecution, err, "failed to query applied migrations").
			WithSQL(query)
	}
	defer rows.Close()

	entries := make(map[int]LedgerEntry)
	for rows.Next() {
		var e LedgerEntry
		var checksum sql.NullString
		var executedAt any

		if err := rows.Scan(&e.Version, &e.Filename, &checksum, &executedAt); err != nil {
			return nil, pverr.Wrap(pverr.ErrSQLExecution, err, "failed to scan ledger row")
		}

		if checksum.Valid {
			e.Checksum = checksum.String
		}
		e.ExecutedAt = parseExecutedAt(executedAt)

		entries[e.Version] = e
	}

	if err := rows.Err(); err != nil {
		return nil, pverr.Wrap(pverr.ErrSQLExecution, err, "error iterating ledger rows")
	}

	return entries, nil
}

// parseExecutedAt converts the database timestamp to time.Time.
func parseExecutedAt(val any) time.Time {
	switch t := val.(type) {
	case time.Time:
		return t
	case string:
		// SQLite stores timestamps as strings
		formats := []string{
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02T15:04:05Z",
			"2006-01-02T15:04:05",
		}
		for _, format := range formats {
			if parsed, err := time.Parse(format, t); err == nil {
				return parsed
			}
		}
		return time.Now()
	case []byte:
		return parseExecutedAt(string(t))
	default:
		return time.Now()
	}
}

// RecordApplied inserts a ledger entry through q. The executor passes the
// migration's own transaction here so the insert commits or rolls back
// together with the migration's statements.
func (l *SQLLedger) RecordApplied(ctx context.Context, q Querier, entry LedgerEntry) error {
	quotedTable := l.dialect.QuoteIdent(LedgerTableName)
	query := fmt.Sprintf(
		"INSERT INTO %s (version, filename, checksum) VALUES (%s, %s, %s)",
		quotedTable,
		l.dialect.Placeholder(1),
		l.dialect.Placeholder(2),
		l.dialect.Placeholder(3),
	)

	if _, err := q.ExecContext(ctx, query, entry.Version, entry.Filename, entry.Checksum); err != nil {
		return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to record applied migration").
			WithVersion(entry.Version).
			WithSQL(query)
	}
	return nil
}

// RecordRollback removes a ledger entry through q (used during rollback).
func (l *SQLLedger) RecordRollback(ctx context.Context, q Querier, version int) error {
	quotedTable := l.dialect.QuoteIdent(LedgerTableName)
	query := fmt.Sprintf("DELETE FROM %s WHERE version = %s", quotedTable, l.dialect.Placeholder(1))

	result, err := q.ExecContext(ctx, query, version)
	if err != nil {
		return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to remove ledger entry").
			WithVersion(version).
			WithSQL(query)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to get rows affected")
	}
	if affected == 0 {
		return pverr.New(pverr.ErrMigrationNotFound, "version not found in ledger").
			WithVersion(version)
	}

	return nil
}

// Wipe deletes every ledger row. Part of the rollback-testing path only.
func (l *SQLLedger) Wipe(ctx context.Context) error {
	quotedTable := l.dialect.QuoteIdent(LedgerTableName)
	query := fmt.Sprintf("DELETE FROM %s", quotedTable)

	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to wipe ledger").
			WithSQL(query)
	}
	return nil
}
