package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
	"github.com/pgvolve/pgvolve/internal/splitter"
)

// State is the per-migration execution state.
// Transitions: Pending -> Running -> {Applied | Failed}; a migration whose
// version is already in the ledger moves straight to Skipped.
type State int

const (
	Pending State = iota
	Running
	Applied
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result reports what happened to one migration during a run.
type Result struct {
	Version    int
	Filename   string
	State      State
	Statements int // statements executed (0 for skipped migrations)
	Tolerated  int // statements that failed with a tolerable SQLSTATE
	Duration   time.Duration
}

// Executor applies migrations in ascending version order, each inside its
// own transaction, recording ledger entries on success. The engine is
// purely sequential: one migration at a time, one statement at a time.
type Executor struct {
	db      *sql.DB
	dialect dialect.Dialect
	ledger  LedgerStore
}

// NewExecutor creates a migration executor.
// Returns nil if any dependency is nil.
func NewExecutor(db *sql.DB, d dialect.Dialect, ledger LedgerStore) *Executor {
	if db == nil || d == nil || ledger == nil {
		return nil
	}
	return &Executor{db: db, dialect: d, ledger: ledger}
}

// Ledger returns the injected ledger store for direct access.
func (e *Executor) Ledger() LedgerStore {
	return e.ledger
}

// Up applies every pending migration in ascending version order.
//
// Already-applied versions are skipped without side effects (their content
// is never read). On a fatal statement error the current transaction rolls
// back, no ledger entry persists for that version, and the run stops with
// ErrMigrationFailed. Results for every migration reached are returned even
// when the run fails.
func (e *Executor) Up(ctx context.Context, files []*MigrationFile) ([]Result, error) {
	if err := e.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := e.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(files))
	for _, m := range files {
		if _, ok := applied[m.Version]; ok {
			slog.Debug("skipping applied migration", "version", m.Version, "filename", m.Filename)
			results = append(results, Result{Version: m.Version, Filename: m.Filename, State: Skipped})
			continue
		}

		res, err := e.runOne(ctx, m)
		results = append(results, res)
		if err != nil {
			return results, pverr.Wrap(pverr.ErrMigrationFailed, err, "migration failed").
				WithVersion(m.Version).
				WithFilename(m.Filename)
		}
	}

	return results, nil
}

// runOne executes a single migration inside its own transaction.
// The ledger insert happens in the same transaction as the statements:
// "ledger contains version V" holds exactly when all of V's statements
// committed.
func (e *Executor) runOne(ctx context.Context, m *MigrationFile) (Result, error) {
	start := time.Now()
	res := Result{Version: m.Version, Filename: m.Filename, State: Running}

	content, err := m.Load()
	if err != nil {
		res.State = Failed
		return res, err
	}
	checksum, err := m.Checksum()
	if err != nil {
		res.State = Failed
		return res, err
	}

	statements := splitter.Split(content)
	slog.Info("applying migration",
		"version", m.Version,
		"filename", m.Filename,
		"statements", len(statements))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		res.State = Failed
		return res, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		tolerated, err := e.execStatement(ctx, tx, i, stmt)
		res.Statements++
		if tolerated {
			res.Tolerated++
			continue
		}
		if err != nil {
			res.State = Failed
			return res, err
		}
	}

	entry := LedgerEntry{Version: m.Version, Filename: m.Filename, Checksum: checksum}
	if err := e.ledger.RecordApplied(ctx, tx, entry); err != nil {
		res.State = Failed
		return res, err
	}

	if err := tx.Commit(); err != nil {
		res.State = Failed
		return res, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to commit transaction")
	}
	committed = true

	res.State = Applied
	res.Duration = time.Since(start)
	return res, nil
}

// execStatement runs one statement under a savepoint so a tolerable failure
// can be rolled back without aborting the enclosing transaction (Postgres
// poisons the whole transaction after any error otherwise).
//
// Returns (true, nil) when the statement failed tolerably, (false, nil) on
// success, and (false, err) on a fatal error.
func (e *Executor) execStatement(ctx context.Context, tx *sql.Tx, index int, stmt string) (bool, error) {
	sp := fmt.Sprintf("pgvolve_sp_%d", index)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return false, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to create savepoint")
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		state := SQLState(err)
		if Classify(err) == Tolerable {
			slog.Warn("tolerable statement error, continuing",
				"sqlstate", state,
				"condition", ConditionName(state),
				"error", err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return false, pverr.Wrap(pverr.ErrSQLTransaction, rbErr, "failed to roll back to savepoint")
			}
			return true, nil
		}
		return false, pverr.Wrap(pverr.ErrSQLExecution, err, "failed to execute statement").
			WithSQLState(state).
			WithSQL(stmt)
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		return false, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to release savepoint")
	}
	return false, nil
}

// Down rolls back the most recent `steps` applied migrations using their
// paired down scripts, most recent first. Each rollback runs in its own
// transaction and deletes the ledger entry in that same transaction.
//
// A migration without a down script fails with ErrNoRollback; a ledger
// version with no matching file fails with ErrMigrationNotFound.
func (e *Executor) Down(ctx context.Context, files []*MigrationFile, steps int) ([]Result, error) {
	if steps <= 0 {
		return nil, nil
	}

	applied, err := e.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return nil, nil
	}

	byVersion := make(map[int]*MigrationFile, len(files))
	for _, m := range files {
		byVersion[m.Version] = m
	}

	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	if steps < len(versions) {
		versions = versions[:steps]
	}

	var results []Result
	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return results, pverr.New(pverr.ErrMigrationNotFound, "migration file not found for applied version").
				WithVersion(v)
		}

		res, err := e.rollbackOne(ctx, m)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

// rollbackOne executes a migration's down script in a transaction and
// removes its ledger entry in that same transaction.
func (e *Executor) rollbackOne(ctx context.Context, m *MigrationFile) (Result, error) {
	start := time.Now()
	res := Result{Version: m.Version, Filename: m.Filename, State: Running}

	content, err := m.LoadDown()
	if err != nil {
		res.State = Failed
		return res, err
	}

	statements := splitter.Split(content)
	slog.Info("rolling back migration",
		"version", m.Version,
		"filename", m.Filename,
		"statements", len(statements))

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		res.State = Failed
		return res, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to begin transaction")
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for i, stmt := range statements {
		tolerated, err := e.execStatement(ctx, tx, i, stmt)
		res.Statements++
		if tolerated {
			res.Tolerated++
			continue
		}
		if err != nil {
			res.State = Failed
			return res, pverr.Wrap(pverr.ErrMigrationFailed, err, "rollback failed").
				WithVersion(m.Version).
				WithFilename(m.Filename)
		}
	}

	if err := e.ledger.RecordRollback(ctx, tx, m.Version); err != nil {
		res.State = Failed
		return res, err
	}

	if err := tx.Commit(); err != nil {
		res.State = Failed
		return res, pverr.Wrap(pverr.ErrSQLTransaction, err, "failed to commit transaction")
	}
	committed = true

	res.State = Applied
	res.Duration = time.Since(start)
	return res, nil
}

// DryRun returns the statements each pending migration would execute,
// keyed by version, without touching the database beyond the ledger read.
func (e *Executor) DryRun(ctx context.Context, files []*MigrationFile) (map[int][]string, error) {
	if err := e.ledger.EnsureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := e.ledger.Applied(ctx)
	if err != nil {
		return nil, err
	}

	pending := make(map[int][]string)
	for _, m := range files {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		content, err := m.Load()
		if err != nil {
			return nil, err
		}
		pending[m.Version] = splitter.Split(content)
	}

	return pending, nil
}
