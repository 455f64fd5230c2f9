// Package harness runs the end-to-end migration verification cycle against
// an ephemeral database: provision, migrate up, validate, attempt teardown,
// and drop the database on every exit path.
package harness

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"

	"github.com/pgvolve/pgvolve/internal/baseschema"
	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/inspect"
	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// Phase is one step of the harness state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDbCreated
	PhaseConnected
	PhaseUpApplied
	PhaseValidated
	PhaseDownAttempted
	PhaseCleanedUp
	PhaseSuccess
	PhaseFailure
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseDbCreated:
		return "db_created"
	case PhaseConnected:
		return "connected"
	case PhaseUpApplied:
		return "up_applied"
	case PhaseValidated:
		return "validated"
	case PhaseDownAttempted:
		return "down_attempted"
	case PhaseCleanedUp:
		return "cleaned_up"
	case PhaseSuccess:
		return "success"
	case PhaseFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Config assembles everything one harness run needs.
type Config struct {
	Provisioner   Provisioner
	Dialect       dialect.Dialect
	MigrationsDir string

	// BaseSchema, when set, is rendered and applied as pass one, before
	// the incremental migrations.
	BaseSchema *baseschema.Schema

	// Expectation, when set, is validated after migrations run.
	Expectation *inspect.SchemaExpectation

	// DropPlan drives the coarse teardown attempt.
	DropPlan migrate.DropPlan
}

// Report is the outcome of one harness run.
type Report struct {
	Phase            Phase   // terminal phase: PhaseSuccess or PhaseFailure
	Trace            []Phase // every phase reached, in order
	Results          []migrate.Result
	Validation       *inspect.ValidationReport
	TeardownWarnings []string
	RemainingTables  []string // tables surviving the teardown attempt
	Err              error    // the failure, when Phase is PhaseFailure
	CleanupErr       error    // logged, never escalated
}

// Harness drives the verification state machine.
type Harness struct {
	cfg Config
}

// New creates a harness. Returns nil if the provisioner or dialect is missing.
func New(cfg Config) *Harness {
	if cfg.Provisioner == nil || cfg.Dialect == nil {
		return nil
	}
	return &Harness{cfg: cfg}
}

// Run executes the full cycle. The ephemeral database is dropped on every
// exit path; a cleanup failure is recorded on the report and logged, but
// never masks the primary result.
func (h *Harness) Run(ctx context.Context) *Report {
	report := &Report{}
	reach := func(p Phase) {
		report.Trace = append(report.Trace, p)
		slog.Info("harness phase", "phase", p.String())
	}
	reach(PhaseInit)

	fail := func(err error) *Report {
		report.Phase = PhaseFailure
		report.Err = err
		return report
	}

	// Cleanup must run even when provisioning itself failed partway.
	defer func() {
		if err := h.cfg.Provisioner.Drop(ctx); err != nil {
			report.CleanupErr = pverr.Wrap(pverr.ErrCleanup, err, "failed to drop ephemeral database")
			slog.Error("cleanup failed", "error", report.CleanupErr)
		}
		reach(PhaseCleanedUp)
		if report.Phase != PhaseFailure {
			report.Phase = PhaseSuccess
			reach(PhaseSuccess)
		} else {
			reach(PhaseFailure)
		}
	}()

	if err := h.cfg.Provisioner.Create(ctx); err != nil {
		return fail(err)
	}
	reach(PhaseDbCreated)

	db, err := h.cfg.Provisioner.Connect(ctx)
	if err != nil {
		return fail(err)
	}
	defer db.Close()
	reach(PhaseConnected)

	ledger := migrate.NewSQLLedger(db, h.cfg.Dialect)
	exec := migrate.NewExecutor(db, h.cfg.Dialect, ledger)

	// Pass one: base schema from declarative definitions.
	if h.cfg.BaseSchema != nil {
		if err := h.applyBaseSchema(ctx, db); err != nil {
			return fail(err)
		}
	}

	// Pass two: every discovered migration, fresh database so nothing
	// is skipped.
	files, err := migrate.LoadDir(h.cfg.MigrationsDir)
	if err != nil {
		return fail(err)
	}
	report.Results, err = exec.Up(ctx, files)
	if err != nil {
		return fail(err)
	}
	reach(PhaseUpApplied)

	if h.cfg.Expectation != nil {
		insp := inspect.NewInspector(db, h.cfg.Dialect)
		snap, err := insp.Snapshot(ctx)
		if err != nil {
			return fail(err)
		}
		report.Validation, err = inspect.Validate(snap, h.cfg.Expectation)
		if err != nil {
			return fail(err)
		}
		if !report.Validation.Passed() {
			return fail(pverr.New(pverr.ErrMissingTable, "schema validation failed").
				With("missing", len(report.Validation.Missing)))
		}
	}
	reach(PhaseValidated)

	// Best-effort teardown: validates that clean removal is possible.
	report.TeardownWarnings, err = exec.Teardown(ctx, h.cfg.DropPlan)
	if err != nil {
		return fail(err)
	}
	report.RemainingTables, err = h.remainingTables(ctx, db)
	if err != nil {
		return fail(err)
	}
	if len(report.RemainingTables) > 0 {
		slog.Warn("tables remain after teardown", "tables", report.RemainingTables)
	}
	reach(PhaseDownAttempted)

	return report
}

// applyBaseSchema renders and executes the declarative table definitions
// in autocommit mode.
func (h *Harness) applyBaseSchema(ctx context.Context, db *sql.DB) error {
	statements, err := h.cfg.BaseSchema.Render(h.cfg.Dialect)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return pverr.Wrap(pverr.ErrSQLExecution, err, "failed to apply base schema").
				WithSQL(stmt)
		}
	}
	return nil
}

// remainingTables lists user tables that survived the teardown attempt,
// ignoring the ledger's own table.
func (h *Harness) remainingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	insp := inspect.NewInspector(db, h.cfg.Dialect)
	snap, err := insp.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var remaining []string
	for name := range snap.Tables {
		if name == migrate.LedgerTableName {
			continue
		}
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)
	return remaining, nil
}
