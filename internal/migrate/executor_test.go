package migrate

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/pverr"
	"github.com/pgvolve/pgvolve/internal/testutil"
)

func newTestExecutor(t *testing.T) (*sql.DB, *Executor) {
	t.Helper()

	db := testutil.SetupSQLite(t)
	d := dialect.SQLite()
	ledger := NewSQLLedger(db, d)
	exec := NewExecutor(db, d, ledger)
	if exec == nil {
		t.Fatal("NewExecutor returned nil")
	}
	return db, exec
}

func TestNewExecutorNilChecks(t *testing.T) {
	db := testutil.SetupSQLite(t)
	d := dialect.SQLite()
	ledger := NewSQLLedger(db, d)

	if NewExecutor(nil, d, ledger) != nil {
		t.Error("NewExecutor should return nil for nil db")
	}
	if NewExecutor(db, nil, ledger) != nil {
		t.Error("NewExecutor should return nil for nil dialect")
	}
	if NewExecutor(db, d, nil) != nil {
		t.Error("NewExecutor should return nil for nil ledger")
	}
}

func TestUpAppliesInOrder(t *testing.T) {
	// Scenario: 001 creates foo, 002 adds column bar. After one run the
	// ledger holds versions {1,2} and foo has column bar.
	db, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql":     "CREATE TABLE foo (id INTEGER PRIMARY KEY);",
		"002_add_bar_column.sql": "ALTER TABLE foo ADD COLUMN bar TEXT;",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	results, err := exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.State != Applied {
			t.Errorf("version %d state = %s, want applied", r.Version, r.State)
		}
	}

	applied, err := exec.Ledger().Applied(ctx)
	testutil.AssertNoError(t, err)
	if _, ok := applied[1]; !ok {
		t.Error("ledger missing version 1")
	}
	if _, ok := applied[2]; !ok {
		t.Error("ledger missing version 2")
	}
	if applied[2].Filename != "002_add_bar_column.sql" {
		t.Errorf("ledger filename = %q", applied[2].Filename)
	}

	if !testutil.ColumnExists(t, db, "foo", "bar") {
		t.Error("foo should have column bar after migration 2")
	}
}

func TestUpIsIdempotent(t *testing.T) {
	// Scenario: a second run executes zero statements and leaves the
	// ledger unchanged.
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql":     "CREATE TABLE foo (id INTEGER PRIMARY KEY);",
		"002_add_bar_column.sql": "ALTER TABLE foo ADD COLUMN bar TEXT;",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	_, err = exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	// Fresh load so cached content can't mask anything.
	files, err = LoadDir(dir)
	testutil.AssertNoError(t, err)

	results, err := exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	total := 0
	for _, r := range results {
		if r.State != Skipped {
			t.Errorf("version %d state = %s, want skipped", r.Version, r.State)
		}
		total += r.Statements
	}
	if total != 0 {
		t.Errorf("second run executed %d statements, want 0", total)
	}
}

func TestUpAtomicity(t *testing.T) {
	// If the Nth statement fails fatally, no ledger entry exists for that
	// version and statements before N are rolled back.
	db, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_broken.sql": "CREATE TABLE half_done (id INTEGER);\nTHIS IS NOT SQL;",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	results, err := exec.Up(ctx, files)
	testutil.AssertError(t, err, pverr.ErrMigrationFailed)

	if len(results) != 1 || results[0].State != Failed {
		t.Fatalf("results = %+v, want one failed result", results)
	}

	applied, ledgerErr := exec.Ledger().Applied(ctx)
	testutil.AssertNoError(t, ledgerErr)
	if len(applied) != 0 {
		t.Errorf("ledger should be empty after failed migration, got %v", applied)
	}

	if testutil.TableExists(t, db, "half_done") {
		t.Error("first statement should have rolled back with the failed transaction")
	}
}

func TestUpStopsAtFirstFatal(t *testing.T) {
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_ok.sql":     "CREATE TABLE ok_table (id INTEGER);",
		"002_broken.sql": "NOT A STATEMENT;",
		"003_never.sql":  "CREATE TABLE never_made (id INTEGER);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	results, err := exec.Up(ctx, files)
	testutil.AssertError(t, err, pverr.ErrMigrationFailed)

	// 001 applied, 002 failed, 003 never reached.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].State != Applied || results[1].State != Failed {
		t.Errorf("states = %s, %s", results[0].State, results[1].State)
	}

	applied, err := exec.Ledger().Applied(ctx)
	testutil.AssertNoError(t, err)
	if _, ok := applied[1]; !ok {
		t.Error("version 1 should remain applied")
	}
	if _, ok := applied[2]; ok {
		t.Error("version 2 must not be in the ledger")
	}
}

func TestUpSkipsWithoutReadingContent(t *testing.T) {
	// An already-applied migration's content is never read: its file can
	// vanish from disk without breaking incremental runs.
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	testutil.AssertNoError(t, exec.Ledger().EnsureTable(ctx))
	tx := beginTx(t, exec.db)
	testutil.AssertNoError(t, exec.Ledger().RecordApplied(ctx, tx, LedgerEntry{Version: 1, Filename: "001_gone.sql"}))
	testutil.AssertNoError(t, tx.Commit())

	files := []*MigrationFile{
		{Version: 1, Filename: "001_gone.sql", Path: "/nonexistent/001_gone.sql"},
	}

	results, err := exec.Up(ctx, files)
	testutil.AssertNoError(t, err)
	if results[0].State != Skipped {
		t.Errorf("state = %s, want skipped", results[0].State)
	}
}

func beginTx(t *testing.T, db *sql.DB) *sql.Tx {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	return tx
}

func TestDownRollsBackMostRecentFirst(t *testing.T) {
	db, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql":      "CREATE TABLE foo (id INTEGER);",
		"001_create_foo.down.sql": "DROP TABLE foo;",
		"002_create_bar.sql":      "CREATE TABLE bar (id INTEGER);",
		"002_create_bar.down.sql": "DROP TABLE bar;",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	_, err = exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	results, err := exec.Down(ctx, files, 1)
	testutil.AssertNoError(t, err)

	if len(results) != 1 || results[0].Version != 2 {
		t.Fatalf("Down(1) results = %+v, want version 2 only", results)
	}
	if testutil.TableExists(t, db, "bar") {
		t.Error("bar should be dropped")
	}
	if !testutil.TableExists(t, db, "foo") {
		t.Error("foo should remain")
	}

	applied, err := exec.Ledger().Applied(ctx)
	testutil.AssertNoError(t, err)
	if _, ok := applied[2]; ok {
		t.Error("version 2 should be removed from the ledger")
	}
	if _, ok := applied[1]; !ok {
		t.Error("version 1 should remain in the ledger")
	}
}

func TestDownWithoutScriptFails(t *testing.T) {
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	_, err = exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	_, err = exec.Down(ctx, files, 1)
	testutil.AssertError(t, err, pverr.ErrNoRollback)
}

func TestDownMissingFile(t *testing.T) {
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	testutil.AssertNoError(t, exec.Ledger().EnsureTable(ctx))
	tx := beginTx(t, exec.db)
	testutil.AssertNoError(t, exec.Ledger().RecordApplied(ctx, tx, LedgerEntry{Version: 9, Filename: "009_lost.sql"}))
	testutil.AssertNoError(t, tx.Commit())

	_, err := exec.Down(ctx, nil, 1)
	testutil.AssertError(t, err, pverr.ErrMigrationNotFound)
}

func TestDownZeroStepsIsNoop(t *testing.T) {
	_, exec := newTestExecutor(t)

	results, err := exec.Down(context.Background(), nil, 0)
	testutil.AssertNoError(t, err)
	if results != nil {
		t.Errorf("Down(0) = %+v, want nil", results)
	}
}

func TestDryRun(t *testing.T) {
	db, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);\nCREATE INDEX idx_foo ON foo (id);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	pending, err := exec.DryRun(ctx, files)
	testutil.AssertNoError(t, err)

	if len(pending[1]) != 2 {
		t.Fatalf("DryRun statements = %#v, want 2 for version 1", pending[1])
	}
	if testutil.TableExists(t, db, "foo") {
		t.Error("DryRun must not execute statements")
	}
}

func TestStatus(t *testing.T) {
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
		"002_create_bar.sql": "CREATE TABLE bar (id INTEGER);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	// Apply only version 1.
	_, err = exec.Up(ctx, files[:1])
	testutil.AssertNoError(t, err)

	statuses, err := exec.Status(ctx, files)
	testutil.AssertNoError(t, err)

	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Status != StatusApplied {
		t.Errorf("version 1 status = %s, want applied", statuses[0].Status)
	}
	if statuses[0].ExecutedAt == nil {
		t.Error("applied status should carry an execution timestamp")
	}
	if statuses[1].Status != StatusPending {
		t.Errorf("version 2 status = %s, want pending", statuses[1].Status)
	}
}

func TestStatusDetectsModifiedAndMissing(t *testing.T) {
	_, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	_, err = exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	// Modify the file after it was applied.
	if err := os.WriteFile(files[0].Path, []byte("CREATE TABLE foo (id INTEGER, extra TEXT);"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Record a ledger row with no file on disk.
	tx := beginTx(t, exec.db)
	testutil.AssertNoError(t, exec.Ledger().RecordApplied(ctx, tx, LedgerEntry{Version: 99, Filename: "099_lost.sql"}))
	testutil.AssertNoError(t, tx.Commit())

	// Reload so the modified content is seen.
	files, err = LoadDir(dir)
	testutil.AssertNoError(t, err)

	statuses, err := exec.Status(ctx, files)
	testutil.AssertNoError(t, err)

	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2", len(statuses))
	}
	if statuses[0].Status != StatusModified {
		t.Errorf("version 1 status = %s, want modified", statuses[0].Status)
	}
	if statuses[1].Status != StatusMissing {
		t.Errorf("version 99 status = %s, want missing", statuses[1].Status)
	}
	if statuses[1].Filename != "099_lost.sql" {
		t.Errorf("missing status filename = %q", statuses[1].Filename)
	}
}

func TestTeardown(t *testing.T) {
	db, exec := newTestExecutor(t)
	ctx := context.Background()

	dir := testutil.WriteMigrations(t, map[string]string{
		"001_create_foo.sql": "CREATE TABLE foo (id INTEGER);",
	})
	files, err := LoadDir(dir)
	testutil.AssertNoError(t, err)

	_, err = exec.Up(ctx, files)
	testutil.AssertNoError(t, err)

	plan := DropPlan{
		Tables:        []string{"foo"},
		Supplementary: []string{"was_never_created"}, // IF EXISTS tolerates this
	}
	warnings, err := exec.Teardown(ctx, plan)
	testutil.AssertNoError(t, err)
	if len(warnings) != 0 {
		t.Errorf("teardown warnings = %v, want none", warnings)
	}

	if testutil.TableExists(t, db, "foo") {
		t.Error("foo should be dropped by teardown")
	}

	applied, err := exec.Ledger().Applied(ctx)
	testutil.AssertNoError(t, err)
	if len(applied) != 0 {
		t.Errorf("ledger should be wiped, got %v", applied)
	}
}
