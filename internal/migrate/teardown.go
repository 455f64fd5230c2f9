package migrate

import (
	"context"
	"fmt"
	"log/slog"
)

// DropPlan is an explicit, dependency-ordered list of objects a coarse
// teardown removes: tables in reverse dependency order first, then derived
// views, then supplementary tables. The plan is supplied by the caller —
// the engine never carries a hidden hard-coded drop list.
//
// This teardown validates that a clean removal is possible; it is not a
// symmetric inverse of any migration. Per-migration reversal is the job of
// paired down scripts.
type DropPlan struct {
	Tables        []string `yaml:"tables"`
	Views         []string `yaml:"views"`
	Supplementary []string `yaml:"supplementary"`
}

// IsEmpty reports whether the plan names no objects.
func (p DropPlan) IsEmpty() bool {
	return len(p.Tables) == 0 && len(p.Views) == 0 && len(p.Supplementary) == 0
}

// Teardown drops every object in the plan, tolerating already-dropped
// objects, then wipes the ledger. Each drop runs in autocommit mode:
// best-effort removal of whatever exists, never all-or-nothing.
//
// Returned warnings describe objects that could not be dropped; the error
// is non-nil only when the ledger wipe itself fails.
func (e *Executor) Teardown(ctx context.Context, plan DropPlan) ([]string, error) {
	var warnings []string

	drop := func(kind, name string) {
		stmt := fmt.Sprintf("DROP %s IF EXISTS %s", kind, e.dialect.QuoteIdent(name))
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			if Classify(err) == Tolerable {
				slog.Warn("tolerable error during teardown", "object", name, "error", err)
				return
			}
			warnings = append(warnings, fmt.Sprintf("%s %s: %v", kind, name, err))
			slog.Warn("failed to drop object", "kind", kind, "object", name, "error", err)
		}
	}

	for _, t := range plan.Tables {
		drop("TABLE", t)
	}
	for _, v := range plan.Views {
		drop("VIEW", v)
	}
	for _, t := range plan.Supplementary {
		drop("TABLE", t)
	}

	if err := e.ledger.Wipe(ctx); err != nil {
		return warnings, err
	}

	return warnings, nil
}
