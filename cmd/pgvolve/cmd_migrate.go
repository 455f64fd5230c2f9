package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/migrate"
)

// migrateCmd applies pending migrations.
func migrateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply pending migrations to the database in ascending version order.

Each migration runs in its own transaction; its ledger entry commits together
with its statements, so a failed migration leaves no trace. Already-applied
versions are skipped without reading their content.`,
		Example: `  # Apply all pending migrations
  pgvolve migrate

  # Preview the statements without executing them
  pgvolve migrate --dry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			ctx := context.Background()

			files, err := migrate.LoadDir(cfg.MigrationsDir)
			if err != nil {
				fail(err)
			}

			db, exec, err := newExecutor(cfg)
			if err != nil {
				fail(err)
			}
			defer db.Close()

			if dryRun {
				return runDry(ctx, exec, files)
			}

			start := time.Now()
			results, err := exec.Up(ctx, files)
			printResults(results)
			if err != nil {
				fail(err)
			}

			applied := 0
			for _, r := range results {
				if r.State == migrate.Applied {
					applied++
				}
			}
			if applied == 0 {
				fmt.Println(cli.Success("schema is current") + cli.Dim(" (no pending migrations)"))
			} else {
				fmt.Printf("%s applied %s in %s\n",
					cli.Success("ok"),
					cli.FormatCount(applied, "migration", "migrations"),
					time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry", false, "Print statements without executing them")
	return cmd
}

// runDry prints what each pending migration would execute.
func runDry(ctx context.Context, exec *migrate.Executor, files []*migrate.MigrationFile) error {
	pending, err := exec.DryRun(ctx, files)
	if err != nil {
		fail(err)
	}
	if len(pending) == 0 {
		fmt.Println(cli.Success("schema is current") + cli.Dim(" (no pending migrations)"))
		return nil
	}

	versions := make([]int, 0, len(pending))
	for v := range pending {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		fmt.Printf("%s version %d (%s)\n",
			cli.Header("--"), v, cli.FormatCount(len(pending[v]), "statement", "statements"))
		for _, stmt := range pending[v] {
			fmt.Println(stmt + ";")
		}
		fmt.Println()
	}
	return nil
}

// printResults logs one line per migration reached.
func printResults(results []migrate.Result) {
	for _, r := range results {
		switch r.State {
		case migrate.Applied:
			line := fmt.Sprintf("%s %d %s (%s)",
				cli.Success("applied"), r.Version, r.Filename,
				cli.FormatCount(r.Statements, "statement", "statements"))
			if r.Tolerated > 0 {
				line += cli.Warning(fmt.Sprintf(" [%d tolerated]", r.Tolerated))
			}
			fmt.Println(line)
		case migrate.Skipped:
			fmt.Println(cli.Dim(fmt.Sprintf("skipped %d %s", r.Version, r.Filename)))
		case migrate.Failed:
			fmt.Printf("%s %d %s\n", cli.Error("failed"), r.Version, r.Filename)
		}
	}
}
