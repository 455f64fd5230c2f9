package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/baseschema"
	"github.com/pgvolve/pgvolve/internal/chain"
	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/dialect"
	"github.com/pgvolve/pgvolve/internal/harness"
	"github.com/pgvolve/pgvolve/internal/inspect"
	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// verifyCmd checks chain integrity: file checksums against the ledger plus
// the merkle fingerprint of the whole chain.
func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify migration checksums and chain fingerprint",
		Long: `Verify that no applied migration file changed since it ran, and print the
merkle fingerprint of the whole chain for CI comparison.`,
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

			report, err := chain.Verify(ctx, files, exec.Ledger())
			if report != nil {
				for _, mm := range report.Mismatches {
					fmt.Printf("%s %d %s changed after apply\n", cli.Error("fail"), mm.Version, mm.Filename)
					fmt.Printf("  recorded: %s\n  current:  %s\n", cli.Dim(mm.Recorded), cli.Dim(mm.Current))
				}
				for _, v := range report.MissingFiles {
					fmt.Printf("%s version %d applied but file is missing\n", cli.Warning("warn"), v)
				}
				fmt.Printf("chain fingerprint: %s\n", cli.Info(report.Fingerprint.Root))
			}
			if err != nil {
				fail(err)
			}
			fmt.Println(cli.Success("chain verified"))
			return nil
		},
	}
	return cmd
}

// harnessCmd runs the full verification cycle against an ephemeral database.
func harnessCmd() *cobra.Command {
	var adminURL string

	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Run the migration test harness against an ephemeral database",
		Long: `Provision an ephemeral database (<dbname>_migratetest), apply the base
schema and every migration, validate the result, attempt the coarse teardown,
and drop the database — on every exit path, including failures.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			ctx := context.Background()

			h, err := buildHarness(cfg, adminURL)
			if err != nil {
				fail(err)
			}

			report := h.Run(ctx)
			printResults(report.Results)
			for _, w := range report.TeardownWarnings {
				fmt.Printf("%s %s\n", cli.Warning("warn"), w)
			}
			if len(report.RemainingTables) > 0 {
				fmt.Printf("%s tables remain after teardown: %v\n", cli.Warning("warn"), report.RemainingTables)
			}
			if report.CleanupErr != nil {
				fmt.Printf("%s %v\n", cli.Warning("cleanup"), report.CleanupErr)
			}

			if report.Phase == harness.PhaseFailure {
				fail(report.Err)
			}
			fmt.Println(cli.Success("harness passed"))
			return nil
		},
	}

	cmd.Flags().StringVar(&adminURL, "admin-url", "", "Admin connection URL for CREATE/DROP DATABASE (defaults to the database URL pointed at the postgres maintenance database)")
	return cmd
}

// buildHarness assembles the harness from the configured documents.
func buildHarness(cfg *Config, adminURL string) (*harness.Harness, error) {
	if cfg.Dialect != "postgres" && cfg.Dialect != "postgresql" {
		return nil, pverr.New(pverr.ErrEphemeralCreate, "the harness requires a postgres target")
	}

	dbName, err := cfg.databaseName()
	if err != nil {
		return nil, err
	}
	if adminURL == "" {
		adminURL, err = maintenanceURL(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	}

	admin, err := sql.Open("postgres", adminURL)
	if err != nil {
		return nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to open admin connection")
	}
	if err := admin.Ping(); err != nil {
		admin.Close()
		return nil, pverr.Wrap(pverr.ErrSQLConnection, err, "failed to connect with admin URL")
	}

	hcfg := harness.Config{
		Provisioner:   harness.NewEphemeral(admin, cfg.DatabaseURL, dbName),
		Dialect:       dialect.Postgres(),
		MigrationsDir: cfg.MigrationsDir,
	}

	if cfg.BaseSchemaFile != "" {
		hcfg.BaseSchema, err = baseschema.Load(cfg.BaseSchemaFile)
		if err != nil {
			return nil, err
		}
	}
	if cfg.ExpectationFile != "" {
		hcfg.Expectation, err = inspect.LoadExpectation(cfg.ExpectationFile)
		if err != nil {
			return nil, err
		}
	}
	hcfg.DropPlan, err = loadDropPlan(cfg)
	if err != nil {
		return nil, err
	}

	return harness.New(hcfg), nil
}

// maintenanceURL points the connection URL at the postgres maintenance
// database so CREATE/DROP DATABASE never targets the database being managed.
func maintenanceURL(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", pverr.Wrap(pverr.ErrSQLConnection, err, "invalid database URL")
	}
	u.Path = "/postgres"
	return u.String(), nil
}
