// Package main provides the pgvolve CLI, a SQL schema migration engine.
// Migrations are plain SQL files named <version>_<description>.sql, applied
// in ascending version order with one transaction per migration and a ledger
// table recording what ran.
//
// Usage:
//
//	pgvolve migrate              # Apply pending migrations
//	pgvolve migrate --dry        # Preview statements without executing
//	pgvolve status               # Show applied/pending migrations
//	pgvolve rollback [steps]     # Roll back via .down.sql scripts (default: 1)
//	pgvolve validate             # Check live schema against expectations
//	pgvolve verify               # Verify checksums and chain fingerprint
//	pgvolve harness              # Full cycle against an ephemeral database
//	pgvolve watch                # Re-lint migration files on change
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	// Database drivers
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// version is set via ldflags during build: -ldflags="-X main.version=v1.0.0"
var version = "dev"

// Global flags
var (
	databaseURL string
	configFile  string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "pgvolve",
		Short:   "SQL schema migration engine",
		Long:    `pgvolve applies plain-SQL migrations in version order, one transaction per migration, tracking applied versions in a ledger table inside the target database.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&databaseURL, "database-url", "d", "", "Database connection URL")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "pgvolve.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		migrateCmd(),
		statusCmd(),
		rollbackCmd(),
		validateCmd(),
		verifyCmd(),
		harnessCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}

// setupLogging routes structured logs to stderr so stdout stays parseable.
func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
