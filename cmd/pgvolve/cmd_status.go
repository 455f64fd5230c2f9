package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/migrate"
)

// statusCmd shows every known migration version and its standing.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied/pending migrations",
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

			statuses, err := exec.Status(ctx, files)
			if err != nil {
				fail(err)
			}

			tbl := cli.NewTable("VERSION", "STATUS", "FILENAME", "EXECUTED AT")
			pending := 0
			for _, s := range statuses {
				executedAt := ""
				if s.ExecutedAt != nil {
					executedAt = s.ExecutedAt.Format("2006-01-02 15:04:05")
				}
				tbl.AddRow(strconv.Itoa(s.Version), styleStatus(s.Status), s.Filename, executedAt)
				if s.Status == migrate.StatusPending {
					pending++
				}
			}
			fmt.Print(tbl.String())
			fmt.Printf("\n%s pending\n", cli.FormatCount(pending, "migration", "migrations"))
			return nil
		},
	}
	return cmd
}

func styleStatus(s migrate.StatusKind) string {
	switch s {
	case migrate.StatusApplied:
		return cli.Success(string(s))
	case migrate.StatusPending:
		return cli.Info(string(s))
	case migrate.StatusModified, migrate.StatusMissing:
		return cli.Warning(string(s))
	default:
		return string(s)
	}
}
