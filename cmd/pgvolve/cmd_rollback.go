package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// rollbackCmd rolls back applied migrations via their down scripts.
func rollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [steps]",
		Short: "Roll back migrations (default: 1 step)",
		Long: `Roll back the most recently applied migrations, most recent first.

Each migration needs a paired <version>_<description>.down.sql script; the
rollback runs it in a transaction and deletes the ledger entry in that same
transaction. A migration without a down script stops the rollback with a
"no rollback script available" error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					fail(pverr.Newf(pverr.ErrInternal, "invalid step count %q", args[0]))
				}
				steps = n
			}

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

			results, err := exec.Down(ctx, files, steps)
			for _, r := range results {
				if r.State == migrate.Applied {
					fmt.Printf("%s %d %s\n", cli.Success("rolled back"), r.Version, r.Filename)
				}
			}
			if err != nil {
				fail(err)
			}
			if len(results) == 0 {
				fmt.Println(cli.Dim("nothing to roll back"))
			}
			return nil
		},
	}
	return cmd
}
