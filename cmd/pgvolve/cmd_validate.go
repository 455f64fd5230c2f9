package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/inspect"
	"github.com/pgvolve/pgvolve/internal/pverr"
)

// validateCmd checks the live schema against the expectation document.
func validateCmd() *cobra.Command {
	var expectFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the live schema against expectations",
		Long: `Validate that the database contains everything the expectation document
declares: tables, required columns, enums, functions, extensions, and index
naming conventions.

A missing required column fails hard. Missing tables fail validation.
Everything else is reported as advisory findings only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			if expectFile == "" {
				expectFile = cfg.ExpectationFile
			}
			if expectFile == "" {
				fail(pverr.New(pverr.ErrFileRead, "no expectation file configured (set --expect or pgvolve.yaml)"))
			}

			exp, err := inspect.LoadExpectation(expectFile)
			if err != nil {
				fail(err)
			}

			db, d, err := openDB(cfg)
			if err != nil {
				fail(err)
			}
			defer db.Close()

			snap, err := inspect.NewInspector(db, d).Snapshot(context.Background())
			if err != nil {
				fail(err)
			}

			report, err := inspect.Validate(snap, exp)
			if err != nil {
				fail(err)
			}

			for _, f := range report.Advisory {
				fmt.Printf("%s missing %s\n", cli.Warning("warn"), f)
			}
			for _, f := range report.Missing {
				fmt.Printf("%s missing %s\n", cli.Error("fail"), f)
			}

			if !report.Passed() {
				fail(pverr.New(pverr.ErrMissingTable, "schema validation failed").
					With("missing", len(report.Missing)))
			}
			fmt.Println(cli.Success("schema matches expectations"))
			return nil
		},
	}

	cmd.Flags().StringVar(&expectFile, "expect", "", "Path to the schema expectation file")
	return cmd
}
