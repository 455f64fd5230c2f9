package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/pgvolve/pgvolve/internal/cli"
	"github.com/pgvolve/pgvolve/internal/migrate"
	"github.com/pgvolve/pgvolve/internal/pverr"
	"github.com/pgvolve/pgvolve/internal/splitter"
)

// watchCmd re-lints the migration directory whenever a file changes:
// discovery (version parsing, duplicates, down-script pairing) plus a
// statement split of every file, without touching any database.
func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-lint migration files on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				fail(pverr.Wrap(pverr.ErrInternal, err, "failed to create file watcher"))
			}
			defer watcher.Close()

			if err := watcher.Add(cfg.MigrationsDir); err != nil {
				fail(pverr.Wrap(pverr.ErrDiscoveryDir, err, "failed to watch migrations directory").
					With("dir", cfg.MigrationsDir))
			}

			lintDir(cfg.MigrationsDir)
			fmt.Println(cli.Dim("watching " + cfg.MigrationsDir + " (ctrl-c to stop)"))

			// Editors fire several events per save; coalesce them.
			var debounce *time.Timer
			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if !strings.HasSuffix(event.Name, ".sql") {
						continue
					}
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(200*time.Millisecond, func() {
						lintDir(cfg.MigrationsDir)
					})
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					slog.Warn("watcher error", "error", err)
				}
			}
		},
	}
	return cmd
}

// lintDir runs discovery and splits every migration, reporting per-file
// statement counts and any errors.
func lintDir(dir string) {
	files, err := migrate.LoadDir(dir)
	if err != nil {
		fmt.Println(formatError(err))
		return
	}

	clean := true
	for _, m := range files {
		content, err := m.Load()
		if err != nil {
			fmt.Println(formatError(err))
			clean = false
			continue
		}
		statements := splitter.Split(content)
		if len(statements) == 0 {
			fmt.Printf("%s %s contains no statements\n", cli.Warning("warn"), m.Filename)
			clean = false
			continue
		}
		fmt.Printf("%s %s: %s%s\n",
			cli.Success("ok"), m.Filename,
			cli.FormatCount(len(statements), "statement", "statements"),
			downMarker(m))
	}
	if clean {
		fmt.Println(cli.Dim(fmt.Sprintf("%s lint clean", cli.FormatCount(len(files), "migration", "migrations"))))
	}
}

func downMarker(m *migrate.MigrationFile) string {
	if m.HasDown() {
		return cli.Dim(" +down")
	}
	return ""
}
