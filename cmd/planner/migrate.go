package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/example/activity-planner/internal/config"
	"github.com/example/activity-planner/internal/logging"
	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/persistence/sqlite/migration"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations and report the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)

			db, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN), logger)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.SQLiteDSN, err)
			}
			defer db.Close()

			manager := migration.NewManager(migration.NewScanner(migration.Files, "sql"), migration.NewSQLiteExecutor(db), logger)
			status, err := manager.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema version %s (%d applied, %d pending)\n",
				status.CurrentVersion, len(status.AppliedMigrations), len(status.PendingMigrations))
			for _, m := range status.AppliedMigrations {
				fmt.Fprintf(out, "  %s applied %s\n", m.Version, humanize.Time(m.AppliedAt))
			}
			return nil
		},
	}
}
