package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/example/activity-planner/internal/application"
	"github.com/example/activity-planner/internal/config"
	"github.com/example/activity-planner/internal/logging"
	"github.com/example/activity-planner/internal/persistence/sqlite"
	"github.com/example/activity-planner/internal/storage"
)

// staffFile is the YAML layout accepted by "users load".
type staffFile struct {
	Users []struct {
		Username  string `yaml:"username"`
		FirstName string `yaml:"first_name"`
		LastName  string `yaml:"last_name"`
		Email     string `yaml:"email"`
		Admin     bool   `yaml:"admin"`
	} `yaml:"users"`
}

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the staff accounts known to the planner",
	}
	cmd.AddCommand(newUsersLoadCmd())
	return cmd
}

func newUsersLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Create or update staff accounts from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file staffFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)

			db, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN), logger)
			if err != nil {
				return err
			}
			defer db.Close()

			uow := storage.NewUnitOfWork(db)
			err = uow.Within(ctx, func(ctx context.Context, store *storage.Store) error {
				for i, u := range file.Users {
					username := strings.ToLower(strings.TrimSpace(u.Username))
					if username == "" {
						return fmt.Errorf("users[%d]: username is required", i)
					}
					if err := store.UpsertUser(ctx, application.User{
						Username:  username,
						FirstName: u.FirstName,
						LastName:  u.LastName,
						Email:     u.Email,
						IsAdmin:   u.Admin,
					}); err != nil {
						return fmt.Errorf("users[%d] %s: %w", i, username, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d users\n", len(file.Users))
			return nil
		},
	}
}
