package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/gel2mdt-server/internal/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(cmd, func(mr *database.MigrationRunner) error {
				return mr.Up(cmd.Context())
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(cmd, func(mr *database.MigrationRunner) error {
				return mr.Down(cmd.Context())
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(cmd, func(mr *database.MigrationRunner) error {
				version, dirty, err := mr.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied.")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

func withMigrations(cmd *cobra.Command, fn func(*database.MigrationRunner) error) error {
	manager, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(manager.GetConfig().Logging)

	runner, err := database.NewMigrationRunner(manager.GetDatabaseURL(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Closing migration runner")
		}
	}()
	return fn(runner)
}
