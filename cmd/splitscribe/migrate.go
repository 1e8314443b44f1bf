package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitscribe/internal/storage/postgres"
	"github.com/mmynk/splitscribe/internal/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Apply or inspect database migrations",
	Long:      `Runs the postgres migrations embedded in the binary. SQLite databases are migrated on open, so only "up" applies to them.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	command := args[0]

	if cfg.Storage.Driver == "sqlite" {
		if command != "up" {
			return fmt.Errorf("migrate %s is not supported for sqlite", command)
		}
		store, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		logger.Info("Migrations applied", "driver", "sqlite", "path", cfg.Storage.SQLitePath)
		return store.Close()
	}

	if command == "version" {
		version, dirty, err := postgres.MigrationVersion(cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		cmd.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	}

	if err := postgres.Migrate(cfg.Storage.PostgresURL, command); err != nil {
		return err
	}
	logger.Info("Migrations applied", "driver", "postgres", "command", command)
	return nil
}
