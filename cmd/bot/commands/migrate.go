package commands

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/repository"
	"chat-bot/internal/repository/migrations"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRawDB(migrations.Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations, dropping every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRawDB(migrations.Down)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func withRawDB(fn func(*sql.DB, migrations.Dialect) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, dialect, err := repository.OpenRaw(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	if err := fn(conn, dialect); err != nil {
		return err
	}
	logger.Log.WithField("dialect", dialect).Info("Migrations finished")
	return nil
}
