package commands

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/repository"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var olderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete conversation turns older than a given age",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Delete turns created before now minus this duration")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %v", olderThan)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := repository.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	cutoff := time.Now().Add(-olderThan)
	deleted, err := database.CleanupOlderThan(context.Background(), cutoff)
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"cutoff":  cutoff.UTC().Format(time.RFC3339),
		"deleted": deleted,
	}).Info("History cleanup finished")
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d turns older than %v\n", deleted, olderThan)
	return nil
}
