package commands

import (
	"chat-bot/internal/config"
	"chat-bot/internal/logger"
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

var (
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Telegram chat bot backed by a hosted language model",
	Long: `bot relays Telegram conversations to an OpenAI-compatible chat completions
endpoint, keeping a bounded per-user history in PostgreSQL or SQLite.

Run 'bot serve' to start polling Telegram, or 'bot migrate up' to prepare
the database.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv(envFile)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file")

	rootCmd.SetVersionTemplate(fmt.Sprintf("bot %s\n", Version))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and applies the log level
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.SetLevel(level)
	logger.RedactSecrets(cfg.Secrets()...)
	return cfg, nil
}
