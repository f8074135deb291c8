package commands

import (
	"chat-bot/internal/app"
	"chat-bot/internal/handlers"
	"chat-bot/internal/logger"
	"chat-bot/internal/repository"
	"chat-bot/internal/server"
	"chat-bot/internal/service/chat"
	"chat-bot/internal/transport/telegram"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll Telegram and answer messages",
	Long: `Start the bot: apply database migrations, poll Telegram for updates and
serve the health endpoint until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireTransport(); err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{
		"bot":       cfg.Bot.Name,
		"version":   cfg.Bot.Version,
		"model":     cfg.LLM.Model,
		"db_driver": cfg.Database.Driver,
	}).Info("Starting bot")

	database, err := repository.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	chatService := chat.NewChatService(database, app.NewConfig(database, cfg))

	bot, err := telegram.New(telegram.Options{
		Token:       cfg.Telegram.BotToken,
		PollTimeout: time.Duration(cfg.Telegram.PollTimeout) * time.Second,
		Debug:       cfg.Telegram.Debug,
	})
	if err != nil {
		return err
	}
	botHandlers := handlers.NewBotHandlers(chatService, bot)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var health *server.Server
	if cfg.Server.Enabled {
		health = server.New(":" + cfg.Server.Port)
		go func() {
			if err := health.Start(); err != nil {
				logger.Log.WithError(err).Error("Health server failed")
				stop()
			}
		}()
	}

	chatService.StartJanitor(ctx, cfg.Limits.JanitorInterval)

	runErr := bot.Run(ctx, botHandlers.Handle)

	logger.Log.Info("Shutting down")
	if health != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := health.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Warn("Health server shutdown error")
		}
	}

	logger.Log.Info("Bot stopped")
	return runErr
}
