package app

import (
	"chat-bot/internal/config"
	"chat-bot/internal/repository/db"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig
}

// NewConfig creates a new application configuration
func NewConfig(database db.Database, appConfig *config.AppConfig) *Config {
	return &Config{
		DB:        database,
		AppConfig: appConfig,
	}
}

// IsAdmin reports whether userID may use admin commands
func (c *Config) IsAdmin(userID int64) bool {
	return c.AppConfig.IsAdmin(userID)
}

// BypassRateLimit reports whether userID skips admission control
func (c *Config) BypassRateLimit(userID int64) bool {
	return c.AppConfig.Limits.AdminBypass && c.IsAdmin(userID)
}
