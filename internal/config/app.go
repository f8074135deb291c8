package config

import (
	"chat-bot/internal/logger"
	"chat-bot/pkg/validation"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Bot      BotConfig
	Telegram TelegramConfig
	Server   ServerConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Limits   LimitsConfig
	AdminIDs []int64
	LogLevel string
}

// BotConfig holds identity shown by /info and /start
type BotConfig struct {
	Name    string
	Version string
}

// TelegramConfig holds messaging transport configuration
type TelegramConfig struct {
	BotToken    string
	PollTimeout int
	Debug       bool
}

// ServerConfig holds health server configuration
type ServerConfig struct {
	Port    string
	Enabled bool
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver        string
	Path          string
	Host          string
	Port          string
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	HistoryWindow int
	HistoryTTL    time.Duration
}

// LLMConfig holds inference endpoint configuration
type LLMConfig struct {
	APIToken       string
	APIURL         string
	HealthURL      string
	Model          string
	SystemPrompt   string
	PromptMode     string
	Temperature    float64
	TopP           float64
	MaxNewTokens   int
	AttemptTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryJitter    float64
}

// LimitsConfig holds admission and pacing configuration
type LimitsConfig struct {
	RateLimit       int
	RateWindow      time.Duration
	AdminBypass     bool
	MaxInputChars   int
	TokenBudget     int
	RelayInterval   time.Duration
	JanitorInterval time.Duration
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadDotEnv loads variables from the given .env files if they exist.
// Variables already present in the environment are not overridden.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Log.WithFields(logrus.Fields{"path": p, "error": err}).Warn("Failed to load env file")
			continue
		}
		logger.Log.WithField("path", p).Debug("Loaded env file")
	}
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	config.Bot = BotConfig{
		Name:    getEnvOrDefault("BOT_NAME", "Chat Bot"),
		Version: getEnvOrDefault("BOT_VERSION", "1.0.0"),
	}

	config.Telegram = TelegramConfig{
		BotToken:    os.Getenv("BOT_TOKEN"),
		PollTimeout: getEnvAsInt("TELEGRAM_POLL_TIMEOUT", 60),
		Debug:       getEnvAsBool("TELEGRAM_DEBUG", false),
	}

	// Load Server config
	config.Server = ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		Enabled: getEnvAsBool("HEALTH_SERVER_ENABLED", true),
	}

	// Load Database config
	config.Database = DatabaseConfig{
		Driver:        strings.ToLower(getEnvOrDefault("DB_DRIVER", DriverSQLite)),
		Path:          getEnvOrDefault("DB_PATH", "bot_data.db"),
		Host:          getEnvOrDefault("DB_HOST", "postgres"),
		Port:          getEnvOrDefault("DB_PORT", "5432"),
		User:          getEnvOrDefault("DB_USER", "postgres"),
		Password:      getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:          getEnvOrDefault("DB_NAME", "chatbot"),
		SSLMode:       getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		HistoryWindow: getEnvAsInt("HISTORY_WINDOW", 10),
		HistoryTTL:    getEnvAsDuration("HISTORY_TTL", 0),
	}
	if config.Database.Driver != DriverPostgres && config.Database.Driver != DriverSQLite {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, config.Database.Driver)
	}
	if config.Database.HistoryWindow <= 0 {
		return nil, fmt.Errorf("HISTORY_WINDOW must be positive, got %d", config.Database.HistoryWindow)
	}

	// Load LLM config
	apiToken := os.Getenv("HF_TOKEN")
	if apiToken == "" {
		logger.Log.Warn("HF_TOKEN environment variable not set")
	}

	model := getEnvOrDefault("HF_MODEL", "meta-llama/Meta-Llama-3-8B-Instruct")
	config.LLM = LLMConfig{
		APIToken:       apiToken,
		APIURL:         getEnvOrDefault("HF_API_URL", "https://router.huggingface.co/v1/chat/completions"),
		HealthURL:      getEnvOrDefault("HF_HEALTH_URL", "https://huggingface.co/api/models/"+model),
		Model:          model,
		SystemPrompt:   os.Getenv("SYSTEM_PROMPT"),
		PromptMode:     getEnvOrDefault("PROMPT_MODE", "default"),
		Temperature:    getEnvAsFloat("TEMPERATURE", 0.7),
		TopP:           getEnvAsFloat("TOP_P", 0.9),
		MaxNewTokens:   getEnvAsInt("MAX_NEW_TOKENS", 1024),
		AttemptTimeout: getEnvAsDuration("LLM_ATTEMPT_TIMEOUT", 30*time.Second),
		MaxAttempts:    getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		RetryBaseDelay: getEnvAsDuration("LLM_RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxDelay:  getEnvAsDuration("LLM_RETRY_MAX_DELAY", 10*time.Second),
		RetryJitter:    getEnvAsFloat("LLM_RETRY_JITTER", 0.25),
	}

	validator := validation.NewChatRequestValidator(0)
	if err := validator.ValidateSamplingParams(config.LLM.Temperature, config.LLM.TopP, config.LLM.MaxNewTokens); err != nil {
		return nil, fmt.Errorf("invalid sampling parameters: %w", err)
	}
	if config.LLM.MaxAttempts < 1 {
		return nil, fmt.Errorf("LLM_MAX_ATTEMPTS must be at least 1, got %d", config.LLM.MaxAttempts)
	}
	// Jitter above 1/3 can make a later delay shorter than an earlier one
	if config.LLM.RetryJitter < 0 || config.LLM.RetryJitter > 1.0/3 {
		return nil, fmt.Errorf("LLM_RETRY_JITTER must be between 0 and 0.33, got %.2f", config.LLM.RetryJitter)
	}

	config.Limits = LimitsConfig{
		RateLimit:       getEnvAsInt("RATE_LIMIT_PER_MINUTE", 5),
		RateWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		AdminBypass:     getEnvAsBool("RATE_LIMIT_ADMIN_BYPASS", true),
		MaxInputChars:   getEnvAsInt("MAX_USER_TOKENS", validation.DefaultMaxInputChars),
		TokenBudget:     getEnvAsInt("TOKEN_BUDGET", 6000),
		RelayInterval:   getEnvAsDuration("RELAY_INTERVAL", time.Second),
		JanitorInterval: getEnvAsDuration("JANITOR_INTERVAL", time.Hour),
	}
	if config.Limits.RateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", config.Limits.RateLimit)
	}
	if config.Limits.TokenBudget <= 0 {
		return nil, fmt.Errorf("TOKEN_BUDGET must be positive, got %d", config.Limits.TokenBudget)
	}

	adminIDs, err := getEnvAsInt64List("ADMIN_IDS")
	if err != nil {
		logger.Log.WithField("error", err).Warn("Invalid ADMIN_IDS, no admins configured")
		adminIDs = nil
	}
	config.AdminIDs = adminIDs

	return config, nil
}

// RequireTransport checks the secrets needed to run the bot
func (c *AppConfig) RequireTransport() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN environment variable must be set")
	}
	if c.LLM.APIToken == "" {
		return fmt.Errorf("HF_TOKEN environment variable must be set")
	}
	return nil
}

// Secrets returns values that must never appear in logs
func (c *AppConfig) Secrets() []string {
	return []string{c.Telegram.BotToken, c.LLM.APIToken, c.Database.Password}
}

// IsAdmin reports whether userID is in the admin set
func (c *AppConfig) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", c.Path)
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsInt64List(key string) ([]int64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil, nil
	}
	var values []int64
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid id %q: %w", key, part, err)
		}
		values = append(values, value)
	}
	return values, nil
}
