package testutil

import (
	"chat-bot/internal/app"
	"chat-bot/internal/config"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/service/llm"
	"context"
	"errors"
	"time"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// Turn mocks
	AppendTurnFunc       func(ctx context.Context, userID int64, role db.Role, content string) error
	AppendExchangeFunc   func(ctx context.Context, userID int64, userText, assistantText string) error
	HistoryFunc          func(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error)
	ClearFunc            func(ctx context.Context, userID int64) error
	CleanupOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats mocks
	RecordStatFunc func(ctx context.Context, event string)
	UserStatsFunc  func(ctx context.Context, userID int64) (*db.UserStats, error)
	SnapshotFunc   func(ctx context.Context) (*db.StoreSnapshot, error)

	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

// Turn methods
func (m *MockDatabase) AppendTurn(ctx context.Context, userID int64, role db.Role, content string) error {
	if m.AppendTurnFunc != nil {
		return m.AppendTurnFunc(ctx, userID, role, content)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error {
	if m.AppendExchangeFunc != nil {
		return m.AppendExchangeFunc(ctx, userID, userText, assistantText)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) History(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error) {
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, userID, maxTurns)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) Clear(ctx context.Context, userID int64) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, userID)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.CleanupOlderThanFunc != nil {
		return m.CleanupOlderThanFunc(ctx, cutoff)
	}
	return 0, errors.New("not implemented")
}

// Stats methods
func (m *MockDatabase) RecordStat(ctx context.Context, event string) {
	if m.RecordStatFunc != nil {
		m.RecordStatFunc(ctx, event)
	}
}

func (m *MockDatabase) UserStats(ctx context.Context, userID int64) (*db.UserStats, error) {
	if m.UserStatsFunc != nil {
		return m.UserStatsFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) Snapshot(ctx context.Context) (*db.StoreSnapshot, error) {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockDatabase) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockLLMProvider is a mock implementation of llm.LLMProvider for testing
type MockLLMProvider struct {
	StreamCompletionFunc func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error)
	GetDefaultModelFunc  func() string
}

func (m *MockLLMProvider) StreamCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
	if m.StreamCompletionFunc != nil {
		return m.StreamCompletionFunc(ctx, messages, params)
	}
	return nil, errors.New("not implemented")
}

func (m *MockLLMProvider) GetDefaultModel() string {
	if m.GetDefaultModelFunc != nil {
		return m.GetDefaultModelFunc()
	}
	return "default-model"
}

// NewMockAppConfig returns configuration with test-friendly defaults
func NewMockAppConfig() *config.AppConfig {
	return &config.AppConfig{
		Bot: config.BotConfig{Name: "Test Bot", Version: "0.0.1"},
		Database: config.DatabaseConfig{
			Driver:        config.DriverSQLite,
			HistoryWindow: 10,
		},
		LLM: config.LLMConfig{
			APIToken:       "test-api-key",
			Model:          "test-model",
			SystemPrompt:   "You are a helpful assistant.",
			PromptMode:     "default",
			Temperature:    0.7,
			TopP:           0.9,
			MaxNewTokens:   256,
			AttemptTimeout: 30 * time.Second,
			MaxAttempts:    3,
			RetryBaseDelay: 10 * time.Millisecond,
			RetryMaxDelay:  100 * time.Millisecond,
			RetryJitter:    0.25,
		},
		Limits: config.LimitsConfig{
			RateLimit:     5,
			RateWindow:    time.Minute,
			AdminBypass:   true,
			MaxInputChars: 2000,
			TokenBudget:   6000,
			RelayInterval: time.Second,
		},
		AdminIDs: []int64{1000},
	}
}

// NewMockConfig creates a mock app.Config for testing
func NewMockConfig(database db.Database) *app.Config {
	return app.NewConfig(database, NewMockAppConfig())
}
