package db

import (
	"context"
	"time"
)

// Database defines the interface for conversation storage.
// Implementations bound each user's history to a fixed window of turns.
type Database interface {
	// Turns
	AppendTurn(ctx context.Context, userID int64, role Role, content string) error
	AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error
	History(ctx context.Context, userID int64, maxTurns int) ([]Turn, error)
	Clear(ctx context.Context, userID int64) error
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Stats
	RecordStat(ctx context.Context, event string)
	UserStats(ctx context.Context, userID int64) (*UserStats, error)
	Snapshot(ctx context.Context) (*StoreSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}
