package transport

import (
	"context"
	"fmt"
	"time"
)

// Update is one inbound user message, decoded from the transport
type Update struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	Text      string
	// Command is set without the leading slash when Text is a bot command
	Command string
	Args    string
}

// IsCommand reports whether the update is a bot command
func (u Update) IsCommand() bool {
	return u.Command != ""
}

// Transport sends and updates messages in a chat
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}

// Handler processes one update
type Handler func(ctx context.Context, u Update)

// RetryAfterError reports that the transport throttled a call
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("throttled, retry after %v: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter returns how long the caller should wait
func (e *RetryAfterError) RetryAfter() time.Duration {
	return e.After
}
