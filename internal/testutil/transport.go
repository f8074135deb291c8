package testutil

import (
	"chat-bot/internal/transport"
	"context"
	"sync"
)

// Ensure MockTransport implements transport.Transport interface
var _ transport.Transport = (*MockTransport)(nil)

// SentMessage is a message recorded by MockTransport
type SentMessage struct {
	ChatID    int64
	MessageID int
	Text      string
}

// MockTransport records outgoing messages. Func fields override the defaults.
type MockTransport struct {
	SendFunc       func(ctx context.Context, chatID int64, text string) (int, error)
	EditFunc       func(ctx context.Context, chatID int64, messageID int, text string) error
	SendTypingFunc func(ctx context.Context, chatID int64) error

	mu     sync.Mutex
	nextID int
	sent   []SentMessage
	edits  []SentMessage
	typing int
}

func (m *MockTransport) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, chatID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.sent = append(m.sent, SentMessage{ChatID: chatID, MessageID: m.nextID, Text: text})
	return m.nextID, nil
}

func (m *MockTransport) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if m.EditFunc != nil {
		return m.EditFunc(ctx, chatID, messageID, text)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, SentMessage{ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (m *MockTransport) SendTyping(ctx context.Context, chatID int64) error {
	if m.SendTypingFunc != nil {
		return m.SendTypingFunc(ctx, chatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

// Sent returns the recorded sends in order
func (m *MockTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// Edits returns the recorded edits in order
func (m *MockTransport) Edits() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.edits...)
}

// TypingCount returns how many typing indicators were sent
func (m *MockTransport) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}
