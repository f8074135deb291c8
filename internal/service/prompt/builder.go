package prompt

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/service/llm"
	"chat-bot/pkg/apperrors"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Per-message overhead for role markers and separators
const messageOverhead = 4

// EstimateTokens approximates the token cost of one message.
// It is length based and deterministic, not a tokenizer.
func EstimateTokens(content string) int {
	return (utf8.RuneCountInString(content)+3)/4 + messageOverhead
}

// EstimateTotal sums EstimateTokens over messages
func EstimateTotal(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// Builder assembles the prompt sent for inference from stored history
type Builder struct {
	db     db.Database
	window int
}

// NewBuilder creates a builder reading at most window turns per user
func NewBuilder(database db.Database, window int) *Builder {
	return &Builder{db: database, window: window}
}

// Build returns the system prompt followed by the user's retained history and,
// if non-empty, the pending user text. The oldest turns are dropped one at a
// time while the estimate exceeds tokenBudget, but the most recent turn is
// always kept.
func (b *Builder) Build(ctx context.Context, userID int64, systemPrompt, pending string, tokenBudget int) ([]llm.Message, error) {
	history, err := b.db.History(ctx, userID, b.window)
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.Wrap(apperrors.KindPersistence, "prompt.build", err)
		}
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	turns := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		turns = append(turns, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	if pending != "" {
		turns = append(turns, llm.Message{Role: string(db.RoleUser), Content: pending})
	}

	system := llm.Message{Role: "system", Content: systemPrompt}
	total := EstimateTokens(system.Content) + EstimateTotal(turns)

	dropped := 0
	for total > tokenBudget && len(turns)-dropped > 1 {
		total -= EstimateTokens(turns[dropped].Content)
		dropped++
	}
	turns = turns[dropped:]

	fields := logrus.Fields{
		"user_id":         userID,
		"history_turns":   len(history),
		"dropped_turns":   dropped,
		"estimated_total": total,
		"token_budget":    tokenBudget,
	}
	if total > tokenBudget {
		logger.Log.WithFields(fields).Warn("Prompt exceeds token budget with only the latest turn left")
	} else {
		logger.Log.WithFields(fields).Debug("Built prompt")
	}

	return append([]llm.Message{system}, turns...), nil
}
