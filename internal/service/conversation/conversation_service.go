package conversation

import (
	"chat-bot/internal/repository/db"
	"chat-bot/pkg/apperrors"
	"context"
	"fmt"
	"time"
)

// UserData is everything stored about a user, as shown by /mydata
type UserData struct {
	UserID         int64
	MessageCount   int64
	TotalCharsSent int64
	ResetCount     int64
	FirstSeen      time.Time
	LastActive     time.Time
	RetainedTurns  int
	HistoryWindow  int
}

// ConversationService handles the business logic for session management
type ConversationService struct {
	db     db.Database
	window int
}

// NewConversationService creates a new ConversationService
func NewConversationService(database db.Database, window int) *ConversationService {
	return &ConversationService{
		db:     database,
		window: window,
	}
}

// GetUserData collects persisted stats and the retained history size for a user
func (s *ConversationService) GetUserData(ctx context.Context, userID int64) (*UserData, error) {
	stats, err := s.db.UserStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve user stats: %w", persistence(err))
	}

	history, err := s.db.History(ctx, userID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve history: %w", persistence(err))
	}

	return &UserData{
		UserID:         userID,
		MessageCount:   stats.MessageCount,
		TotalCharsSent: stats.TotalCharsSent,
		ResetCount:     stats.ResetCount,
		FirstSeen:      stats.FirstSeen,
		LastActive:     stats.LastActive,
		RetainedTurns:  len(history),
		HistoryWindow:  s.window,
	}, nil
}

// GetHistory returns the user's retained turns, oldest first
func (s *ConversationService) GetHistory(ctx context.Context, userID int64) ([]db.Turn, error) {
	history, err := s.db.History(ctx, userID, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve history: %w", persistence(err))
	}
	return history, nil
}

// ClearHistory deletes every turn of the user's session
func (s *ConversationService) ClearHistory(ctx context.Context, userID int64) error {
	if err := s.db.Clear(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear history: %w", persistence(err))
	}
	return nil
}

func persistence(err error) error {
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	return apperrors.Wrap(apperrors.KindPersistence, "conversation", err)
}
