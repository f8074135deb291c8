package sqlstore

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/repository/db"
	"chat-bot/pkg/apperrors"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ensure Store implements db.Database interface
var _ db.Database = (*Store)(nil)

// Placeholder controls how bind parameters are written
type Placeholder int

const (
	// Dollar keeps $1, $2 (PostgreSQL)
	Dollar Placeholder = iota
	// Question rewrites $1 to ?1 (SQLite)
	Question
)

// Store implements db.Database on top of database/sql.
// Queries are written once with $N parameters and rebound per dialect.
type Store struct {
	conn        *sql.DB
	placeholder Placeholder
	window      int
	now         func() time.Time
}

// New wraps an open connection. window bounds retained turns per user.
func New(conn *sql.DB, placeholder Placeholder, window int) *Store {
	return &Store{
		conn:        conn,
		placeholder: placeholder,
		window:      window,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sql.DB {
	return s.conn
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

func (s *Store) q(query string) string {
	if s.placeholder == Question {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "store.ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// AppendTurn durably adds one turn and evicts turns beyond the window
func (s *Store) AppendTurn(ctx context.Context, userID int64, role db.Role, content string) error {
	if !role.Valid() {
		return apperrors.New(apperrors.KindPersistence, "store.append", fmt.Sprintf("invalid role %q", role))
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.appendInTx(ctx, tx, userID, role, content)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "store.append", err)
	}
	return nil
}

// AppendExchange stores a user turn and the assistant reply atomically
func (s *Store) AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.appendInTx(ctx, tx, userID, db.RoleUser, userText); err != nil {
			return err
		}
		return s.appendInTx(ctx, tx, userID, db.RoleAssistant, assistantText)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "store.append_exchange", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "user_chars": len(userText), "assistant_chars": len(assistantText)}).Debug("Stored exchange")
	return nil
}

func (s *Store) appendInTx(ctx context.Context, tx *sql.Tx, userID int64, role db.Role, content string) error {
	now := s.now()

	insertQuery := `
	INSERT INTO chat_history (id, user_id, role, content, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, s.q(insertQuery), uuid.New().String(), userID, string(role), content, now); err != nil {
		return fmt.Errorf("error adding turn: %w", err)
	}

	evictQuery := `
	DELETE FROM chat_history
	WHERE user_id = $1 AND seq NOT IN (
		SELECT seq FROM chat_history WHERE user_id = $1 ORDER BY seq DESC LIMIT $2
	)
	`
	if _, err := tx.ExecContext(ctx, s.q(evictQuery), userID, s.window); err != nil {
		return fmt.Errorf("error evicting old turns: %w", err)
	}

	if role != db.RoleUser {
		return nil
	}

	statsQuery := `
	INSERT INTO user_stats (user_id, message_count, total_chars_sent, reset_count, first_seen, last_active)
	VALUES ($1, 1, $2, 0, $3, $3)
	ON CONFLICT (user_id) DO UPDATE SET
		message_count = user_stats.message_count + 1,
		total_chars_sent = user_stats.total_chars_sent + $2,
		last_active = $3
	`
	if _, err := tx.ExecContext(ctx, s.q(statsQuery), userID, utf8.RuneCountInString(content), now); err != nil {
		return fmt.Errorf("error updating user stats: %w", err)
	}
	return nil
}

// History returns the most recent maxTurns turns, oldest first
func (s *Store) History(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error) {
	if maxTurns <= 0 {
		return []db.Turn{}, nil
	}

	query := `
	SELECT id, seq, user_id, role, content, created_at
	FROM chat_history
	WHERE user_id = $1
	ORDER BY seq DESC
	LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, s.q(query), userID, maxTurns)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "store.history", fmt.Errorf("error querying history: %w", err))
	}
	defer rows.Close()

	turns := []db.Turn{}
	for rows.Next() {
		var t db.Turn
		var role string
		if err := rows.Scan(&t.ID, &t.Seq, &t.UserID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.KindPersistence, "store.history", fmt.Errorf("error scanning turn: %w", err))
		}
		t.Role = db.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "store.history", err)
	}

	// Newest first from the query, oldest first for callers
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Clear deletes all turns for a user and counts the reset
func (s *Store) Clear(ctx context.Context, userID int64) error {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM chat_history WHERE user_id = $1`), userID)
		if err != nil {
			return fmt.Errorf("error clearing history: %w", err)
		}
		deleted, _ = res.RowsAffected()

		now := s.now()
		statsQuery := `
		INSERT INTO user_stats (user_id, message_count, total_chars_sent, reset_count, first_seen, last_active)
		VALUES ($1, 0, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET reset_count = user_stats.reset_count + 1
		`
		if _, err := tx.ExecContext(ctx, s.q(statsQuery), userID, now); err != nil {
			return fmt.Errorf("error counting reset: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistence, "store.clear", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "deleted": deleted}).Info("Cleared conversation history")
	return nil
}

// CleanupOlderThan deletes turns created before cutoff
func (s *Store) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, s.q(`DELETE FROM chat_history WHERE created_at < $1`), cutoff.UTC())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindPersistence, "store.cleanup", fmt.Errorf("error deleting old turns: %w", err))
	}
	deleted, _ := res.RowsAffected()

	logger.Log.WithFields(logrus.Fields{"cutoff": cutoff.UTC().Format(time.RFC3339), "deleted": deleted}).Info("Cleaned up old history")
	return deleted, nil
}

// RecordStat increments a named counter. Failures are logged, not returned.
func (s *Store) RecordStat(ctx context.Context, event string) {
	query := `
	INSERT INTO bot_counters (name, value) VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE SET value = bot_counters.value + 1
	`
	if _, err := s.conn.ExecContext(ctx, s.q(query), event); err != nil {
		logger.Log.WithFields(logrus.Fields{"event": event, "error": err}).Warn("Failed to record stat")
	}
}

// UserStats returns persisted usage for a user; unknown users get zero stats
func (s *Store) UserStats(ctx context.Context, userID int64) (*db.UserStats, error) {
	query := `
	SELECT user_id, message_count, total_chars_sent, reset_count, first_seen, last_active
	FROM user_stats
	WHERE user_id = $1
	`

	stats := &db.UserStats{UserID: userID}
	err := s.conn.QueryRowContext(ctx, s.q(query), userID).Scan(
		&stats.UserID, &stats.MessageCount, &stats.TotalCharsSent, &stats.ResetCount, &stats.FirstSeen, &stats.LastActive,
	)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, "store.user_stats", fmt.Errorf("error retrieving user stats: %w", err))
	}
	return stats, nil
}

// Snapshot returns aggregate usage across all users
func (s *Store) Snapshot(ctx context.Context) (*db.StoreSnapshot, error) {
	snap := &db.StoreSnapshot{Counters: map[string]int64{}}
	startOfDay := s.now().Truncate(24 * time.Hour)

	totalsQuery := `
	SELECT COUNT(*), COALESCE(SUM(message_count), 0), COALESCE(SUM(total_chars_sent), 0)
	FROM user_stats
	`
	if err := s.conn.QueryRowContext(ctx, totalsQuery).Scan(&snap.TotalUsers, &snap.TotalMessages, &snap.TotalChars); err != nil {
		return nil, s.snapshotErr(fmt.Errorf("error reading totals: %w", err))
	}

	activeQuery := `SELECT COUNT(*) FROM user_stats WHERE last_active >= $1`
	if err := s.conn.QueryRowContext(ctx, s.q(activeQuery), startOfDay).Scan(&snap.ActiveToday); err != nil {
		return nil, s.snapshotErr(fmt.Errorf("error counting active users: %w", err))
	}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_history`).Scan(&snap.HistoryEntries); err != nil {
		return nil, s.snapshotErr(fmt.Errorf("error counting history: %w", err))
	}

	topQuery := `
	SELECT user_id, message_count FROM user_stats
	WHERE message_count > 0
	ORDER BY message_count DESC, user_id ASC
	LIMIT 5
	`
	rows, err := s.conn.QueryContext(ctx, topQuery)
	if err != nil {
		return nil, s.snapshotErr(fmt.Errorf("error querying top users: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var u db.TopUser
		if err := rows.Scan(&u.UserID, &u.MessageCount); err != nil {
			return nil, s.snapshotErr(fmt.Errorf("error scanning top user: %w", err))
		}
		snap.TopUsers = append(snap.TopUsers, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.snapshotErr(err)
	}

	counterRows, err := s.conn.QueryContext(ctx, `SELECT name, value FROM bot_counters`)
	if err != nil {
		return nil, s.snapshotErr(fmt.Errorf("error querying counters: %w", err))
	}
	defer counterRows.Close()
	for counterRows.Next() {
		var name string
		var value int64
		if err := counterRows.Scan(&name, &value); err != nil {
			return nil, s.snapshotErr(fmt.Errorf("error scanning counter: %w", err))
		}
		snap.Counters[name] = value
	}
	if err := counterRows.Err(); err != nil {
		return nil, s.snapshotErr(err)
	}

	return snap, nil
}

func (s *Store) snapshotErr(err error) error {
	return apperrors.Wrap(apperrors.KindPersistence, "store.snapshot", err)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Log.WithError(rbErr).Warn("Error rolling back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
