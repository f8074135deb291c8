package testutil

import (
	"chat-bot/internal/repository/db"
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"
)

// Ensure MemoryDatabase implements db.Database interface
var _ db.Database = (*MemoryDatabase)(nil)

// MemoryDatabase is an in-memory db.Database with the same window semantics
// as the SQL stores
type MemoryDatabase struct {
	mu       sync.Mutex
	window   int
	seq      int64
	turns    map[int64][]db.Turn
	stats    map[int64]*db.UserStats
	counters map[string]int64
}

// NewMemoryDatabase creates an empty store retaining window turns per user
func NewMemoryDatabase(window int) *MemoryDatabase {
	return &MemoryDatabase{
		window:   window,
		turns:    make(map[int64][]db.Turn),
		stats:    make(map[int64]*db.UserStats),
		counters: make(map[string]int64),
	}
}

func (m *MemoryDatabase) AppendTurn(ctx context.Context, userID int64, role db.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(userID, role, content)
	return nil
}

func (m *MemoryDatabase) AppendExchange(ctx context.Context, userID int64, userText, assistantText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(userID, db.RoleUser, userText)
	m.appendLocked(userID, db.RoleAssistant, assistantText)
	return nil
}

func (m *MemoryDatabase) appendLocked(userID int64, role db.Role, content string) {
	m.seq++
	now := time.Now().UTC()
	turns := append(m.turns[userID], db.Turn{
		ID:        strconv.FormatInt(m.seq, 10),
		Seq:       m.seq,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	if len(turns) > m.window {
		turns = turns[len(turns)-m.window:]
	}
	m.turns[userID] = turns

	if role == db.RoleUser {
		s := m.userStatsLocked(userID, now)
		s.MessageCount++
		s.TotalCharsSent += int64(utf8.RuneCountInString(content))
		s.LastActive = now
	}
}

func (m *MemoryDatabase) userStatsLocked(userID int64, now time.Time) *db.UserStats {
	s, ok := m.stats[userID]
	if !ok {
		s = &db.UserStats{UserID: userID, FirstSeen: now, LastActive: now}
		m.stats[userID] = s
	}
	return s
}

func (m *MemoryDatabase) History(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[userID]
	if maxTurns < len(turns) {
		turns = turns[len(turns)-maxTurns:]
	}
	return append([]db.Turn{}, turns...), nil
}

func (m *MemoryDatabase) Clear(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.turns, userID)
	m.userStatsLocked(userID, time.Now().UTC()).ResetCount++
	return nil
}

func (m *MemoryDatabase) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, turns := range m.turns {
		kept := turns[:0]
		for _, t := range turns {
			if t.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, t)
		}
		m.turns[id] = kept
	}
	return deleted, nil
}

func (m *MemoryDatabase) RecordStat(ctx context.Context, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[event]++
}

// Counter returns the value of a recorded stat
func (m *MemoryDatabase) Counter(event string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[event]
}

func (m *MemoryDatabase) UserStats(ctx context.Context, userID int64) (*db.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[userID]; ok {
		copied := *s
		return &copied, nil
	}
	return &db.UserStats{UserID: userID}, nil
}

func (m *MemoryDatabase) Snapshot(ctx context.Context) (*db.StoreSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &db.StoreSnapshot{Counters: make(map[string]int64)}
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	for _, s := range m.stats {
		snap.TotalUsers++
		snap.TotalMessages += s.MessageCount
		snap.TotalChars += s.TotalCharsSent
		if !s.LastActive.Before(startOfDay) {
			snap.ActiveToday++
		}
		if s.MessageCount > 0 {
			snap.TopUsers = append(snap.TopUsers, db.TopUser{UserID: s.UserID, MessageCount: s.MessageCount})
		}
	}
	sort.Slice(snap.TopUsers, func(i, j int) bool {
		if snap.TopUsers[i].MessageCount != snap.TopUsers[j].MessageCount {
			return snap.TopUsers[i].MessageCount > snap.TopUsers[j].MessageCount
		}
		return snap.TopUsers[i].UserID < snap.TopUsers[j].UserID
	})
	if len(snap.TopUsers) > 5 {
		snap.TopUsers = snap.TopUsers[:5]
	}
	for _, turns := range m.turns {
		snap.HistoryEntries += int64(len(turns))
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	return snap, nil
}

func (m *MemoryDatabase) Ping(ctx context.Context) error { return nil }

func (m *MemoryDatabase) Close() error { return nil }
