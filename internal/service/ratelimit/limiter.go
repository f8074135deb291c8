package ratelimit

import (
	"chat-bot/internal/logger"
	"chat-bot/pkg/apperrors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWindow is the rolling admission window
const DefaultWindow = time.Minute

type userWindow struct {
	requests     []time.Time
	totalAllowed int64
	totalBlocked int64
	lastBlocked  time.Time
}

// prune drops timestamps at or before cutoff
func (w *userWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

// Limiter is a per-user sliding log rate limiter. State is in memory only
// and starts empty on every process start.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	users   map[int64]*userWindow
	allowed int64
	blocked int64
	bypass  func(userID int64) bool
	now     func() time.Time
}

// NewLimiter creates a limiter admitting limit requests per window.
// bypass may be nil; users it accepts are never limited.
func NewLimiter(limit int, window time.Duration, bypass func(userID int64) bool) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if bypass == nil {
		bypass = func(int64) bool { return false }
	}
	logger.Log.WithFields(logrus.Fields{"limit": limit, "window": window.String()}).Info("Rate limiter initialized")
	return &Limiter{
		limit:  limit,
		window: window,
		users:  make(map[int64]*userWindow),
		bypass: bypass,
		now:    time.Now,
	}
}

// Admit records a request for userID, or rejects it with RateLimitExceeded
func (l *Limiter) Admit(userID int64) error {
	if l.bypass(userID) {
		l.mu.Lock()
		l.allowed++
		l.mu.Unlock()
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.userLocked(userID)
	w.prune(now.Add(-l.window))

	if len(w.requests) >= l.limit {
		w.totalBlocked++
		w.lastBlocked = now
		l.blocked++
		cooldown := l.cooldownLocked(w, now)

		logger.Log.WithFields(logrus.Fields{
			"user_id":      userID,
			"in_window":    len(w.requests),
			"limit":        l.limit,
			"total_blocks": w.totalBlocked,
			"cooldown":     cooldown.String(),
		}).Debug("Rate limited user")

		return &apperrors.Error{
			Kind:       apperrors.KindRateLimitExceeded,
			Op:         "ratelimit.admit",
			Msg:        fmt.Sprintf("%d requests per %v", l.limit, l.window),
			RetryAfter: cooldown,
		}
	}

	w.requests = append(w.requests, now)
	w.totalAllowed++
	l.allowed++
	return nil
}

// Cooldown returns how long until userID may send again; zero if not limited
func (l *Limiter) Cooldown(userID int64) time.Duration {
	if l.bypass(userID) {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userID]
	if !ok {
		return 0
	}
	now := l.now()
	w.prune(now.Add(-l.window))
	return l.cooldownLocked(w, now)
}

// cooldownLocked assumes w is pruned
func (l *Limiter) cooldownLocked(w *userWindow, now time.Time) time.Duration {
	if len(w.requests) < l.limit {
		return 0
	}
	// The oldest request in the window frees the next slot
	return w.requests[0].Add(l.window).Sub(now)
}

// Remaining returns how many requests userID may still make in the window
func (l *Limiter) Remaining(userID int64) int {
	if l.bypass(userID) {
		return l.limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userID]
	if !ok {
		return l.limit
	}
	w.prune(l.now().Add(-l.window))
	return max(0, l.limit-len(w.requests))
}

// Reset forgets all state for userID
func (l *Limiter) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[userID]; ok {
		delete(l.users, userID)
		logger.Log.WithField("user_id", userID).Debug("Rate limit reset for user")
	}
}

// CleanupStale drops users with no request newer than maxAge
func (l *Limiter) CleanupStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for id, w := range l.users {
		if len(w.requests) == 0 || w.requests[len(w.requests)-1].Before(cutoff) {
			delete(l.users, id)
			removed++
		}
	}

	if removed > 0 {
		logger.Log.WithField("removed", removed).Debug("Rate limiter cleanup removed stale users")
	}
	return removed
}

// UserStats is per-user limiter state
type UserStats struct {
	TotalAllowed int64
	TotalBlocked int64
	InWindow     int
	Remaining    int
	Cooldown     time.Duration
}

// UserStats returns limiter state for userID
func (l *Limiter) UserStats(userID int64) UserStats {
	l.mu.Lock()
	w, ok := l.users[userID]
	var stats UserStats
	if ok {
		w.prune(l.now().Add(-l.window))
		stats = UserStats{TotalAllowed: w.totalAllowed, TotalBlocked: w.totalBlocked, InWindow: len(w.requests)}
	}
	l.mu.Unlock()

	stats.Remaining = l.Remaining(userID)
	stats.Cooldown = l.Cooldown(userID)
	return stats
}

// Stats is process-wide limiter state
type Stats struct {
	TrackedUsers   int
	ActiveInWindow int
	Allowed        int64
	Blocked        int64
	BlockRate      float64
	Limit          int
	Window         time.Duration
}

// Stats returns global limiter counters
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	active := 0
	for _, w := range l.users {
		if n := len(w.requests); n > 0 && w.requests[n-1].After(cutoff) {
			active++
		}
	}

	s := Stats{
		TrackedUsers:   len(l.users),
		ActiveInWindow: active,
		Allowed:        l.allowed,
		Blocked:        l.blocked,
		Limit:          l.limit,
		Window:         l.window,
	}
	if total := l.allowed + l.blocked; total > 0 {
		s.BlockRate = float64(l.blocked) / float64(total)
	}
	return s
}

func (l *Limiter) userLocked(userID int64) *userWindow {
	w, ok := l.users[userID]
	if !ok {
		w = &userWindow{}
		l.users[userID] = w
	}
	return w
}
