package chat

import (
	"chat-bot/internal/logger"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// MaintenanceResult reports what a maintenance pass removed
type MaintenanceResult struct {
	StaleLimiterUsers int
	ExpiredTurns      int64
}

// RunMaintenance drops idle rate limiter state and, when a history TTL is
// configured, turns older than the TTL
func (s *ChatService) RunMaintenance(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	cfg := s.config.AppConfig

	result.StaleLimiterUsers = s.limiter.CleanupStale(2 * cfg.Limits.RateWindow)

	if ttl := cfg.Database.HistoryTTL; ttl > 0 {
		deleted, err := s.db.CleanupOlderThan(ctx, time.Now().Add(-ttl))
		if err != nil {
			return result, fmt.Errorf("failed to clean up history: %w", err)
		}
		result.ExpiredTurns = deleted
	}

	logger.Log.WithFields(logrus.Fields{
		"stale_limiter_users": result.StaleLimiterUsers,
		"expired_turns":       result.ExpiredTurns,
	}).Info("Maintenance pass finished")
	return result, nil
}

// StartJanitor runs RunMaintenance every interval until ctx is done
func (s *ChatService) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunMaintenance(ctx); err != nil {
					logger.Log.WithError(err).Error("Maintenance pass failed")
				}
			}
		}
	}()
}
