package llm

import (
	"sync"
	"time"
)

// APIStats tracks inference calls since process start
type APIStats struct {
	mu           sync.Mutex
	calls        int64
	successes    int64
	failures     int64
	retries      int64
	totalChars   int64
	totalLatency time.Duration
	lastError    string
}

// APIStatsSnapshot is a point-in-time copy of APIStats
type APIStatsSnapshot struct {
	Calls          int64
	Successes      int64
	Failures       int64
	Retries        int64
	TotalChars     int64
	AverageLatency time.Duration
	SuccessRate    float64
	LastError      string
}

func (s *APIStats) recordCall() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *APIStats) recordRetry() {
	s.mu.Lock()
	s.retries++
	s.mu.Unlock()
}

func (s *APIStats) recordSuccess(chars int, latency time.Duration) {
	s.mu.Lock()
	s.successes++
	s.totalChars += int64(chars)
	s.totalLatency += latency
	s.mu.Unlock()
}

func (s *APIStats) recordFailure(err error) {
	s.mu.Lock()
	s.failures++
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (s *APIStats) Snapshot() APIStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := APIStatsSnapshot{
		Calls:      s.calls,
		Successes:  s.successes,
		Failures:   s.failures,
		Retries:    s.retries,
		TotalChars: s.totalChars,
		LastError:  s.lastError,
	}
	if s.successes > 0 {
		snap.AverageLatency = s.totalLatency / time.Duration(s.successes)
	}
	if done := s.successes + s.failures; done > 0 {
		snap.SuccessRate = float64(s.successes) / float64(done)
	}
	return snap
}
