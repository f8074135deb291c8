package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Global holds process-wide counters. They are not persisted and start from
// zero on every process start.
type Global struct {
	requests    atomic.Int64
	errors      atomic.Int64
	rateLimited atomic.Int64
	users       sync.Map
	userCount   atomic.Int64
	startedAt   time.Time
}

// NewGlobal creates zeroed counters, stamped with the start time
func NewGlobal() *Global {
	return &Global{startedAt: time.Now()}
}

// RecordRequest counts an inbound request and its user
func (g *Global) RecordRequest(userID int64) {
	g.requests.Add(1)
	if _, loaded := g.users.LoadOrStore(userID, struct{}{}); !loaded {
		g.userCount.Add(1)
	}
}

// RecordError counts a failed request
func (g *Global) RecordError() {
	g.errors.Add(1)
}

// RecordRateLimited counts a rejected admission
func (g *Global) RecordRateLimited() {
	g.rateLimited.Add(1)
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TotalRequests int64
	TotalUsers    int64
	TotalErrors   int64
	RateLimited   int64
	StartedAt     time.Time
	Uptime        time.Duration
}

// Snapshot returns the current counter values
func (g *Global) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: g.requests.Load(),
		TotalUsers:    g.userCount.Load(),
		TotalErrors:   g.errors.Load(),
		RateLimited:   g.rateLimited.Load(),
		StartedAt:     g.startedAt,
		Uptime:        time.Since(g.startedAt),
	}
}
