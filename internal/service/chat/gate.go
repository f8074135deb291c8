package chat

import (
	"context"
	"sync"
)

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// userGate admits at most one request per user at a time
type userGate struct {
	mu      sync.Mutex
	entries map[int64]*inflight
}

func newUserGate() *userGate {
	return &userGate{entries: make(map[int64]*inflight)}
}

// tryAcquire claims the user's slot or fails with ErrBusy. The returned
// context is cancelled when the slot is preempted or released.
func (g *userGate) tryAcquire(ctx context.Context, userID int64) (context.Context, func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.entries[userID]; busy {
		return nil, nil, ErrBusy
	}
	reqCtx, release := g.installLocked(ctx, userID)
	return reqCtx, release, nil
}

// preempt cancels whatever the user has in flight, waits for it to unwind,
// then claims the slot
func (g *userGate) preempt(ctx context.Context, userID int64) (context.Context, func(), error) {
	for {
		g.mu.Lock()
		entry, busy := g.entries[userID]
		if !busy {
			reqCtx, release := g.installLocked(ctx, userID)
			g.mu.Unlock()
			return reqCtx, release, nil
		}
		g.mu.Unlock()

		entry.cancel()
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

// inFlight reports whether the user currently holds the slot
func (g *userGate) inFlight(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.entries[userID]
	return busy
}

func (g *userGate) installLocked(ctx context.Context, userID int64) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	entry := &inflight{cancel: cancel, done: make(chan struct{})}
	g.entries[userID] = entry

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			if g.entries[userID] == entry {
				delete(g.entries, userID)
			}
			g.mu.Unlock()
			cancel()
			close(entry.done)
		})
	}
	return reqCtx, release
}
