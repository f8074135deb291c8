package relay

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/service/llm"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultInterval keeps edits under the transport's per-chat edit limit
const DefaultInterval = time.Second

// EmitFunc pushes the text accumulated so far to the transport
type EmitFunc func(ctx context.Context, text string) error

// RetryAfterError is returned by an EmitFunc that was throttled
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Relay accumulates stream chunks and paces partial-update emits
type Relay struct {
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRelay creates a relay emitting at most once per interval
func NewRelay(interval time.Duration) *Relay {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Relay{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Relay drains stream, calling emit with the full text so far at most once per
// interval and once more at the end. It returns the full text, or the stream's
// error together with whatever text arrived before it.
func (r *Relay) Relay(ctx context.Context, stream llm.Stream, emit EmitFunc) (string, error) {
	var (
		buf       strings.Builder
		lastEmit  time.Time
		emitted   bool
		notBefore time.Time
	)

	for stream.Next() {
		chunk := stream.Chunk()
		buf.WriteString(chunk.Content)

		if chunk.IsFinal {
			break
		}
		// Whitespace alone never triggers an update
		if strings.TrimSpace(chunk.Content) == "" {
			continue
		}

		now := r.now()
		if emitted && now.Sub(lastEmit) < r.interval {
			continue
		}
		if now.Before(notBefore) {
			continue
		}

		text := buf.String()
		lastEmit, emitted = now, true
		if wait := r.emit(ctx, emit, text); wait > 0 {
			notBefore = now.Add(wait)
		}
	}

	if err := stream.Err(); err != nil {
		return buf.String(), err
	}
	if err := ctx.Err(); err != nil {
		return buf.String(), err
	}

	final := buf.String()
	if strings.TrimSpace(final) == "" {
		return final, nil
	}

	// The final text always goes out, after any throttle window
	if wait := notBefore.Sub(r.now()); wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return final, err
		}
	}
	if wait := r.emit(ctx, emit, final); wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return final, err
		}
		r.emit(ctx, emit, final)
	}

	logger.Log.WithFields(logrus.Fields{"chars": len(final)}).Debug("Relay finished")
	return final, nil
}

// emit calls fn, logging failures. It returns the throttle delay, if any.
func (r *Relay) emit(ctx context.Context, fn EmitFunc, text string) time.Duration {
	err := fn(ctx, text)
	if err == nil {
		return 0
	}

	var ra RetryAfterError
	if errors.As(err, &ra) {
		logger.Log.WithField("retry_after", ra.RetryAfter().String()).Warn("Transport throttled updates")
		return ra.RetryAfter()
	}

	logger.Log.WithError(err).Debug("Failed to emit partial update")
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
