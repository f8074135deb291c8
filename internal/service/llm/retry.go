package llm

import (
	"chat-bot/pkg/apperrors"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Upper bound on a server supplied Retry-After
const maxRetryAfter = time.Minute

// statusError is a non-200 response from the endpoint
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.code, e.body)
}

// timeoutError is an attempt that exceeded the per-attempt deadline
type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %v", e.after)
}

// isTransient reports whether an attempt failure is worth retrying
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if apperrors.KindOf(err) == apperrors.KindInvalidResponse {
		return false
	}
	// Timeouts and connection level failures
	return true
}

func retryAfterOf(err error) time.Duration {
	var se *statusError
	if errors.As(err, &se) {
		return se.retryAfter
	}
	return 0
}

// parseRetryAfter accepts delay-seconds or an HTTP date
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(value); err == nil {
		d = t.Sub(now)
	}

	if d <= 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

// newBackOff builds the delay schedule base*2^attempt with bounded jitter
func (p *HuggingFaceProvider) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.config.RetryJitter
	b.MaxInterval = p.config.RetryMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
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

// watchdog cancels an attempt when no progress is made within d.
// Reset after every read turns it into an idle timeout.
type watchdog struct {
	d       time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newWatchdog(d time.Duration, cancel context.CancelFunc) *watchdog {
	w := &watchdog{d: d}
	if d > 0 {
		w.timer = time.AfterFunc(d, func() {
			w.expired.Store(true)
			cancel()
		})
	}
	return w
}

func (w *watchdog) reset() {
	if w.timer != nil && !w.expired.Load() {
		w.timer.Reset(w.d)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) fired() bool {
	return w.expired.Load()
}
