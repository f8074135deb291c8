package relay

import (
	"chat-bot/internal/service/llm"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

type timedChunk struct {
	at    time.Duration
	chunk llm.StreamChunk
}

// timedStream moves the fake clock to each chunk's offset as it is read
type timedStream struct {
	clock  *fakeClock
	start  time.Time
	chunks []timedChunk
	pos    int
	err    error
}

func (s *timedStream) Next() bool {
	if s.pos >= len(s.chunks) {
		return false
	}
	s.clock.t = s.start.Add(s.chunks[s.pos].at)
	s.pos++
	return true
}

func (s *timedStream) Chunk() llm.StreamChunk { return s.chunks[s.pos-1].chunk }
func (s *timedStream) Err() error {
	if s.pos >= len(s.chunks) {
		return s.err
	}
	return nil
}
func (s *timedStream) Close() error { return nil }

type emitCall struct {
	at   time.Duration
	text string
}

type recorder struct {
	clock *fakeClock
	start time.Time
	calls []emitCall
	errs  []error
}

func (r *recorder) emit(ctx context.Context, text string) error {
	r.calls = append(r.calls, emitCall{at: r.clock.t.Sub(r.start), text: text})
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

func (r *recorder) texts() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.text)
	}
	return out
}

type throttled struct{ d time.Duration }

func (e throttled) Error() string             { return "too many requests" }
func (e throttled) RetryAfter() time.Duration { return e.d }

func newTestRelay(interval time.Duration) (*Relay, *fakeClock, time.Time, *[]time.Duration) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	var slept []time.Duration
	r := NewRelay(interval)
	r.now = clock.now
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		clock.t = clock.t.Add(d)
		return nil
	}
	return r, clock, start, &slept
}

func content(at time.Duration, s string) timedChunk {
	return timedChunk{at: at, chunk: llm.StreamChunk{Content: s}}
}

func final(at time.Duration) timedChunk {
	return timedChunk{at: at, chunk: llm.StreamChunk{IsFinal: true}}
}

func TestRelay_HelloExchange(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "Hi"), content(10*time.Millisecond, " there!"), final(20 * time.Millisecond),
	}}
	rec := &recorder{clock: clock, start: start}

	text, err := r.Relay(context.Background(), stream, rec.emit)

	require.NoError(t, err)
	assert.Equal(t, "Hi there!", text)
	assert.Equal(t, []string{"Hi", "Hi there!"}, rec.texts())
}

func TestRelay_PacesEmits(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	var chunks []timedChunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, content(time.Duration(i)*300*time.Millisecond, "x"))
	}
	chunks = append(chunks, final(2900*time.Millisecond))
	stream := &timedStream{clock: clock, start: start, chunks: chunks}
	rec := &recorder{clock: clock, start: start}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxx", text)

	require.Len(t, rec.calls, 4)
	assert.Equal(t, time.Duration(0), rec.calls[0].at, "first emit is immediate")
	assert.Equal(t, 1200*time.Millisecond, rec.calls[1].at)
	assert.Equal(t, 2400*time.Millisecond, rec.calls[2].at)
	assert.Equal(t, "xxxxxxxxxx", rec.calls[3].text)

	// Paced emits never come faster than the interval
	for i := 1; i < len(rec.calls)-1; i++ {
		assert.GreaterOrEqual(t, rec.calls[i].at-rec.calls[i-1].at, time.Second)
	}
	// Every emit carries the full text so far
	assert.Equal(t, "x", rec.calls[0].text)
	assert.Equal(t, "xxxxx", rec.calls[1].text)
}

func TestRelay_FinalEmitRepeatsLastText(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "only"), final(5 * time.Second),
	}}
	rec := &recorder{clock: clock, start: start}

	_, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, []string{"only", "only"}, rec.texts())
}

func TestRelay_WhitespaceDoesNotTriggerEmit(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "\n"), content(10*time.Millisecond, " "), content(20*time.Millisecond, "a"), final(30 * time.Millisecond),
	}}
	rec := &recorder{clock: clock, start: start}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "\n a", text)
	assert.Equal(t, []string{"\n a", "\n a"}, rec.texts())
	assert.Equal(t, 20*time.Millisecond, rec.calls[0].at)
}

func TestRelay_EmptyStreamEmitsNothing(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{final(0)}}
	rec := &recorder{clock: clock, start: start}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, rec.calls)
}

func TestRelay_EmitErrorsDoNotAbort(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "a"), content(2*time.Second, "b"), final(3 * time.Second),
	}}
	rec := &recorder{clock: clock, start: start, errs: []error{errors.New("message is not modified")}}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	assert.Equal(t, []string{"a", "ab", "ab"}, rec.texts())
}

func TestRelay_RetryAfterDefersEmits(t *testing.T) {
	r, clock, start, slept := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "a"),
		content(1500*time.Millisecond, "b"),
		content(3*time.Second, "c"),
		content(6*time.Second, "d"),
		final(6100 * time.Millisecond),
	}}
	rec := &recorder{clock: clock, start: start, errs: []error{throttled{d: 5 * time.Second}}}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "abcd", text)

	// Throttled at t=0 for 5s: b and c are held back, d goes out at 6s
	require.Len(t, rec.calls, 3)
	assert.Equal(t, time.Duration(0), rec.calls[0].at)
	assert.Equal(t, 6*time.Second, rec.calls[1].at)
	assert.Equal(t, "abcd", rec.calls[2].text)
	assert.Empty(t, *slept)
}

func TestRelay_FinalEmitWaitsOutThrottle(t *testing.T) {
	r, clock, start, slept := newTestRelay(time.Second)
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{
		content(0, "a"), final(time.Second),
	}}
	rec := &recorder{clock: clock, start: start, errs: []error{throttled{d: 3 * time.Second}}}

	_, err := r.Relay(context.Background(), stream, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	assert.Equal(t, []string{"a", "a"}, rec.texts())
}

func TestRelay_StreamErrorSkipsFinalEmit(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	boom := errors.New("upstream went away")
	stream := &timedStream{clock: clock, start: start, err: boom, chunks: []timedChunk{
		content(0, "partial"),
	}}
	rec := &recorder{clock: clock, start: start}

	text, err := r.Relay(context.Background(), stream, rec.emit)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
	assert.Equal(t, []string{"partial"}, rec.texts())
}

func TestRelay_CancelledContext(t *testing.T) {
	r, clock, start, _ := newTestRelay(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := &timedStream{clock: clock, start: start, chunks: []timedChunk{content(0, "x"), final(0)}}
	rec := &recorder{clock: clock, start: start}

	_, err := r.Relay(ctx, stream, rec.emit)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, rec.calls, 1)
}
