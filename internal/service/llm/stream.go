package llm

import (
	"bufio"
	"chat-bot/internal/logger"
	"chat-bot/pkg/apperrors"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const maxEventSize = 1 << 20

// sseStream decodes OpenAI-style chat completion events from a response body
type sseStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
	release func()
	wd      *watchdog
	stats   *APIStats
	start   time.Time

	current   StreamChunk
	err       error
	done      bool
	chars     int
	malformed int
	usage     *ResponseUsage
	closeOnce sync.Once
}

func newSSEStream(ctx context.Context, body io.ReadCloser, release func(), wd *watchdog, stats *APIStats, start time.Time) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseStream{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		release: release,
		wd:      wd,
		stats:   stats,
		start:   start,
	}
}

func (s *sseStream) Next() bool {
	if s.done {
		return false
	}

	for s.scanner.Scan() {
		s.wd.reset()

		// Parse SSE event format: "data: {json}"; comments and other fields are ignored
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return s.finish("")
		}

		if !gjson.Valid(data) {
			s.malformed++
			logger.Log.WithField("event", truncate(data, 200)).Warn("Skipping malformed stream event")
			continue
		}

		event := gjson.Parse(data)
		if apiErr := event.Get("error"); apiErr.Exists() {
			msg := apiErr.Get("message").String()
			if msg == "" {
				msg = apiErr.String()
			}
			return s.fail(apperrors.New(apperrors.KindUpstreamUnavailable, "llm.stream", "upstream error: "+truncate(msg, 200)))
		}

		if usage := parseUsage(event.Get("usage")); usage != nil {
			s.usage = usage
		}

		content := event.Get("choices.0.delta.content").String()
		s.chars += len(content)

		if reason := event.Get("choices.0.finish_reason").String(); reason != "" {
			return s.finish(content)
		}
		if content == "" {
			continue
		}

		s.current = StreamChunk{Content: content}
		return true
	}

	if err := s.scanner.Err(); err != nil {
		switch {
		case s.wd.fired():
			return s.fail(apperrors.Wrap(apperrors.KindUpstreamUnavailable, "llm.stream", &timeoutError{after: s.wd.d}))
		case s.ctx.Err() != nil:
			return s.fail(s.ctx.Err())
		default:
			return s.fail(apperrors.Wrap(apperrors.KindUpstreamUnavailable, "llm.stream", fmt.Errorf("error reading stream: %w", err)))
		}
	}

	// EOF without a terminal event is a normal completion
	return s.finish("")
}

func (s *sseStream) finish(content string) bool {
	s.done = true
	s.current = StreamChunk{Content: content, IsFinal: true, Usage: s.usage}
	s.stats.recordSuccess(s.chars, time.Since(s.start))

	fields := logrus.Fields{"chars": s.chars, "malformed_events": s.malformed, "elapsed": time.Since(s.start).String()}
	if s.usage != nil {
		fields["completion_tokens"] = s.usage.CompletionTokens
	}
	logger.Log.WithFields(fields).Debug("Stream completed")
	return true
}

func (s *sseStream) fail(err error) bool {
	s.done = true
	s.err = err
	s.current = StreamChunk{}
	s.stats.recordFailure(err)
	return false
}

func (s *sseStream) Chunk() StreamChunk {
	return s.current
}

func (s *sseStream) Err() error {
	return s.err
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.release()
		err = s.body.Close()
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
