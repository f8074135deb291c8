package llm

import (
	"bytes"
	"chat-bot/internal/config"
	"chat-bot/internal/logger"
	"chat-bot/pkg/apperrors"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	maxErrorBody    = 4 << 10
	maxJSONResponse = 1 << 20
)

// HuggingFaceProvider implements LLMProvider against an OpenAI-compatible
// chat completions router
type HuggingFaceProvider struct {
	config     *config.LLMConfig
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	stats      *APIStats
}

// NewHuggingFaceProvider creates a new provider with config
func NewHuggingFaceProvider(llmConfig *config.LLMConfig) *HuggingFaceProvider {
	return &HuggingFaceProvider{
		config:     llmConfig,
		httpClient: &http.Client{},
		sleep:      sleepContext,
		stats:      &APIStats{},
	}
}

// ChatRequest is the chat completions request body
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	MaxTokens   int       `json:"max_tokens"`
}

// GetDefaultModel returns the configured model
func (p *HuggingFaceProvider) GetDefaultModel() string {
	return p.config.Model
}

// Stats returns a snapshot of call statistics
func (p *HuggingFaceProvider) Stats() APIStatsSnapshot {
	return p.stats.Snapshot()
}

// StreamCompletion opens a streaming completion, retrying transient failures
// with exponential backoff until the first byte of the stream arrives
func (p *HuggingFaceProvider) StreamCompletion(ctx context.Context, messages []Message, params Params) (Stream, error) {
	if p.config.APIToken == "" {
		return nil, apperrors.New(apperrors.KindInvalidResponse, "llm.stream", "HF_TOKEN not configured")
	}

	model := p.GetDefaultModel()
	logger.Log.WithFields(logrus.Fields{
		"model":         model,
		"temperature":   params.Temperature,
		"top_p":         params.TopP,
		"max_tokens":    params.MaxNewTokens,
		"message_count": len(messages),
	}).Info("Calling inference API (streaming)")

	reqBody := ChatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxNewTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidResponse, "llm.stream", fmt.Errorf("error marshaling request: %w", err))
	}

	p.stats.recordCall()
	start := time.Now()
	b := p.newBackOff(ctx)
	var lastDelay time.Duration

	for attempt := 1; ; attempt++ {
		stream, err := p.openStream(ctx, jsonData, start)
		if err == nil {
			if attempt > 1 {
				logger.Log.WithField("attempt", attempt).Info("Inference API recovered after retry")
			}
			return stream, nil
		}

		if ctx.Err() != nil {
			p.stats.recordFailure(ctx.Err())
			return nil, ctx.Err()
		}

		log := logger.Log.WithFields(logrus.Fields{"attempt": attempt, "max_attempts": p.config.MaxAttempts, "error": err})

		if !isTransient(err) {
			log.Error("Inference API returned a non-retryable error")
			wrapped := err
			if apperrors.KindOf(err) == apperrors.KindUnknown {
				wrapped = apperrors.Wrap(apperrors.KindInvalidResponse, "llm.stream", err)
			}
			p.stats.recordFailure(wrapped)
			return nil, wrapped
		}

		if attempt >= p.config.MaxAttempts {
			log.Error("Inference API unavailable, retries exhausted")
			wrapped := apperrors.Wrap(apperrors.KindUpstreamUnavailable, "llm.stream", err)
			p.stats.recordFailure(wrapped)
			return nil, wrapped
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			wrapped := apperrors.Wrap(apperrors.KindUpstreamUnavailable, "llm.stream", err)
			p.stats.recordFailure(wrapped)
			return nil, wrapped
		}
		if ra := retryAfterOf(err); ra > delay {
			delay = ra
		}
		// Jitter around a capped interval must not shorten the wait
		if delay < lastDelay {
			delay = lastDelay
		}
		lastDelay = delay

		log.WithField("delay", delay.String()).Warn("Transient inference failure, retrying")
		p.stats.recordRetry()

		if err := p.sleep(ctx, delay); err != nil {
			p.stats.recordFailure(err)
			return nil, err
		}
	}
}

// openStream performs one attempt and returns once response headers arrive
func (p *HuggingFaceProvider) openStream(ctx context.Context, body []byte, start time.Time) (Stream, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	wd := newWatchdog(p.config.AttemptTimeout, cancel)
	release := func() {
		wd.stop()
		cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.config.APIURL, bytes.NewReader(body))
	if err != nil {
		release()
		return nil, apperrors.Wrap(apperrors.KindInvalidResponse, "llm.request", fmt.Errorf("error creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.config.APIToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		release()
		if wd.fired() {
			return nil, &timeoutError{after: p.config.AttemptTimeout}
		}
		return nil, fmt.Errorf("error sending request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		release()
		return nil, &statusError{
			code:       resp.StatusCode,
			body:       strings.TrimSpace(string(errBody)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		defer release()
		defer resp.Body.Close()
		return p.readJSONCompletion(resp.Body, wd, start)
	}

	wd.reset()
	return newSSEStream(ctx, resp.Body, release, wd, p.stats, start), nil
}

// readJSONCompletion handles endpoints that ignore stream=true
func (p *HuggingFaceProvider) readJSONCompletion(body io.Reader, wd *watchdog, start time.Time) (Stream, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxJSONResponse))
	if err != nil {
		if wd.fired() {
			return nil, &timeoutError{after: p.config.AttemptTimeout}
		}
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, apperrors.New(apperrors.KindInvalidResponse, "llm.decode", "response is neither an event stream nor JSON")
	}

	content := gjson.GetBytes(data, "choices.0.message.content").String()
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.New(apperrors.KindInvalidResponse, "llm.decode", "response has no content")
	}

	logger.Log.WithField("content_length", len(content)).Debug("Received non-streaming completion")
	p.stats.recordSuccess(len(content), time.Since(start))

	final := StreamChunk{Content: content, IsFinal: true, Usage: parseUsage(gjson.GetBytes(data, "usage"))}
	return &SliceStream{chunks: []StreamChunk{final}, pos: -1}, nil
}

// PingResult describes endpoint reachability
type PingResult struct {
	StatusCode int
	Latency    time.Duration
}

// Ping checks that the model endpoint answers
func (p *HuggingFaceProvider) Ping(ctx context.Context) (*PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.HealthURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if p.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIToken)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUpstreamUnavailable, "llm.ping", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	result := &PingResult{StatusCode: resp.StatusCode, Latency: time.Since(start)}
	if resp.StatusCode >= 500 {
		return result, apperrors.New(apperrors.KindUpstreamUnavailable, "llm.ping", fmt.Sprintf("status %d", resp.StatusCode))
	}
	return result, nil
}

func parseUsage(u gjson.Result) *ResponseUsage {
	if !u.IsObject() {
		return nil
	}
	return &ResponseUsage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:      int(u.Get("total_tokens").Int()),
	}
}
