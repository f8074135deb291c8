package chat

import (
	"chat-bot/internal/app"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/service/llm"
	"chat-bot/internal/testutil"
	"chat-bot/pkg/apperrors"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser  int64 = 42
	adminUser int64 = 1000
)

type emitRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *emitRecorder) emit(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *emitRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// blockingStream yields nothing until its context is cancelled
type blockingStream struct {
	ctx context.Context
}

func (s *blockingStream) Next() bool {
	<-s.ctx.Done()
	return false
}

func (s *blockingStream) Chunk() llm.StreamChunk { return llm.StreamChunk{} }
func (s *blockingStream) Err() error             { return s.ctx.Err() }
func (s *blockingStream) Close() error           { return nil }

func newTestService(t *testing.T, provider llm.LLMProvider) (*ChatService, *testutil.MemoryDatabase, *app.Config) {
	t.Helper()
	store := testutil.NewMemoryDatabase(10)
	cfg := testutil.NewMockConfig(store)
	return NewChatServiceWithProvider(store, cfg, provider), store, cfg
}

func sliceProvider(calls *atomic.Int32, fragments ...string) *testutil.MockLLMProvider {
	return &testutil.MockLLMProvider{
		StreamCompletionFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
			if calls != nil {
				calls.Add(1)
			}
			return llm.NewSliceStream(fragments...), nil
		},
	}
}

// blockingProvider signals on opened once a stream is handed out
func blockingProvider(opened chan<- struct{}) *testutil.MockLLMProvider {
	return &testutil.MockLLMProvider{
		StreamCompletionFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
			opened <- struct{}{}
			return &blockingStream{ctx: ctx}, nil
		},
	}
}

func TestNewChatService(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	mockConfig := testutil.NewMockConfig(mockDB)

	service := NewChatService(mockDB, mockConfig)

	if service == nil {
		t.Fatal("Expected service to be created, got nil")
	}
	if service.db == nil {
		t.Error("Expected db to be set")
	}
	if service.config == nil {
		t.Error("Expected config to be set")
	}
	if service.llmProvider == nil {
		t.Error("Expected llmProvider to be set")
	}
	if service.systemPrompt != mockConfig.AppConfig.LLM.SystemPrompt {
		t.Errorf("Expected configured system prompt, got %q", service.systemPrompt)
	}
}

func TestNewChatService_PromptModeFallback(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	mockConfig := testutil.NewMockConfig(mockDB)
	mockConfig.AppConfig.LLM.SystemPrompt = ""
	mockConfig.AppConfig.LLM.PromptMode = "coder"

	service := NewChatServiceWithProvider(mockDB, mockConfig, &testutil.MockLLMProvider{})
	if service.systemPrompt == "" {
		t.Error("Expected the mode template to be used")
	}
}

func TestHandleMessage_Hello(t *testing.T) {
	var calls atomic.Int32
	var gotMessages []llm.Message
	provider := &testutil.MockLLMProvider{
		StreamCompletionFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
			calls.Add(1)
			gotMessages = messages
			assert.Equal(t, 0.7, params.Temperature)
			assert.Equal(t, 256, params.MaxNewTokens)
			return llm.NewSliceStream("Hi", " there!"), nil
		},
	}
	service, store, _ := newTestService(t, provider)
	rec := &emitRecorder{}

	resp, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, rec.emit)

	require.NoError(t, err)
	assert.Equal(t, "Hi there!", resp.Text)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, []string{"Hi", "Hi there!"}, rec.all())
	assert.Equal(t, int32(1), calls.Load())

	require.Len(t, gotMessages, 2)
	assert.Equal(t, "system", gotMessages[0].Role)
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, gotMessages[1])

	history, err := store.History(context.Background(), testUser, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, db.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, db.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hi there!", history[1].Content)

	assert.Equal(t, int64(1), store.Counter(statMessage))
	assert.Equal(t, int64(1), service.stats.Snapshot().TotalRequests)
	assert.Equal(t, int64(0), service.stats.Snapshot().TotalErrors)
}

func TestHandleMessage_HistoryIsSentOnNextTurn(t *testing.T) {
	var last []llm.Message
	provider := &testutil.MockLLMProvider{
		StreamCompletionFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
			last = messages
			return llm.NewSliceStream("ok"), nil
		},
	}
	service, _, _ := newTestService(t, provider)
	rec := &emitRecorder{}

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "first"}, rec.emit)
	require.NoError(t, err)
	_, err = service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "second"}, rec.emit)
	require.NoError(t, err)

	require.Len(t, last, 4)
	assert.Equal(t, "first", last[1].Content)
	assert.Equal(t, "ok", last[2].Content)
	assert.Equal(t, "second", last[3].Content)
}

func TestHandleMessage_RateLimited(t *testing.T) {
	var calls atomic.Int32
	service, store, _ := newTestService(t, sliceProvider(&calls, "ok"))
	rec := &emitRecorder{}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "ping"}, rec.emit)
		require.NoError(t, err, "message %d", i+1)
	}

	_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "ping"}, rec.emit)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrRateLimitExceeded))
	assert.Greater(t, apperrors.RetryAfterOf(err), time.Duration(0))
	assert.Equal(t, int32(5), calls.Load(), "no inference for the rejected message")

	assert.Contains(t, UserMessage(err), "Too many requests")

	stats, statsErr := store.UserStats(ctx, testUser)
	require.NoError(t, statsErr)
	assert.Equal(t, int64(5), stats.MessageCount, "no turns for the rejected message")

	snap := service.stats.Snapshot()
	assert.Equal(t, int64(1), snap.RateLimited)
	assert.Equal(t, int64(0), snap.TotalErrors)
	assert.Equal(t, int64(1), store.Counter(statRateLimited))
}

func TestHandleMessage_AdminBypassesRateLimit(t *testing.T) {
	service, _, _ := newTestService(t, sliceProvider(nil, "ok"))
	rec := &emitRecorder{}

	for i := 0; i < 8; i++ {
		_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: adminUser, Text: "ping"}, rec.emit)
		require.NoError(t, err, "message %d", i+1)
	}
}

func TestHandleMessage_AllAttemptsTimeOut(t *testing.T) {
	var attempts atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	store := testutil.NewMemoryDatabase(10)
	cfg := testutil.NewMockConfig(store)
	cfg.AppConfig.LLM.APIURL = server.URL
	cfg.AppConfig.LLM.AttemptTimeout = 50 * time.Millisecond
	cfg.AppConfig.LLM.RetryBaseDelay = time.Millisecond
	cfg.AppConfig.LLM.RetryMaxDelay = 5 * time.Millisecond
	service := NewChatService(store, cfg)
	rec := &emitRecorder{}

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, rec.emit)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Empty(t, rec.all(), "nothing relayed")
	assert.Equal(t, "😔 The AI service is temporarily unavailable. Please try again later.", UserMessage(err))

	assert.Equal(t, int64(1), service.stats.Snapshot().TotalErrors)
	assert.Equal(t, int64(1), store.Counter(statError))

	history, err := store.History(context.Background(), testUser, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandleMessage_ValidationError(t *testing.T) {
	var calls atomic.Int32
	service, store, _ := newTestService(t, sliceProvider(&calls, "ok"))

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "   "}, (&emitRecorder{}).emit)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, int64(0), service.stats.Snapshot().TotalErrors)
	assert.Equal(t, int64(0), store.Counter(statError))
	assert.True(t, strings.HasPrefix(UserMessage(err), "⚠️ "))
}

func TestHandleMessage_PersistenceError(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		HistoryFunc: func(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error) {
			return nil, nil
		},
		AppendExchangeFunc: func(ctx context.Context, userID int64, userText, assistantText string) error {
			return apperrors.Wrap(apperrors.KindPersistence, "append", errors.New("disk full"))
		},
	}
	service := NewChatServiceWithProvider(mockDB, testutil.NewMockConfig(mockDB), sliceProvider(nil, "Hi"))

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
	assert.Equal(t, int64(1), service.stats.Snapshot().TotalErrors)
}

func TestHandleMessage_HistoryLoadError(t *testing.T) {
	var calls atomic.Int32
	mockDB := &testutil.MockDatabase{
		HistoryFunc: func(ctx context.Context, userID int64, maxTurns int) ([]db.Turn, error) {
			return nil, errors.New("connection reset")
		},
	}
	service := NewChatServiceWithProvider(mockDB, testutil.NewMockConfig(mockDB), sliceProvider(&calls, "Hi"))

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)

	assert.Equal(t, apperrors.KindPersistence, apperrors.KindOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestHandleMessage_EmptyCompletion(t *testing.T) {
	service, store, _ := newTestService(t, sliceProvider(nil, "  ", "\n"))

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidResponse))
	history, _ := store.History(context.Background(), testUser, 10)
	assert.Empty(t, history)
}

func TestHandleMessage_StreamFailureMidway(t *testing.T) {
	provider := &testutil.MockLLMProvider{
		StreamCompletionFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Stream, error) {
			return llm.NewFailingStream(errors.New("connection reset by peer"), "Hi"), nil
		},
	}
	service, store, _ := newTestService(t, provider)
	rec := &emitRecorder{}

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "hello"}, rec.emit)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidResponse, apperrors.KindOf(err), "unclassified errors become InvalidResponse")
	assert.Equal(t, []string{"Hi"}, rec.all())
	history, _ := store.History(context.Background(), testUser, 10)
	assert.Empty(t, history, "partial output is not persisted")
}

func TestHandleMessage_BusyUser(t *testing.T) {
	opened := make(chan struct{}, 1)
	service, _, _ := newTestService(t, blockingProvider(opened))
	rec := &emitRecorder{}

	done := make(chan error, 1)
	go func() {
		_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "first"}, rec.emit)
		done <- err
	}()
	<-opened

	_, err := service.HandleMessage(context.Background(), MessageRequest{UserID: testUser, Text: "second"}, rec.emit)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Contains(t, UserMessage(err), "Please wait")

	// Other users are independent
	other, _, _ := newTestService(t, sliceProvider(nil, "ok"))
	_, err = other.HandleMessage(context.Background(), MessageRequest{UserID: testUser + 1, Text: "hi"}, rec.emit)
	assert.NoError(t, err)

	require.NoError(t, service.Reset(context.Background(), testUser))
	assert.ErrorIs(t, <-done, ErrCancelled)
}

func TestReset_CancelsInFlight(t *testing.T) {
	opened := make(chan struct{}, 1)
	service, store, _ := newTestService(t, blockingProvider(opened))
	ctx := context.Background()
	require.NoError(t, store.AppendExchange(ctx, testUser, "old", "older"))

	done := make(chan error, 1)
	go func() {
		_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)
		done <- err
	}()
	<-opened

	require.NoError(t, service.Reset(ctx, testUser))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not cancelled")
	}

	history, err := store.History(ctx, testUser, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.False(t, service.gate.inFlight(testUser))
	assert.Equal(t, int64(0), service.stats.Snapshot().TotalErrors, "cancellation is not an error")
}

func TestHandleMessage_CallerCancelled(t *testing.T) {
	opened := make(chan struct{}, 1)
	service, store, _ := newTestService(t, blockingProvider(opened))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)
		done <- err
	}()
	<-opened
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not stop when its context ended")
	}

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, apperrors.KindUnknown, apperrors.KindOf(err))
	assert.Equal(t, int64(0), service.stats.Snapshot().TotalErrors)
	assert.Equal(t, int64(0), store.Counter(statError))
	assert.False(t, service.gate.inFlight(testUser))

	history, historyErr := store.History(context.Background(), testUser, 10)
	require.NoError(t, historyErr)
	assert.Empty(t, history)
}

func TestReset_Idempotent(t *testing.T) {
	service, store, _ := newTestService(t, sliceProvider(nil, "ok"))
	ctx := context.Background()

	require.NoError(t, service.Reset(ctx, testUser))
	require.NoError(t, service.Reset(ctx, testUser))

	history, err := store.History(ctx, testUser, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, int64(2), store.Counter(statReset))
}

func TestReset_StoreError(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		ClearFunc: func(ctx context.Context, userID int64) error {
			return errors.New("database is locked")
		},
	}
	service := NewChatServiceWithProvider(mockDB, testutil.NewMockConfig(mockDB), &testutil.MockLLMProvider{})

	err := service.Reset(context.Background(), testUser)

	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
	assert.False(t, service.gate.inFlight(testUser))
}

func TestStart(t *testing.T) {
	service, store, _ := newTestService(t, sliceProvider(nil, "ok"))
	ctx := context.Background()
	require.NoError(t, store.AppendExchange(ctx, testUser, "hi", "hello"))

	greeting, err := service.Start(ctx, testUser, "Ann")

	require.NoError(t, err)
	assert.Contains(t, greeting, "Hello, Ann!")
	assert.Contains(t, greeting, "Test Bot")
	history, _ := store.History(ctx, testUser, 10)
	assert.Empty(t, history)
	assert.Equal(t, int64(1), store.Counter(statStart))
}

func TestStats(t *testing.T) {
	service, _, _ := newTestService(t, sliceProvider(nil, "ok"))
	ctx := context.Background()
	_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)
	require.NoError(t, err)

	_, err = service.Stats(ctx, testUser)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	report, err := service.Stats(ctx, adminUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Global.TotalRequests)
	assert.Equal(t, int64(1), report.Global.TotalUsers)
	assert.Equal(t, int64(1), report.Store.TotalMessages)
	assert.Equal(t, int64(2), report.Store.HistoryEntries)
	assert.Equal(t, int64(1), report.Limiter.Allowed)
	assert.Nil(t, report.API, "mock provider reports no API stats")
}

func TestUserData(t *testing.T) {
	service, _, _ := newTestService(t, sliceProvider(nil, "ok"))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := service.HandleMessage(ctx, MessageRequest{UserID: testUser, Text: "hello"}, (&emitRecorder{}).emit)
		require.NoError(t, err)
	}

	data, limits, err := service.UserData(ctx, testUser)

	require.NoError(t, err)
	assert.Equal(t, int64(2), data.MessageCount)
	assert.Equal(t, int64(10), data.TotalCharsSent)
	assert.Equal(t, 4, data.RetainedTurns)
	assert.Equal(t, 3, limits.Remaining)
}

func TestHealth(t *testing.T) {
	mockDB := &testutil.MockDatabase{
		PingFunc: func(ctx context.Context) error { return errors.New("down") },
	}
	service := NewChatServiceWithProvider(mockDB, testutil.NewMockConfig(mockDB), &testutil.MockLLMProvider{})

	_, err := service.Health(context.Background(), testUser)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	report, err := service.Health(context.Background(), adminUser)
	require.NoError(t, err)
	assert.EqualError(t, report.DatabaseErr, "down")
	assert.NoError(t, report.APIErr)
}

func TestInfo(t *testing.T) {
	service, _, _ := newTestService(t, &testutil.MockLLMProvider{
		GetDefaultModelFunc: func() string { return "test-model" },
	})

	info := service.Info()

	assert.Equal(t, "Test Bot", info.Name)
	assert.Equal(t, "test-model", info.Model)
	assert.Equal(t, 10, info.HistoryWindow)
	assert.Equal(t, 5, info.RateLimit)
	assert.Equal(t, 2000, info.MaxInputChars)
}

func TestRunMaintenance(t *testing.T) {
	var cutoff time.Time
	mockDB := &testutil.MockDatabase{
		CleanupOlderThanFunc: func(ctx context.Context, c time.Time) (int64, error) {
			cutoff = c
			return 7, nil
		},
	}
	cfg := testutil.NewMockConfig(mockDB)
	cfg.AppConfig.Database.HistoryTTL = 24 * time.Hour
	service := NewChatServiceWithProvider(mockDB, cfg, &testutil.MockLLMProvider{})

	result, err := service.RunMaintenance(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), result.ExpiredTurns)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
}

func TestRunMaintenance_NoTTL(t *testing.T) {
	mockDB := &testutil.MockDatabase{}
	service := NewChatServiceWithProvider(mockDB, testutil.NewMockConfig(mockDB), &testutil.MockLLMProvider{})

	result, err := service.RunMaintenance(context.Background())

	require.NoError(t, err, "store cleanup is skipped without a TTL")
	assert.Equal(t, int64(0), result.ExpiredTurns)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"busy", ErrBusy, "⏳ I'm still answering your previous message. Please wait."},
		{"permission", ErrPermissionDenied, "⛔ This command is available to administrators only."},
		{"rate limit", &apperrors.Error{Kind: apperrors.KindRateLimitExceeded, RetryAfter: 12 * time.Second}, "🚦 Too many requests. Please try again in 12 seconds."},
		{"rate limit rounds up to a second", &apperrors.Error{Kind: apperrors.KindRateLimitExceeded}, "🚦 Too many requests. Please try again in 1 second."},
		{"validation", apperrors.New(apperrors.KindValidation, "v", "message is empty"), "⚠️ message is empty"},
		{"upstream", apperrors.New(apperrors.KindUpstreamUnavailable, "llm", ""), "😔 The AI service is temporarily unavailable. Please try again later."},
		{"persistence", apperrors.New(apperrors.KindPersistence, "db", ""), "😔 Something went wrong while saving our conversation. Please try again."},
		{"invalid response", apperrors.New(apperrors.KindInvalidResponse, "llm", ""), "😔 Sorry, I couldn't generate a response. Please try again."},
		{"unclassified", errors.New("boom"), "😔 Sorry, I couldn't generate a response. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
