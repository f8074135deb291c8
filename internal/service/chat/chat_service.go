package chat

import (
	"chat-bot/internal/app"
	"chat-bot/internal/logger"
	"chat-bot/internal/repository/db"
	"chat-bot/internal/service/conversation"
	"chat-bot/internal/service/llm"
	"chat-bot/internal/service/prompt"
	"chat-bot/internal/service/ratelimit"
	"chat-bot/internal/service/relay"
	"chat-bot/internal/service/stats"
	"chat-bot/pkg/apperrors"
	"chat-bot/pkg/validation"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned while the user's previous message is still in flight
	ErrBusy = errors.New("previous request still in progress")
	// ErrCancelled is returned when a reset preempted the request or the
	// caller's context ended. It sits outside the apperrors taxonomy: nothing
	// is persisted, no error is counted and no reply is owed.
	ErrCancelled = errors.New("request cancelled")
	// ErrPermissionDenied is returned for admin commands from non-admins
	ErrPermissionDenied = errors.New("permission denied")
)

// State is a step of the per-request lifecycle
type State string

const (
	StateReceived     State = "RECEIVED"
	StateAdmitted     State = "ADMITTED"
	StateContextBuilt State = "CONTEXT_BUILT"
	StateStreaming    State = "STREAMING"
	StatePersisted    State = "PERSISTED"
	StateDone         State = "DONE"
	StateError        State = "ERROR"
)

// Counter names recorded in the store
const (
	statMessage     = "message"
	statError       = "error"
	statRateLimited = "rate_limited"
	statReset       = "reset"
	statStart       = "start"
)

// MessageRequest is one inbound user message
type MessageRequest struct {
	UserID   int64
	Username string
	Text     string
}

// MessageResponse is the outcome of a completed request
type MessageResponse struct {
	RequestID string
	Text      string
	Model     string
	Duration  time.Duration
}

// StatsReport aggregates in-memory and persisted statistics for /stats
type StatsReport struct {
	Global  stats.Snapshot
	Store   *db.StoreSnapshot
	API     *llm.APIStatsSnapshot
	Limiter ratelimit.Stats
}

// HealthReport is the result of /health
type HealthReport struct {
	DatabaseErr   error
	APIStatusCode int
	APILatency    time.Duration
	APIErr        error
	Uptime        time.Duration
}

// BotInfo describes the running bot for /info
type BotInfo struct {
	Name          string
	Version       string
	Model         string
	PromptMode    string
	HistoryWindow int
	RateLimit     int
	RateWindow    time.Duration
	MaxInputChars int
}

type apiStatser interface {
	Stats() llm.APIStatsSnapshot
}

type pinger interface {
	Ping(ctx context.Context) (*llm.PingResult, error)
}

// ChatService drives a message from admission to persisted reply
type ChatService struct {
	db            db.Database
	config        *app.Config
	llmProvider   llm.LLMProvider
	builder       *prompt.Builder
	limiter       *ratelimit.Limiter
	relay         *relay.Relay
	stats         *stats.Global
	validator     *validation.ChatRequestValidator
	conversations *conversation.ConversationService
	gate          *userGate
	systemPrompt  string
}

// NewChatService creates a new ChatService backed by the configured inference endpoint
func NewChatService(database db.Database, config *app.Config) *ChatService {
	llmProvider := llm.NewHuggingFaceProvider(&config.AppConfig.LLM)
	return NewChatServiceWithProvider(database, config, llmProvider)
}

// NewChatServiceWithProvider creates a ChatService around an existing inference provider
func NewChatServiceWithProvider(database db.Database, config *app.Config, llmProvider llm.LLMProvider) *ChatService {
	cfg := config.AppConfig

	systemPrompt := cfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompt.Prompt(cfg.LLM.PromptMode)
	}

	return &ChatService{
		db:            database,
		config:        config,
		llmProvider:   llmProvider,
		builder:       prompt.NewBuilder(database, cfg.Database.HistoryWindow),
		limiter:       ratelimit.NewLimiter(cfg.Limits.RateLimit, cfg.Limits.RateWindow, config.BypassRateLimit),
		relay:         relay.NewRelay(cfg.Limits.RelayInterval),
		stats:         stats.NewGlobal(),
		validator:     validation.NewChatRequestValidator(cfg.Limits.MaxInputChars),
		conversations: conversation.NewConversationService(database, cfg.Database.HistoryWindow),
		gate:          newUserGate(),
		systemPrompt:  systemPrompt,
	}
}

// HandleMessage runs one request through the state machine. Partial and final
// reply text is pushed through emit; the returned error is classified with
// apperrors, or is ErrBusy or ErrCancelled.
func (s *ChatService) HandleMessage(ctx context.Context, req MessageRequest, emit relay.EmitFunc) (*MessageResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()
	log := logger.Log.WithFields(logrus.Fields{
		"request_id": requestID,
		"user_id":    req.UserID,
	})
	transition(log, StateReceived)

	reqCtx, release, err := s.gate.tryAcquire(ctx, req.UserID)
	if err != nil {
		log.Info("Rejected message while another is in flight")
		return nil, err
	}
	defer release()

	s.stats.RecordRequest(req.UserID)

	if err := s.limiter.Admit(req.UserID); err != nil {
		s.stats.RecordRateLimited()
		s.db.RecordStat(ctx, statRateLimited)
		log.WithField("retry_after", apperrors.RetryAfterOf(err).String()).Warn("Rate limit exceeded")
		return nil, err
	}
	transition(log, StateAdmitted)

	text, err := s.validator.ValidateMessage(req.Text)
	if err != nil {
		log.WithField("reason", validation.UserMessage(err)).Info("Rejected invalid message")
		return nil, err
	}
	if hits := s.validator.DetectInjection(text); len(hits) > 0 {
		log.WithField("patterns", hits).Warn("Possible prompt injection")
	}

	messages, err := s.builder.Build(reqCtx, req.UserID, s.systemPrompt, text, s.config.AppConfig.Limits.TokenBudget)
	if err != nil {
		return nil, s.fail(ctx, reqCtx, log, err)
	}
	transition(log.WithField("messages", len(messages)), StateContextBuilt)

	llmCfg := s.config.AppConfig.LLM
	stream, err := s.llmProvider.StreamCompletion(reqCtx, messages, llm.Params{
		Temperature:  llmCfg.Temperature,
		TopP:         llmCfg.TopP,
		MaxNewTokens: llmCfg.MaxNewTokens,
	})
	if err != nil {
		return nil, s.fail(ctx, reqCtx, log, err)
	}
	defer stream.Close()
	transition(log, StateStreaming)

	reply, err := s.relay.Relay(reqCtx, stream, emit)
	if err != nil {
		return nil, s.fail(ctx, reqCtx, log, err)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, s.fail(ctx, reqCtx, log, apperrors.New(apperrors.KindInvalidResponse, "chat.stream", "empty completion"))
	}

	if err := s.db.AppendExchange(reqCtx, req.UserID, text, reply); err != nil {
		return nil, s.fail(ctx, reqCtx, log, err)
	}
	transition(log.WithField("reply_chars", len(reply)), StatePersisted)

	s.db.RecordStat(ctx, statMessage)
	duration := time.Since(start)
	transition(log.WithField("duration_ms", duration.Milliseconds()), StateDone)

	return &MessageResponse{
		RequestID: requestID,
		Text:      reply,
		Model:     s.llmProvider.GetDefaultModel(),
		Duration:  duration,
	}, nil
}

// fail moves the request to ERROR and classifies err
func (s *ChatService) fail(ctx, reqCtx context.Context, log *logrus.Entry, err error) error {
	if reqCtx.Err() != nil && ctx.Err() == nil {
		log.WithField("error", err).Info("Request cancelled by reset")
		return ErrCancelled
	}
	if ctx.Err() != nil {
		log.WithField("error", err).Info("Request aborted")
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}

	if apperrors.KindOf(err) == apperrors.KindUnknown {
		err = apperrors.Wrap(apperrors.KindInvalidResponse, "chat", err)
	}

	s.stats.RecordError()
	s.db.RecordStat(ctx, statError)
	log.WithFields(logrus.Fields{
		"state": StateError,
		"kind":  apperrors.KindOf(err).String(),
		"error": err,
	}).Error("Request failed")
	return err
}

func transition(log *logrus.Entry, state State) {
	log.WithField("state", state).Debug("Request state changed")
}

// Reset cancels anything in flight for the user and clears their session.
// Resetting an empty session succeeds.
func (s *ChatService) Reset(ctx context.Context, userID int64) error {
	_, release, err := s.gate.preempt(ctx, userID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.conversations.ClearHistory(ctx, userID); err != nil {
		logger.Log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Error("Failed to reset session")
		return err
	}
	s.db.RecordStat(ctx, statReset)
	logger.Log.WithField("user_id", userID).Info("Session reset")
	return nil
}

// Start resets the session and returns the greeting for a new conversation
func (s *ChatService) Start(ctx context.Context, userID int64, firstName string) (string, error) {
	if err := s.Reset(ctx, userID); err != nil {
		return "", err
	}
	s.db.RecordStat(ctx, statStart)

	name := firstName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hello, %s! I'm %s. Send me a message and I'll answer. Use /reset to start over and /help to see all commands.",
		name, s.config.AppConfig.Bot.Name), nil
}

// Stats returns the aggregate statistics report. Only admins may call it.
func (s *ChatService) Stats(ctx context.Context, userID int64) (*StatsReport, error) {
	if !s.config.IsAdmin(userID) {
		return nil, ErrPermissionDenied
	}

	snapshot, err := s.db.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load store stats: %w", err)
	}

	report := &StatsReport{
		Global:  s.stats.Snapshot(),
		Store:   snapshot,
		Limiter: s.limiter.Stats(),
	}
	if p, ok := s.llmProvider.(apiStatser); ok {
		api := p.Stats()
		report.API = &api
	}
	return report, nil
}

// UserData returns what is stored about the user, for /mydata
func (s *ChatService) UserData(ctx context.Context, userID int64) (*conversation.UserData, ratelimit.UserStats, error) {
	data, err := s.conversations.GetUserData(ctx, userID)
	if err != nil {
		return nil, ratelimit.UserStats{}, err
	}
	return data, s.limiter.UserStats(userID), nil
}

// Health checks the store and the inference endpoint. Only admins may call it.
func (s *ChatService) Health(ctx context.Context, userID int64) (*HealthReport, error) {
	if !s.config.IsAdmin(userID) {
		return nil, ErrPermissionDenied
	}

	report := &HealthReport{
		DatabaseErr: s.db.Ping(ctx),
		Uptime:      s.stats.Snapshot().Uptime,
	}
	if p, ok := s.llmProvider.(pinger); ok {
		result, err := p.Ping(ctx)
		report.APIErr = err
		if result != nil {
			report.APIStatusCode = result.StatusCode
			report.APILatency = result.Latency
		}
	}
	return report, nil
}

// Info describes the running configuration
func (s *ChatService) Info() BotInfo {
	cfg := s.config.AppConfig
	return BotInfo{
		Name:          cfg.Bot.Name,
		Version:       cfg.Bot.Version,
		Model:         s.llmProvider.GetDefaultModel(),
		PromptMode:    cfg.LLM.PromptMode,
		HistoryWindow: cfg.Database.HistoryWindow,
		RateLimit:     cfg.Limits.RateLimit,
		RateWindow:    cfg.Limits.RateWindow,
		MaxInputChars: s.validator.MaxInputChars(),
	}
}

// IsAdmin reports whether the user may run admin commands
func (s *ChatService) IsAdmin(userID int64) bool {
	return s.config.IsAdmin(userID)
}

// UserMessage renders err as the fixed reply shown to the user
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return "⏳ I'm still answering your previous message. Please wait."
	case errors.Is(err, ErrPermissionDenied):
		return "⛔ This command is available to administrators only."
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindRateLimitExceeded:
		wait := apperrors.RetryAfterOf(err).Round(time.Second)
		if wait < time.Second {
			wait = time.Second
		}
		unit := "seconds"
		if wait == time.Second {
			unit = "second"
		}
		return fmt.Sprintf("🚦 Too many requests. Please try again in %d %s.", int(wait.Seconds()), unit)
	case apperrors.KindValidation:
		return "⚠️ " + validation.UserMessage(err)
	case apperrors.KindUpstreamUnavailable:
		return "😔 The AI service is temporarily unavailable. Please try again later."
	case apperrors.KindPersistence:
		return "😔 Something went wrong while saving our conversation. Please try again."
	default:
		return "😔 Sorry, I couldn't generate a response. Please try again."
	}
}
