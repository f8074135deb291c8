package handlers

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/service/chat"
	"chat-bot/internal/service/conversation"
	"chat-bot/internal/service/ratelimit"
	"chat-bot/internal/service/relay"
	"chat-bot/internal/transport"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━"

// ChatService is the orchestrator surface the bot commands use
type ChatService interface {
	HandleMessage(ctx context.Context, req chat.MessageRequest, emit relay.EmitFunc) (*chat.MessageResponse, error)
	Reset(ctx context.Context, userID int64) error
	Start(ctx context.Context, userID int64, firstName string) (string, error)
	Stats(ctx context.Context, userID int64) (*chat.StatsReport, error)
	UserData(ctx context.Context, userID int64) (*conversation.UserData, ratelimit.UserStats, error)
	Health(ctx context.Context, userID int64) (*chat.HealthReport, error)
	Info() chat.BotInfo
	IsAdmin(userID int64) bool
}

// BotHandlers answers Telegram commands and chat messages
type BotHandlers struct {
	chat      ChatService
	transport transport.Transport
	startedAt time.Time
}

// NewBotHandlers creates handlers that reply through t
func NewBotHandlers(chatService ChatService, t transport.Transport) *BotHandlers {
	return &BotHandlers{
		chat:      chatService,
		transport: t,
		startedAt: time.Now(),
	}
}

// Handle routes one update to its command or to the conversation
func (h *BotHandlers) Handle(ctx context.Context, u transport.Update) {
	log := logger.Log.WithFields(logrus.Fields{
		"user_id": u.UserID,
		"chat_id": u.ChatID,
		"command": u.Command,
	})

	if !u.IsCommand() {
		h.handleMessage(ctx, u)
		return
	}

	log.Info("Handling command")
	switch u.Command {
	case "start":
		h.handleStart(ctx, u)
	case "reset":
		h.handleReset(ctx, u)
	case "help":
		h.handleHelp(ctx, u)
	case "info":
		h.handleInfo(ctx, u)
	case "ping":
		h.handlePing(ctx, u)
	case "mydata":
		h.handleMyData(ctx, u)
	case "stats":
		h.handleStats(ctx, u)
	case "health":
		h.handleHealth(ctx, u)
	default:
		h.reply(ctx, u.ChatID, "🤔 Unknown command. Use /help to see what I can do.")
	}
}

// reply sends text, logging failures
func (h *BotHandlers) reply(ctx context.Context, chatID int64, text string) {
	if _, err := h.transport.Send(ctx, chatID, text); err != nil {
		logger.Log.WithFields(logrus.Fields{"chat_id": chatID, "error": err}).Error("Failed to send reply")
	}
}

// replySink sends the first emitted text as a new message and edits it after that
type replySink struct {
	transport transport.Transport
	chatID    int64

	mu        sync.Mutex
	messageID int
	last      string
}

func (s *replySink) emit(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messageID == 0 {
		id, err := s.transport.Send(ctx, s.chatID, text)
		if err != nil {
			return err
		}
		s.messageID, s.last = id, text
		return nil
	}
	if text == s.last {
		return nil
	}
	if err := s.transport.Edit(ctx, s.chatID, s.messageID, text); err != nil {
		return err
	}
	s.last = text
	return nil
}

// fail replaces any partial output with text, or sends text if nothing went out yet
func (s *replySink) fail(ctx context.Context, text string) {
	s.mu.Lock()
	id := s.messageID
	s.mu.Unlock()

	var err error
	if id == 0 {
		_, err = s.transport.Send(ctx, s.chatID, text)
	} else {
		err = s.transport.Edit(ctx, s.chatID, id, text)
	}
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"chat_id": s.chatID, "error": err}).Error("Failed to deliver error reply")
	}
}

func (h *BotHandlers) handleMessage(ctx context.Context, u transport.Update) {
	if err := h.transport.SendTyping(ctx, u.ChatID); err != nil {
		logger.Log.WithError(err).Debug("Failed to send typing indicator")
	}

	sink := &replySink{transport: h.transport, chatID: u.ChatID}
	resp, err := h.chat.HandleMessage(ctx, chat.MessageRequest{
		UserID:   u.UserID,
		Username: u.Username,
		Text:     u.Text,
	}, sink.emit)
	if err != nil {
		if errors.Is(err, chat.ErrCancelled) || errors.Is(err, context.Canceled) {
			return
		}
		sink.fail(ctx, chat.UserMessage(err))
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":     u.UserID,
		"request_id":  resp.RequestID,
		"chars":       len(resp.Text),
		"duration_ms": resp.Duration.Milliseconds(),
	}).Info("Reply delivered")
}

func (h *BotHandlers) handleStart(ctx context.Context, u transport.Update) {
	greeting, err := h.chat.Start(ctx, u.UserID, u.FirstName)
	if err != nil {
		h.reply(ctx, u.ChatID, chat.UserMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString("👋 " + greeting + "\n\n")
	sb.WriteString(divider + "\n")
	sb.WriteString("🔹 /reset — forget this conversation\n")
	sb.WriteString("🔹 /help — list all commands\n")
	sb.WriteString("🔹 /info — about this bot\n")
	sb.WriteString("🔹 /mydata — your conversation stats\n")
	sb.WriteString(divider)
	h.reply(ctx, u.ChatID, sb.String())
}

func (h *BotHandlers) handleReset(ctx context.Context, u transport.Update) {
	if err := h.chat.Reset(ctx, u.UserID); err != nil {
		h.reply(ctx, u.ChatID, chat.UserMessage(err))
		return
	}
	h.reply(ctx, u.ChatID, "🧹 Chat reset! I've forgotten our conversation. Send a new message to start fresh.")
}

func (h *BotHandlers) handleHelp(ctx context.Context, u transport.Update) {
	info := h.chat.Info()

	var sb strings.Builder
	sb.WriteString("📖 Commands\n\n")
	sb.WriteString("🔹 /start — restart and greet\n")
	sb.WriteString("🔹 /reset — clear conversation history\n")
	sb.WriteString("🔹 /help — show this help\n")
	sb.WriteString("🔹 /info — bot information\n")
	sb.WriteString("🔹 /mydata — your conversation stats\n")
	sb.WriteString("🔹 /ping — check the bot is alive\n")
	if h.chat.IsAdmin(u.UserID) {
		sb.WriteString("\n🔐 Admin commands\n")
		sb.WriteString("🔸 /stats — global statistics\n")
		sb.WriteString("🔸 /health — system health check\n")
	}
	sb.WriteString("\n" + divider + "\n")
	sb.WriteString("💡 Just type a message to chat!\n")
	fmt.Fprintf(&sb, "⚡ Rate limit: %d messages per %s\n", info.RateLimit, formatDuration(info.RateWindow))
	fmt.Fprintf(&sb, "📝 Max input: %s characters", formatNumber(int64(info.MaxInputChars)))
	h.reply(ctx, u.ChatID, sb.String())
}

func (h *BotHandlers) handleInfo(ctx context.Context, u transport.Update) {
	info := h.chat.Info()

	var sb strings.Builder
	fmt.Fprintf(&sb, "🤖 %s\n\n", info.Name)
	sb.WriteString(divider + "\n")
	fmt.Fprintf(&sb, "📦 Version: %s\n", info.Version)
	fmt.Fprintf(&sb, "🧠 Model: %s\n", shortModel(info.Model))
	fmt.Fprintf(&sb, "🎭 Prompt mode: %s\n", info.PromptMode)
	fmt.Fprintf(&sb, "💬 Context window: %d messages\n", info.HistoryWindow)
	fmt.Fprintf(&sb, "⏱️ Uptime: %s\n", formatDuration(time.Since(h.startedAt)))
	sb.WriteString(divider)
	h.reply(ctx, u.ChatID, sb.String())
}

func (h *BotHandlers) handlePing(ctx context.Context, u transport.Update) {
	start := time.Now()
	id, err := h.transport.Send(ctx, u.ChatID, "🏓 Pong!")
	if err != nil {
		logger.Log.WithError(err).Error("Failed to send pong")
		return
	}
	latency := time.Since(start)

	text := fmt.Sprintf("🏓 Pong!\n⚡ Latency: %dms\n⏱️ Uptime: %s", latency.Milliseconds(), formatDuration(time.Since(h.startedAt)))
	if err := h.transport.Edit(ctx, u.ChatID, id, text); err != nil {
		logger.Log.WithError(err).Debug("Failed to edit pong")
	}
}

func (h *BotHandlers) handleMyData(ctx context.Context, u transport.Update) {
	data, limits, err := h.chat.UserData(ctx, u.UserID)
	if err != nil {
		h.reply(ctx, u.ChatID, chat.UserMessage(err))
		return
	}

	name := u.FirstName
	if name == "" {
		name = "you"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Your data, %s\n\n", name)
	sb.WriteString(divider + "\n")
	fmt.Fprintf(&sb, "💬 Messages sent: %s\n", formatNumber(data.MessageCount))
	fmt.Fprintf(&sb, "🔤 Characters sent: %s\n", formatNumber(data.TotalCharsSent))
	fmt.Fprintf(&sb, "🧹 Resets: %d\n", data.ResetCount)
	fmt.Fprintf(&sb, "📅 First seen: %s\n", formatTime(data.FirstSeen))
	fmt.Fprintf(&sb, "🕐 Last active: %s\n", formatTime(data.LastActive))
	sb.WriteString(divider + "\n")
	fmt.Fprintf(&sb, "🗂️ Context window: %d/%d\n", data.RetainedTurns, data.HistoryWindow)
	fmt.Fprintf(&sb, "⚡ Messages left this minute: %d", limits.Remaining)
	h.reply(ctx, u.ChatID, sb.String())
}

func (h *BotHandlers) handleStats(ctx context.Context, u transport.Update) {
	report, err := h.chat.Stats(ctx, u.UserID)
	if err != nil {
		if errors.Is(err, chat.ErrPermissionDenied) {
			logger.Log.WithField("user_id", u.UserID).Warn("Unauthorized /stats attempt")
		}
		h.reply(ctx, u.ChatID, chat.UserMessage(err))
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 Global Bot Statistics\n\n")
	sb.WriteString(divider + "\n")
	fmt.Fprintf(&sb, "👥 Users (all time): %s\n", formatNumber(report.Store.TotalUsers))
	fmt.Fprintf(&sb, "💬 Messages (all time): %s\n", formatNumber(report.Store.TotalMessages))
	fmt.Fprintf(&sb, "📈 Active today: %s\n", formatNumber(report.Store.ActiveToday))
	fmt.Fprintf(&sb, "🗂️ History entries: %s\n", formatNumber(report.Store.HistoryEntries))
	sb.WriteString(divider + "\n")
	fmt.Fprintf(&sb, "📨 Requests since start: %s\n", formatNumber(report.Global.TotalRequests))
	fmt.Fprintf(&sb, "👤 Users since start: %s\n", formatNumber(report.Global.TotalUsers))
	fmt.Fprintf(&sb, "❌ Errors: %s\n", formatNumber(report.Global.TotalErrors))
	fmt.Fprintf(&sb, "🚦 Rate limited: %s (%.1f%%)\n", formatNumber(report.Global.RateLimited), report.Limiter.BlockRate*100)
	if report.API != nil {
		fmt.Fprintf(&sb, "🧠 API calls: %s, success %.1f%%, avg %dms\n",
			formatNumber(report.API.Calls), report.API.SuccessRate*100, report.API.AverageLatency.Milliseconds())
	}
	fmt.Fprintf(&sb, "⏱️ Uptime: %s\n", formatDuration(report.Global.Uptime))
	if len(report.Store.TopUsers) > 0 {
		sb.WriteString(divider + "\n🏆 Top users\n")
		for i, top := range report.Store.TopUsers {
			fmt.Fprintf(&sb, "%d. %d — %s messages\n", i+1, top.UserID, formatNumber(top.MessageCount))
		}
	}
	sb.WriteString(divider)
	h.reply(ctx, u.ChatID, sb.String())
}

func (h *BotHandlers) handleHealth(ctx context.Context, u transport.Update) {
	report, err := h.chat.Health(ctx, u.UserID)
	if err != nil {
		h.reply(ctx, u.ChatID, chat.UserMessage(err))
		return
	}

	dbStatus := "✅ Online"
	if report.DatabaseErr != nil {
		dbStatus = "❌ " + truncate(report.DatabaseErr.Error(), 50)
	}
	apiStatus := "✅ Online"
	switch {
	case report.APIErr != nil:
		apiStatus = "❌ " + truncate(report.APIErr.Error(), 50)
	case report.APIStatusCode != 0 && report.APIStatusCode != 200:
		apiStatus = fmt.Sprintf("⚠️ Status %d", report.APIStatusCode)
	}
	info := h.chat.Info()

	var sb strings.Builder
	sb.WriteString("🏥 System Health Check\n\n")
	sb.WriteString(divider + "\n")
	sb.WriteString("🤖 Bot: ✅ Running\n")
	fmt.Fprintf(&sb, "⏱️ Uptime: %s\n", formatDuration(report.Uptime))
	fmt.Fprintf(&sb, "🗄️ Database: %s\n", dbStatus)
	fmt.Fprintf(&sb, "🧠 Inference API: %s\n", apiStatus)
	fmt.Fprintf(&sb, "📡 API latency: %dms\n", report.APILatency.Milliseconds())
	fmt.Fprintf(&sb, "📦 Version: %s\n", info.Version)
	fmt.Fprintf(&sb, "🔧 Model: %s\n", shortModel(info.Model))
	sb.WriteString(divider)
	h.reply(ctx, u.ChatID, sb.String())
}
