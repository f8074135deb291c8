package telegram

import (
	"chat-bot/internal/logger"
	"chat-bot/internal/transport"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Telegram rejects longer message texts
const maxMessageLength = 4096

// Ensure Bot implements transport.Transport interface
var _ transport.Transport = (*Bot)(nil)

// Bot is the Telegram implementation of transport.Transport
type Bot struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
}

// Options configures the Telegram client
type Options struct {
	Token       string
	PollTimeout time.Duration
	Debug       bool
	// Endpoint overrides tgbotapi.APIEndpoint, mainly for tests
	Endpoint   string
	HTTPClient *http.Client
}

// New connects to the Bot API and verifies the token
func New(opts Options) (*Bot, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("error connecting to telegram: %w", err)
	}
	api.Debug = opts.Debug

	timeout := int(opts.PollTimeout.Seconds())
	if timeout <= 0 {
		timeout = 60
	}

	logger.Log.WithField("username", api.Self.UserName).Info("Authorized on Telegram")
	return &Bot{api: api, pollTimeout: timeout}, nil
}

// Username returns the bot's Telegram username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run long-polls for updates and runs handler in its own goroutine for each
// message until ctx is done. It waits for running handlers before returning.
func (b *Bot) Run(ctx context.Context, handler transport.Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(cfg)

	var wg sync.WaitGroup
	defer wg.Wait()

	logger.Log.WithField("poll_timeout", b.pollTimeout).Info("Polling for Telegram updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			logger.Log.Info("Stopped polling for Telegram updates")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			u, ok := toUpdate(upd)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Log.WithFields(logrus.Fields{"user_id": u.UserID, "panic": r}).Error("Handler panicked")
					}
				}()
				handler(ctx, u)
			}()
		}
	}
}

// toUpdate extracts a text message; other update kinds are ignored
func toUpdate(upd tgbotapi.Update) (transport.Update, bool) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return transport.Update{}, false
	}

	u := transport.Update{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Text:      msg.Text,
	}
	if msg.IsCommand() {
		u.Command = strings.ToLower(msg.Command())
		u.Args = msg.CommandArguments()
	}
	return u, true
}

// Send posts text to the chat and returns the new message id
func (b *Bot) Send(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, clip(text)))
	if err != nil {
		return 0, translate(err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of a sent message. Unchanged text is not an error.
func (b *Bot) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, clip(text)))
	if err != nil {
		if isNotModified(err) {
			return nil
		}
		return translate(err)
	}
	return nil
}

// SendTyping shows the typing indicator in the chat
func (b *Bot) SendTyping(ctx context.Context, chatID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps Telegram flood control to transport.RetryAfterError
func translate(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return &transport.RetryAfterError{
			After: time.Duration(apiErr.RetryAfter) * time.Second,
			Err:   err,
		}
	}
	return err
}

func isNotModified(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "message is not modified")
}

func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxMessageLength {
		return text
	}
	return string(r[:maxMessageLength-1]) + "…"
}
