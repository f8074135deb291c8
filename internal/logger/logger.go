package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var Log *logrus.Logger

const redacted = "***"

func init() {
	Log = logrus.New()

	// Set output to stdout
	Log.SetOutput(os.Stdout)

	SetLevel(os.Getenv("LOG_LEVEL"))

	// Use JSON formatter for structured logs
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLevel sets the log level by name, falling back to info
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "info":
		Log.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
}

// RedactHook masks registered secrets in log messages and string fields
type RedactHook struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactHook creates a hook masking the given non-empty secrets
func NewRedactHook(secrets ...string) *RedactHook {
	h := &RedactHook{}
	h.Add(secrets...)
	return h
}

// Add registers more secrets to mask
func (h *RedactHook) Add(secrets ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range secrets {
		if s != "" {
			h.secrets = append(h.secrets, s)
		}
	}
}

func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RedactHook) Fire(entry *logrus.Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.secrets) == 0 {
		return nil
	}

	entry.Message = h.mask(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = h.mask(val)
		case error:
			entry.Data[k] = h.mask(val.Error())
		}
	}
	return nil
}

func (h *RedactHook) mask(s string) string {
	for _, secret := range h.secrets {
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// RedactSecrets installs a redaction hook on the global logger
func RedactSecrets(secrets ...string) {
	Log.AddHook(NewRedactHook(secrets...))
}
