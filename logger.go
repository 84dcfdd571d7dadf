package ghauth

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger writes one JSON object per event. Every attribute, the message and
// nested groups pass through the sanitizer before they reach the output.
type Logger struct {
	sl *slog.Logger
}

// NewLogger builds a Logger writing to w at the given minimum level.
// A nil writer means stdout.
func NewLogger(w io.Writer, level slog.Level) *Logger {
	if w == nil {
		w = os.Stdout
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	})
	return &Logger{sl: slog.New(h)}
}

// NopLogger discards everything. Handy as a default for tests.
func NopLogger() *Logger {
	return NewLogger(io.Discard, slog.LevelError+1)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels,
// defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Info(event, msg string, attrs ...any) {
	l.log(slog.LevelInfo, event, msg, attrs)
}

func (l *Logger) Warn(event, msg string, attrs ...any) {
	l.log(slog.LevelWarn, event, msg, attrs)
}

func (l *Logger) Error(event, msg string, attrs ...any) {
	l.log(slog.LevelError, event, msg, attrs)
}

// Slog exposes the underlying logger, e.g. for http.Server.ErrorLog.
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

func (l *Logger) log(level slog.Level, event, msg string, attrs []any) {
	if l == nil || l.sl == nil {
		return
	}
	args := make([]any, 0, len(attrs)+2)
	args = append(args, slog.String("event", event))
	args = append(args, attrs...)
	l.sl.Log(context.Background(), level, msg, args...)
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch a.Key {
		case slog.TimeKey, slog.LevelKey:
			return a
		case slog.MessageKey:
			return slog.String(a.Key, SanitizeString(a.Value.String()))
		}
	}
	if IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, SanitizeString(v.String()))
	case slog.KindAny:
		return slog.Any(a.Key, Sanitize(v.Any()))
	default:
		return slog.Attr{Key: a.Key, Value: v}
	}
}
