package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Key struct{}

var LoggerKey = Key{}

// LevelTrace sits below debug and enables request and response bodies plus
// per-poll signal dumps.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel reads a configured level name. Besides trace, debug, info, warn
// and error it accepts slog offsets such as "info+2". Empty means info.
func ParseLevel(value string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(value))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: use trace, debug, info, warn or error", value)
	}
	return level, nil
}

// levelNames renders LevelTrace as TRACE instead of DEBUG-4.
func levelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// WithLogger stores logger under LoggerKey.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext returns the logger stored under LoggerKey, falling back to a
// logger that discards everything.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.New(slog.DiscardHandler)
}
