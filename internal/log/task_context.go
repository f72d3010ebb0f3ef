package log

import (
	"context"
	"log/slog"
	"strings"
)

type taskLogContextKey struct{}

// TaskLogContext contains the task metadata emitted with every log record
// produced while a task is being worked.
type TaskLogContext struct {
	TaskID      string
	DisplayName string
	Phase       string
	Target      string
	Attempt     int
}

var TaskLogContextKey = taskLogContextKey{}

// WithTaskContext merges non-empty fields from update into ctx.
func WithTaskContext(ctx context.Context, update TaskLogContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	current := TaskContextFromContext(ctx)
	mergeStringField(&current.TaskID, update.TaskID)
	mergeStringField(&current.DisplayName, update.DisplayName)
	mergeStringField(&current.Phase, update.Phase)
	mergeStringField(&current.Target, update.Target)
	if update.Attempt > 0 {
		current.Attempt = update.Attempt
	}

	return context.WithValue(ctx, TaskLogContextKey, current)
}

// TaskContextFromContext extracts task logging metadata from ctx.
func TaskContextFromContext(ctx context.Context) TaskLogContext {
	if ctx == nil {
		return TaskLogContext{}
	}
	if value, ok := ctx.Value(TaskLogContextKey).(TaskLogContext); ok {
		return value
	}
	return TaskLogContext{}
}

// TaskContextAttrs converts context metadata to slog attributes.
func TaskContextAttrs(ctx context.Context) []slog.Attr {
	meta := TaskContextFromContext(ctx)
	attrs := make([]slog.Attr, 0, 5)

	appendStringAttr(&attrs, "task_id", meta.TaskID)
	appendStringAttr(&attrs, "display_name", meta.DisplayName)
	appendStringAttr(&attrs, "phase", meta.Phase)
	appendStringAttr(&attrs, "target", meta.Target)
	if meta.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", meta.Attempt))
	}

	return attrs
}

// TaskLogger returns the context logger decorated with the task attributes
// carried by ctx.
func TaskLogger(ctx context.Context) *slog.Logger {
	logger := FromContext(ctx)
	attrs := TaskContextAttrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return logger.With(args...)
}

func mergeStringField(target *string, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	*target = trimmed
}

func appendStringAttr(attrs *[]slog.Attr, key, value string) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}
	*attrs = append(*attrs, slog.String(key, trimmed))
}
