package log

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Keys the console handler lifts out of the attribute list.
const (
	suggestionKey = "suggestion"
	errorKey      = "error"
	taskIDKey     = "task_id"
)

// NewConsoleHandler renders warnings and errors for an operator watching a
// terminal:
//
//	Error [task 1043]: injection timed out
//	  suggestion: raise monitor.max-wait
//	  pid: 4312
//
// Records below slog.LevelWarn are dropped.
func NewConsoleHandler(w io.Writer) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}}
}

type consoleHandler struct {
	out    *lockedWriter
	prefix string
	attrs  []field
}

type field struct {
	key   string
	value string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := slices.Clone(h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		fields = flatten(fields, h.prefix, attr)
		return true
	})

	var taskID, suggestion, cause string
	rest := fields[:0]
	for _, f := range fields {
		switch f.key {
		case taskIDKey:
			taskID = f.value
		case suggestionKey:
			suggestion = f.value
		case errorKey:
			cause = f.value
		default:
			if f.value != "" {
				rest = append(rest, f)
			}
		}
	}

	summary := strings.TrimSpace(record.Message)
	switch {
	case summary == "" && cause == "":
		summary = "an unknown error occurred"
	case summary == "":
		summary = cause
	case cause != "":
		summary += ": " + cause
	}

	var sb strings.Builder
	sb.WriteString(levelLabel(record.Level))
	if taskID != "" {
		fmt.Fprintf(&sb, " [task %s]", taskID)
	}
	fmt.Fprintf(&sb, ": %s\n", summary)
	if suggestion != "" {
		writeField(&sb, field{key: suggestionKey, value: suggestion})
	}
	slices.SortStableFunc(rest, func(a, b field) int { return cmp.Compare(a.key, b.key) })
	for _, f := range rest {
		writeField(&sb, f)
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := io.WriteString(h.out.w, sb.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, attr := range attrs {
		next.attrs = flatten(next.attrs, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func levelLabel(level slog.Level) string {
	if level >= slog.LevelError {
		return "Error"
	}
	return "Warning"
}

// flatten appends attr to dst, expanding groups into dotted keys.
func flatten(dst []field, prefix string, attr slog.Attr) []field {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, member := range value.Group() {
			dst = flatten(dst, inner, member)
		}
		return dst
	}
	if attr.Key == "" {
		return dst
	}
	var text string
	if err, ok := value.Any().(error); ok && value.Kind() == slog.KindAny {
		text = err.Error()
	} else {
		text = value.String()
	}
	return append(dst, field{key: prefix + attr.Key, value: strings.TrimSpace(text)})
}

func writeField(sb *strings.Builder, f field) {
	first, more, _ := strings.Cut(f.value, "\n")
	fmt.Fprintf(sb, "  %s: %s\n", f.key, strings.TrimSpace(first))
	for line := range strings.SplitSeq(more, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(sb, "    %s\n", line)
		}
	}
}
