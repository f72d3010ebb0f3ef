package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
)

const (
	logDirPerm  = 0o700
	logFilePerm = 0o600
)

// Options configure the process logger.
type Options struct {
	Level string
	// ConsoleLevel is the lowest level copied to ErrOut when File is set.
	// Empty means errors only.
	ConsoleLevel string
	// File receives every record at Level or above. Empty means ErrOut only.
	File   string
	ErrOut io.Writer
}

// New builds the process logger. Records go to the log file as JSON and
// records at ConsoleLevel or above are copied to ErrOut, rendered by the
// console handler when ErrOut is a terminal. The returned closer releases the
// log file.
func New(opts Options) (*slog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	consoleLevel := slog.LevelError
	if opts.ConsoleLevel != "" {
		parsed, err := ParseLevel(opts.ConsoleLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("console: %w", err)
		}
		consoleLevel = max(parsed, slog.LevelWarn)
	}
	handlerOpts := &slog.HandlerOptions{Level: level, ReplaceAttr: levelNames}
	errOut := opts.ErrOut
	if errOut == nil {
		errOut = os.Stderr
	}

	if opts.File == "" {
		primary := slog.NewTextHandler(errOut, handlerOpts)
		return slog.New(primary), func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), logDirPerm); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	store := slog.NewJSONHandler(f, handlerOpts)
	return slog.New(NewMirrorHandler(store, consoleHandlerFor(errOut), consoleLevel)), f.Close, nil
}

func consoleHandlerFor(w io.Writer) slog.Handler {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return NewConsoleHandler(w)
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelWarn})
}
