package instrument

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Trigger starts the external instrumentation against pid.
type Trigger interface {
	Trigger(ctx context.Context, pid int) error
}

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, pid int) error

func (f TriggerFunc) Trigger(ctx context.Context, pid int) error {
	return f(ctx, pid)
}

const pidToken = "{pid}"

// CommandTrigger runs the injector binary. Args may contain "{pid}"; when no
// argument does, the PID is appended.
type CommandTrigger struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

// ErrInjectorMissing is returned when no injector path is configured.
var ErrInjectorMissing = errors.New("injector path is not configured")

func (c *CommandTrigger) Trigger(ctx context.Context, pid int) error {
	if strings.TrimSpace(c.Path) == "" {
		return ErrInjectorMissing
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := expandArgs(c.Args, pid)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if c.Logger != nil {
		c.Logger.Info("running injector", slog.String("path", c.Path), slog.Any("args", args))
	}
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("injector %s: %w: %s", c.Path, err, msg)
		}
		return fmt.Errorf("injector %s: %w", c.Path, err)
	}
	return nil
}

func expandArgs(args []string, pid int) []string {
	id := strconv.Itoa(pid)
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, arg := range args {
		if strings.Contains(arg, pidToken) {
			replaced = true
			arg = strings.ReplaceAll(arg, pidToken, id)
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, id)
	}
	return out
}
