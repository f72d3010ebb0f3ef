package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Control identifies an on-screen element by a reference image.
type Control struct {
	Name       string  `yaml:"name" json:"name"`
	Image      string  `yaml:"image" json:"image"`
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// DefaultConfidence is used when a control sets none.
const DefaultConfidence = 0.8

// Actuator finds a control on screen and clicks it.
type Actuator interface {
	// LocateAndClick reports whether the control was found and clicked
	// within maxRetries attempts.
	LocateAndClick(ctx context.Context, control Control, maxRetries int) (bool, error)
}

// WindowActivator is implemented by actuators that can bring a window to the
// foreground.
type WindowActivator interface {
	Activate(ctx context.Context, title string) error
}

// CommandActuator delegates to an external helper program:
//
//	<helper> <image> <confidence> <retries>   exit 0 clicked, exit 1 not found
//	<helper> --activate <title>                exit 0 on success
type CommandActuator struct {
	Helper string
	Logger *slog.Logger
}

// ErrActuatorMissing is returned when no helper is configured.
var ErrActuatorMissing = errors.New("actuator helper is not configured")

func (a *CommandActuator) LocateAndClick(ctx context.Context, control Control, maxRetries int) (bool, error) {
	confidence := control.Confidence
	if confidence <= 0 {
		confidence = DefaultConfidence
	}
	args := []string{
		control.Image,
		strconv.FormatFloat(confidence, 'f', -1, 64),
		strconv.Itoa(max(maxRetries, 1)),
	}
	code, err := a.run(ctx, args...)
	if err != nil {
		return false, fmt.Errorf("locate %s: %w", control.Name, err)
	}
	switch code {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("locate %s: helper exited with status %d", control.Name, code)
	}
}

func (a *CommandActuator) Activate(ctx context.Context, title string) error {
	code, err := a.run(ctx, "--activate", title)
	if err != nil {
		return fmt.Errorf("activate %q: %w", title, err)
	}
	if code != 0 {
		return fmt.Errorf("activate %q: helper exited with status %d", title, code)
	}
	return nil
}

// run executes the helper and returns its exit status. Only failures to run
// the helper at all are errors.
func (a *CommandActuator) run(ctx context.Context, args ...string) (int, error) {
	if strings.TrimSpace(a.Helper) == "" {
		return 0, ErrActuatorMissing
	}
	cmd := exec.CommandContext(ctx, a.Helper, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if a.Logger != nil {
		a.Logger.Debug("running actuator helper", slog.String("helper", a.Helper), slog.Any("args", args))
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" && a.Logger != nil {
			a.Logger.Debug("actuator helper stderr", slog.String("stderr", msg))
		}
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

// NopActuator reports every control as clicked except those named in
// Missing. Used for dry runs.
type NopActuator struct {
	Missing []string
}

func (a NopActuator) LocateAndClick(_ context.Context, control Control, _ int) (bool, error) {
	for _, name := range a.Missing {
		if name == control.Name {
			return false, nil
		}
	}
	return true, nil
}

func (NopActuator) Activate(context.Context, string) error {
	return nil
}
