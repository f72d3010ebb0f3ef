package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
)

// Target is one candidate launch of a task.
type Target struct {
	Name string
	// Path is the executable to start. Empty in launcher mode, where the
	// launcher's play control starts the game.
	Path string
	// Scope narrows process selection to executables under this path.
	Scope string
}

// Launcher starts a target.
type Launcher interface {
	Launch(ctx context.Context, target Target) error
}

// ExecLauncher starts executables directly. Children are reaped in the
// background and outlive ctx.
type ExecLauncher struct {
	Logger *slog.Logger
}

func (l ExecLauncher) Launch(_ context.Context, target Target) error {
	if target.Path == "" {
		return errors.New("launch target has no executable")
	}
	cmd := exec.Command(target.Path)
	cmd.Dir = filepath.Dir(target.Path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", target.Path, err)
	}
	if l.Logger != nil {
		l.Logger.Info("launched target",
			slog.String("path", target.Path),
			slog.Int("pid", cmd.Process.Pid))
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

// ControlLauncher starts the game by clicking a launcher control.
type ControlLauncher struct {
	Actuator Actuator
	Control  Control
	Retries  int
}

func (l ControlLauncher) Launch(ctx context.Context, _ Target) error {
	clicked, err := l.Actuator.LocateAndClick(ctx, l.Control, max(l.Retries, 1))
	if err != nil {
		return err
	}
	if !clicked {
		return &StepError{Step: l.Control.Name, Attempts: max(l.Retries, 1)}
	}
	return nil
}
