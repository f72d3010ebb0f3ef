// Package workflow runs one task end to end: drive the launcher, start the
// game, find its process, instrument it and classify the outcome.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/steamok/usmapctl/internal/candidate"
	"github.com/steamok/usmapctl/internal/instrument"
	applog "github.com/steamok/usmapctl/internal/log"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/taskstore"
)

// Error details recorded for failed runs.
const (
	DetailTimedOut     = "injection timed out"
	DetailCrashed      = "target process crashed"
	DetailNotFound     = "could not identify target process"
	DetailFailedPrefix = "injection failed: "
	DetailNoTargets    = "no launch target found in payload"
)

const (
	defaultLaunchWait   = 60 * time.Second
	defaultStopTimeout  = 10 * time.Second
	defaultMaxAttempts  = 3
	defaultLaunchTarget = "launcher"
)

// Result is the classified end of one Run.
type Result struct {
	Succeeded bool `json:"succeeded" yaml:"succeeded"`
	// ArtifactPath is the produced artifact; empty on success means none
	// was found.
	ArtifactPath string `json:"artifact_path,omitempty" yaml:"artifact_path,omitempty"`
	// Detail is the error detail for failed runs.
	Detail   string              `json:"detail,omitempty" yaml:"detail,omitempty"`
	Outcome  *instrument.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Target   string              `json:"target,omitempty" yaml:"target,omitempty"`
	Attempts int                 `json:"attempts" yaml:"attempts"`
}

// Deps are the collaborators of a Runner. Payloads nil selects launcher
// mode, where Launcher starts the game from the launcher UI.
type Deps struct {
	Desktop     *Desktop
	Actuator    Actuator
	Payloads    PayloadProvider
	Launcher    Launcher
	Snapshotter processes.Snapshotter
	Enricher    candidate.Enricher
	Trigger     instrument.Trigger
	Monitor     *instrument.Monitor
	// Stop terminates a launched target. Defaults to processes.Terminate.
	Stop func(pid int, timeout time.Duration) error
}

// Options tune a Runner.
type Options struct {
	Steps                 []Step
	LauncherWindow        string
	GameFolder            string
	SignalBaseDir         string
	ExecutableSuffix      string
	Selector              candidate.Options
	LaunchWait            time.Duration
	MaxInstrumentAttempts int

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Runner executes tasks one at a time on the shared desktop.
type Runner struct {
	deps Deps
	opts Options
}

// NewRunner validates deps and fills option defaults.
func NewRunner(deps Deps, opts Options) (*Runner, error) {
	switch {
	case deps.Actuator == nil:
		return nil, errors.New("workflow: actuator is required")
	case deps.Launcher == nil:
		return nil, errors.New("workflow: launcher is required")
	case deps.Snapshotter == nil:
		return nil, errors.New("workflow: snapshotter is required")
	case deps.Trigger == nil:
		return nil, errors.New("workflow: trigger is required")
	case deps.Monitor == nil:
		return nil, errors.New("workflow: monitor is required")
	}
	if deps.Desktop == nil {
		deps.Desktop = NewDesktop()
	}
	if deps.Stop == nil {
		deps.Stop = processes.Terminate
	}
	if opts.LaunchWait <= 0 {
		opts.LaunchWait = defaultLaunchWait
	}
	if opts.MaxInstrumentAttempts <= 0 {
		opts.MaxInstrumentAttempts = defaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Runner{deps: deps, opts: opts}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes task while owning the desktop. Failures are returned as a
// classified Result, never as a panic or error.
func (r *Runner) Run(ctx context.Context, task taskstore.Task) Result {
	release, err := r.deps.Desktop.Acquire(ctx)
	if err != nil {
		return failure(err)
	}
	defer release()

	ctx = applog.WithLogger(ctx, r.opts.Logger)
	ctx = applog.WithTaskContext(ctx, applog.TaskLogContext{
		TaskID:      task.ID,
		DisplayName: task.DisplayName,
		Phase:       "ui",
	})
	logger := applog.TaskLogger(ctx)

	if r.opts.LauncherWindow != "" {
		if activator, ok := r.deps.Actuator.(WindowActivator); ok {
			if err := activator.Activate(ctx, r.opts.LauncherWindow); err != nil {
				return failure(err)
			}
		}
	}
	if err := RunSteps(ctx, r.deps.Actuator, r.opts.Steps, r.opts.Sleep, logger); err != nil {
		logger.Warn("ui steps failed", slog.Any("error", err))
		return failure(err)
	}

	targets, err := r.targets(ctx, task)
	if err != nil {
		return failure(err)
	}
	if len(targets) > r.opts.MaxInstrumentAttempts {
		targets = targets[:r.opts.MaxInstrumentAttempts]
	}

	var last Result
	for i, target := range targets {
		attemptCtx := applog.WithTaskContext(ctx, applog.TaskLogContext{
			Phase:   "instrument",
			Target:  target.Name,
			Attempt: i + 1,
		})
		attemptLogger := applog.TaskLogger(attemptCtx)
		last = r.attempt(attemptCtx, target, attemptLogger)
		last.Attempts = i + 1
		last.Target = target.Name
		if last.Succeeded || ctx.Err() != nil {
			break
		}
		attemptLogger.Warn("instrumentation attempt failed", slog.String("detail", last.Detail))
	}
	return last
}

func (r *Runner) targets(ctx context.Context, task taskstore.Task) ([]Target, error) {
	if r.deps.Payloads == nil {
		return []Target{{Name: defaultLaunchTarget, Scope: r.opts.GameFolder}}, nil
	}
	dir, err := r.deps.Payloads.Fetch(ctx, task)
	if err != nil {
		return nil, err
	}
	paths, err := DiscoverLaunchTargets(dir, r.opts.ExecutableSuffix)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New(DetailNoTargets)
	}
	targets := make([]Target, 0, len(paths))
	for _, p := range paths {
		targets = append(targets, Target{Name: filepath.Base(p), Path: p, Scope: filepath.Dir(p)})
	}
	return targets, nil
}

// attempt launches one target and instruments the process it spawned.
func (r *Runner) attempt(ctx context.Context, target Target, logger *slog.Logger) Result {
	before, err := r.deps.Snapshotter.Snapshot(ctx)
	if err != nil {
		return failure(fmt.Errorf("snapshot before launch: %w", err))
	}
	if err := r.deps.Launcher.Launch(ctx, target); err != nil {
		return failure(err)
	}
	if err := r.opts.Sleep(ctx, r.opts.LaunchWait); err != nil {
		return failure(err)
	}
	after, err := r.deps.Snapshotter.Snapshot(ctx)
	if err != nil {
		return failure(fmt.Errorf("snapshot after launch: %w", err))
	}

	selector := r.opts.Selector
	selector.ExpectedPathSubstring = target.Scope
	picked, err := candidate.Select(ctx, before, after, selector, r.deps.Enricher)
	if err != nil {
		return failure(err)
	}
	pid := picked.Record.PID
	logger = logger.With(slog.Int("pid", pid), slog.String("process", picked.Record.Name))
	logger.Info("target process selected", slog.Float64("memory_mb", picked.MemoryMB))

	started := r.opts.Now()
	if err := r.deps.Trigger.Trigger(ctx, pid); err != nil {
		r.stop(pid, logger)
		return failure(err)
	}
	outcome := r.deps.Monitor.Watch(ctx, instrument.Session{
		TargetPID:     pid,
		StartedAt:     started,
		SignalBaseDir: r.opts.SignalBaseDir,
	})
	if outcome.State != instrument.Crashed {
		r.stop(pid, logger)
	}
	return fromOutcome(outcome)
}

func (r *Runner) stop(pid int, logger *slog.Logger) {
	if err := r.deps.Stop(pid, defaultStopTimeout); err != nil {
		logger.Warn("stopping target failed", slog.Any("error", err))
	}
}

func fromOutcome(outcome instrument.Outcome) Result {
	res := Result{Outcome: &outcome}
	switch outcome.State {
	case instrument.Succeeded:
		res.Succeeded = true
		res.ArtifactPath = outcome.ArtifactHint
	default:
		res.Detail = ClassifyOutcome(outcome)
	}
	return res
}

func failure(err error) Result {
	return Result{Detail: ClassifyError(err)}
}

// ClassifyOutcome maps a non-successful monitor outcome to an error detail.
func ClassifyOutcome(outcome instrument.Outcome) string {
	switch outcome.State {
	case instrument.TimedOut:
		return DetailTimedOut
	case instrument.Crashed:
		return DetailCrashed
	case instrument.Failed:
		reason := outcome.Reason
		if reason == "" {
			reason = "unknown reason"
		}
		return DetailFailedPrefix + reason
	case instrument.Succeeded, instrument.Pending, instrument.Running:
		return fmt.Sprintf("unexpected monitor state %s", outcome.State)
	default:
		return fmt.Sprintf("unexpected monitor state %s", outcome.State)
	}
}

// ClassifyError maps an error raised before or around instrumentation to an
// error detail.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, candidate.ErrNotFound):
		return DetailNotFound
	default:
		return err.Error()
	}
}
