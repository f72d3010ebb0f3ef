// Package instrument drives an external injector against a target process
// and classifies the run by polling the injector's signal files.
package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	applog "github.com/steamok/usmapctl/internal/log"
)

// State is the monitor's belief about an instrumentation run.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	TimedOut  State = "timed_out"
	Crashed   State = "crashed"
)

// Terminal reports whether s ends a watch.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, TimedOut, Crashed:
		return true
	case Pending, Running:
		return false
	default:
		return false
	}
}

const (
	DefaultPollInterval    = time.Second
	DefaultMaxWait         = 300 * time.Second
	DefaultArtifactPattern = "*.usmap"
)

// Session identifies one triggered instrumentation run.
type Session struct {
	TargetPID     int
	StartedAt     time.Time
	SignalBaseDir string
}

// Outcome is the terminal result of a watch.
type Outcome struct {
	State State `json:"state" yaml:"state"`
	// SignalDir is the directory the decision was based on, if one was found.
	SignalDir string `json:"signal_dir,omitempty" yaml:"signal_dir,omitempty"`
	// ArtifactHint is set for Succeeded when an artifact could be located.
	ArtifactHint string        `json:"artifact_hint,omitempty" yaml:"artifact_hint,omitempty"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Polls        int           `json:"polls" yaml:"polls"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Prober answers whether a PID is still alive.
type Prober interface {
	Exists(ctx context.Context, pid int) (bool, error)
}

// Options tune a Monitor. Zero values select the defaults.
type Options struct {
	PollInterval    time.Duration
	MaxWait         time.Duration
	ArtifactPattern string
	Logger          *slog.Logger

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Monitor watches instrumentation sessions.
type Monitor struct {
	prober Prober
	opts   Options
}

// NewMonitor returns a Monitor that checks liveness through prober.
func NewMonitor(prober Prober, opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.ArtifactPattern == "" {
		opts.ArtifactPattern = DefaultArtifactPattern
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
	return &Monitor{prober: prober, opts: opts}
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

// Watch polls until the session reaches a terminal state or MaxWait
// elapses. Every tick evaluates, in order: target liveness, signal directory
// discovery, the end/success pair and the running flag. Cancelling ctx is
// treated as shutdown and yields TimedOut.
func (m *Monitor) Watch(ctx context.Context, session Session) Outcome {
	logger := m.opts.Logger.With(
		slog.Int("pid", session.TargetPID),
		slog.String("signal_base", session.SignalBaseDir),
	)
	start := m.opts.Now()
	state := Pending
	var lastDir string

	outcome := func(s State, reason string, polls int) Outcome {
		o := Outcome{
			State:     s,
			SignalDir: lastDir,
			Reason:    reason,
			Polls:     polls,
			Elapsed:   m.opts.Now().Sub(start),
		}
		if s == Succeeded {
			o.ArtifactHint = findArtifact(lastDir, m.opts.ArtifactPattern)
		}
		logger.Info("instrumentation finished",
			slog.String("state", string(o.State)),
			slog.String("reason", o.Reason),
			slog.Int("polls", o.Polls),
			slog.Duration("elapsed", o.Elapsed),
			slog.String("signal_dir", o.SignalDir))
		return o
	}

	for polls := 0; ; {
		if polls > 0 {
			if elapsed := m.opts.Now().Sub(start); elapsed >= m.opts.MaxWait {
				return outcome(TimedOut, fmt.Sprintf("no end signal within %s while %s", m.opts.MaxWait, state), polls)
			}
		}
		polls++

		next, dir, reason := m.tick(ctx, session, logger, lastDir)
		if dir != "" {
			lastDir = dir
		}
		if next != state {
			logger.Debug("instrumentation state changed",
				slog.String("from", string(state)),
				slog.String("to", string(next)))
			state = next
		}
		if state.Terminal() {
			return outcome(state, reason, polls)
		}

		wait := m.opts.PollInterval
		if remaining := m.opts.MaxWait - m.opts.Now().Sub(start); remaining < wait {
			wait = max(remaining, 0)
		}
		if err := m.opts.Sleep(ctx, wait); err != nil {
			return outcome(TimedOut, fmt.Sprintf("watch cancelled while %s: %v", state, err), polls)
		}
	}
}

// tick evaluates one poll and returns the next state, the signal directory
// it inspected and, for terminal states, the reason.
func (m *Monitor) tick(ctx context.Context, session Session, logger *slog.Logger, lastDir string) (State, string, string) {
	alive, err := m.prober.Exists(ctx, session.TargetPID)
	if err != nil {
		// liveness unknown; keep going on the signal files alone
		logger.Warn("liveness probe failed", slog.Any("error", err))
		alive = true
	}

	dir, found, err := ResolveSignalDir(session.SignalBaseDir, session.StartedAt)
	if err != nil {
		logger.Warn("signal directory scan failed", slog.Any("error", err))
		found = false
	}

	if !alive {
		crashDir := lastDir
		if found {
			crashDir = dir
		}
		if err := WriteCrashSignal(crashDir, session.TargetPID, m.opts.Now()); err != nil {
			logger.Debug("crash signal not written", slog.Any("error", err))
		}
		return Crashed, crashDir, fmt.Sprintf("target process %d exited", session.TargetPID)
	}

	if !found {
		return Pending, "", ""
	}

	signals, err := ReadSignals(dir)
	if err != nil {
		logger.Warn("reading signal files failed", slog.Any("error", err))
		return Pending, dir, ""
	}
	logger.Log(ctx, applog.LevelTrace, "signals polled",
		slog.String("dir", dir),
		slog.Bool("running", signals.Running),
		slog.Bool("end", signals.End),
		slog.Bool("success", signals.Success))

	switch {
	case signals.End && signals.Success:
		return Succeeded, dir, ""
	case signals.End:
		reason := readSignalText(dir, EndSignal)
		if reason == "" {
			reason = "injector ended without success signal"
		}
		return Failed, dir, reason
	case signals.Running:
		return Running, dir, ""
	default:
		return Failed, dir, "signal directory has neither running nor end signal"
	}
}
