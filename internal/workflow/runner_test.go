package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/steamok/usmapctl/internal/candidate"
	"github.com/steamok/usmapctl/internal/instrument"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 12, 0, 0, 0, time.Local)

// fakeHost is a process table that launches mutate.
type fakeHost struct {
	mu      sync.Mutex
	records []processes.ProcessRecord
	nextPID int
	dead    map[int]bool
	stopped []int
	events  []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		records: []processes.ProcessRecord{{Name: "svchost.exe", ExecutablePath: `C:\Windows\svchost.exe`, PID: 100}},
		nextPID: 1000,
		dead:    map[int]bool{},
	}
}

func (h *fakeHost) Snapshot(context.Context) (processes.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "snapshot")
	return processes.NewSnapshot("rig", time.Time{}, h.records...), nil
}

func (h *fakeHost) note(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *fakeHost) spawn(name, path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextPID++
	h.records = append(h.records, processes.ProcessRecord{Name: name, ExecutablePath: path, PID: h.nextPID})
	return h.nextPID
}

func (h *fakeHost) kill(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead[pid] = true
}

func (h *fakeHost) Exists(_ context.Context, pid int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dead[pid], nil
}

func (h *fakeHost) Stop(pid int, _ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = append(h.stopped, pid)
	return nil
}

type launchFunc func(ctx context.Context, target Target) error

func (f launchFunc) Launch(ctx context.Context, target Target) error {
	return f(ctx, target)
}

type scriptedActuator struct {
	found map[string]bool
	calls []string
}

func (a *scriptedActuator) LocateAndClick(_ context.Context, control Control, _ int) (bool, error) {
	a.calls = append(a.calls, control.Name)
	found, ok := a.found[control.Name]
	return !ok || found, nil
}

// launcherUI clicks every control and starts the game when the playable
// control is clicked.
type launcherUI struct {
	host *fakeHost
}

func (a launcherUI) LocateAndClick(_ context.Context, control Control, _ int) (bool, error) {
	a.host.note("click:" + control.Name)
	if control.Image == "images/playable.png" {
		a.host.spawn("Game.exe", `D:\Games\G1\Game.exe`)
	}
	return control.Name != "easy_anti_cheat", nil
}

func noSleep(context.Context, time.Duration) error { return nil }

type harness struct {
	host     *fakeHost
	base     string
	now      func() time.Time
	runner   *Runner
	triggers []int
}

// onTrigger decides what the fake injector does for a pid.
type onTrigger func(h *harness, pid int)

func succeedWithArtifact(h *harness, _ int) {
	dir := filepath.Join(h.base, instrument.SignalDirName(h.now()))
	_ = os.MkdirAll(dir, 0o755)
	_ = os.WriteFile(filepath.Join(dir, "Game.usmap"), []byte("map"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, instrument.EndSignal), nil, 0o644)
	_ = os.WriteFile(filepath.Join(dir, instrument.SuccessSignal), nil, 0o644)
}

func newHarness(t *testing.T, deps Deps, opts Options, react onTrigger) *harness {
	t.Helper()
	h := &harness{host: newFakeHost(), base: t.TempDir()}

	clock := t0
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clock
	}
	h.now = now
	monitor := instrument.NewMonitor(h.host, instrument.Options{
		PollInterval: time.Second,
		MaxWait:      5 * time.Second,
		Now:          now,
		Sleep: func(_ context.Context, d time.Duration) error {
			clockMu.Lock()
			defer clockMu.Unlock()
			clock = clock.Add(d)
			return nil
		},
	})

	if deps.Actuator == nil {
		deps.Actuator = NopActuator{}
	}
	deps.Snapshotter = h.host
	deps.Monitor = monitor
	deps.Stop = h.host.Stop
	deps.Trigger = instrument.TriggerFunc(func(_ context.Context, pid int) error {
		h.triggers = append(h.triggers, pid)
		if react != nil {
			react(h, pid)
		}
		return nil
	})

	opts.SignalBaseDir = h.base
	opts.Now = now
	opts.Sleep = noSleep
	opts.Selector = candidate.Options{ExecutableSuffix: ".exe"}
	runner, err := NewRunner(deps, opts)
	require.NoError(t, err)
	h.runner = runner
	return h
}

func TestRunnerLauncherModeSucceeds(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, Deps{
		Launcher: launchFunc(func(context.Context, Target) error {
			h.host.spawn("Launcher.exe", `C:\Tools\Launcher.exe`)
			h.host.spawn("Game.exe", `D:\Games\G1\Game.exe`)
			return nil
		}),
	}, Options{GameFolder: "d:/games/g1"}, succeedWithArtifact)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "42", DisplayName: "Alpha"})

	require.True(t, res.Succeeded, res.Detail)
	require.Equal(t, filepath.Join(h.base, instrument.SignalDirName(t0), "Game.usmap"), res.ArtifactPath)
	require.Equal(t, []int{1002}, h.triggers)
	require.Equal(t, []int{1002}, h.host.stopped)
	require.Equal(t, 1, res.Attempts)
}

func TestRunnerLauncherModeClicksPlayableAfterSnapshot(t *testing.T) {
	t.Parallel()

	var ui launcherUI
	steps := DefaultSteps()
	launch, ok := LaunchStep(steps)
	require.True(t, ok)
	launcher := &ControlLauncher{Control: launch.Control, Retries: launch.Retries}
	h := newHarness(t, Deps{Actuator: &ui, Launcher: launcher},
		Options{Steps: steps, GameFolder: "d:/games/g1"}, succeedWithArtifact)
	ui.host = h.host
	launcher.Actuator = ui

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "42", DisplayName: "Alpha"})

	require.True(t, res.Succeeded, res.Detail)
	require.Equal(t, []int{1001}, h.triggers)
	require.Equal(t, []string{
		"click:search",
		"click:first_result",
		"click:easy_anti_cheat",
		"click:play",
		"click:confirm",
		"click:install",
		"snapshot",
		"click:start_game",
		"snapshot",
	}, h.host.events)
}

func TestRunnerPayloadModeFallsBackToNextTarget(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	payload := filepath.Join(root, "7")
	for _, rel := range []string{
		"Game.exe",
		"Game/Binaries/Win64/Game-Win64-Shipping.exe",
		"Engine/CrashReportClient.exe",
	} {
		path := filepath.Join(payload, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o755))
	}

	var h *harness
	var launched []string
	h = newHarness(t, Deps{
		Payloads: DirPayload{Root: root},
		Launcher: launchFunc(func(_ context.Context, target Target) error {
			launched = append(launched, target.Name)
			h.host.spawn(target.Name, target.Path)
			return nil
		}),
	}, Options{}, func(h *harness, pid int) {
		if len(h.triggers) == 1 {
			h.host.kill(pid)
			return
		}
		succeedWithArtifact(h, pid)
	})

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "7"})

	require.True(t, res.Succeeded, res.Detail)
	require.Equal(t, []string{"Game-Win64-Shipping.exe", "Game.exe"}, launched)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, "Game.exe", res.Target)
	// the crashed target is not stopped again
	require.Equal(t, []int{1002}, h.host.stopped)
}

func TestRunnerReportsLastFailure(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, Deps{
		Launcher: launchFunc(func(context.Context, Target) error {
			h.host.spawn("Game.exe", `D:\Games\G1\Game.exe`)
			return nil
		}),
	}, Options{}, func(h *harness, pid int) { h.host.kill(pid) })

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "1"})
	require.False(t, res.Succeeded)
	require.Equal(t, DetailCrashed, res.Detail)
	require.Equal(t, instrument.Crashed, res.Outcome.State)
}

func TestRunnerTimesOut(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, Deps{
		Launcher: launchFunc(func(context.Context, Target) error {
			h.host.spawn("Game.exe", `D:\Games\G1\Game.exe`)
			return nil
		}),
	}, Options{}, nil)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "1"})
	require.Equal(t, DetailTimedOut, res.Detail)
}

func TestRunnerCannotIdentifyProcess(t *testing.T) {
	t.Parallel()

	var h *harness
	h = newHarness(t, Deps{
		Launcher: launchFunc(func(context.Context, Target) error {
			h.host.spawn("Game.exe", `E:\Elsewhere\Game.exe`)
			return nil
		}),
	}, Options{GameFolder: `D:\Games\G1`}, nil)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "1"})
	require.False(t, res.Succeeded)
	require.Equal(t, DetailNotFound, res.Detail)
	require.Empty(t, h.triggers)
}

func TestRunnerStopsOnAntiCheat(t *testing.T) {
	t.Parallel()

	actuator := &scriptedActuator{found: map[string]bool{}}
	h := newHarness(t, Deps{
		Actuator: actuator,
		Launcher: launchFunc(func(context.Context, Target) error { return errors.New("must not launch") }),
	}, Options{Steps: DefaultSteps()}, nil)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "1"})
	require.Contains(t, res.Detail, "EasyAntiCheat detected")
	require.Equal(t, []string{"search", "first_result", "easy_anti_cheat"}, actuator.calls)
}

func TestRunnerFailsOnMissingRequiredControl(t *testing.T) {
	t.Parallel()

	actuator := &scriptedActuator{found: map[string]bool{"easy_anti_cheat": false, "install": false}}
	h := newHarness(t, Deps{
		Actuator: actuator,
		Launcher: launchFunc(func(context.Context, Target) error { return nil }),
	}, Options{Steps: DefaultSteps()}, nil)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "1"})
	require.Equal(t, "ui_step_failed: control install not found after 10 attempts", res.Detail)
}

func TestRunnerPayloadWithoutExecutables(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "3", "docs"), 0o755))
	h := newHarness(t, Deps{
		Payloads: DirPayload{Root: root},
		Launcher: launchFunc(func(context.Context, Target) error { return nil }),
	}, Options{}, nil)

	res := h.runner.Run(t.Context(), taskstore.Task{ID: "3"})
	require.Equal(t, DetailNoTargets, res.Detail)

	res = h.runner.Run(t.Context(), taskstore.Task{ID: "4"})
	require.Contains(t, res.Detail, ErrNoPayload.Error())
}

func TestNewRunnerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(Deps{}, Options{})
	require.Error(t, err)
}

func TestClassifyOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome instrument.Outcome
		want    string
	}{
		{instrument.Outcome{State: instrument.TimedOut}, DetailTimedOut},
		{instrument.Outcome{State: instrument.Crashed}, DetailCrashed},
		{instrument.Outcome{State: instrument.Failed, Reason: "no GObjects"}, "injection failed: no GObjects"},
		{instrument.Outcome{State: instrument.Failed}, "injection failed: unknown reason"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ClassifyOutcome(tt.outcome))
	}

	require.Equal(t, DetailNotFound, ClassifyError(candidate.ErrNotFound))
	require.Equal(t, "boom", ClassifyError(errors.New("boom")))
	require.Empty(t, ClassifyError(nil))
}
