package workflow

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadStepsFromYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "steps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - name: search
    image: img/search.png
    confidence: 0.75
    retries: 2
    required: true
    wait: 1500ms
  - name: eac
    image: img/eac.png
    anti_cheat: true
`), 0o600))

	steps, err := LoadSteps(path)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "img/search.png", steps[0].Image)
	require.InDelta(t, 0.75, steps[0].Confidence, 1e-9)
	require.Equal(t, 1500*time.Millisecond, steps[0].Wait)
	require.True(t, steps[0].Required)
	require.Equal(t, []string{"eac"}, AntiCheatSteps(steps))
}

func TestLoadStepsDefaults(t *testing.T) {
	t.Parallel()

	steps, err := LoadSteps("")
	require.NoError(t, err)
	require.NoError(t, ValidateSteps(steps))
	require.Equal(t, []string{"easy_anti_cheat"}, AntiCheatSteps(steps))

	launch, ok := LaunchStep(steps)
	require.True(t, ok)
	require.Equal(t, "images/playable.png", launch.Image)
	require.Equal(t, 10, launch.Retries)
	for _, s := range steps {
		if s.Image == "images/playable.png" {
			require.True(t, s.Launch, "step %s clicks the playable control before the launch", s.Name)
		}
	}
}

func TestRunStepsLeavesLaunchStepOut(t *testing.T) {
	t.Parallel()

	actuator := &scriptedActuator{}
	steps := []Step{
		{Control: Control{Name: "install", Image: "install.png"}, Required: true},
		{Control: Control{Name: "start_game", Image: "playable.png"}, Launch: true},
	}
	require.NoError(t, RunSteps(t.Context(), actuator, steps, noSleep, slog.New(slog.DiscardHandler)))
	require.Equal(t, []string{"install"}, actuator.calls)
}

func TestValidateStepsRejectsBadLists(t *testing.T) {
	t.Parallel()

	require.Error(t, ValidateSteps(nil))
	require.Error(t, ValidateSteps([]Step{{Control: Control{Image: "a.png"}}}))
	require.Error(t, ValidateSteps([]Step{{Control: Control{Name: "a"}}}))
	require.Error(t, ValidateSteps([]Step{
		{Control: Control{Name: "a", Image: "a.png"}},
		{Control: Control{Name: "a", Image: "b.png"}},
	}))
	require.Error(t, ValidateSteps([]Step{{Control: Control{Name: "a", Image: "a.png"}, Required: true, AntiCheat: true}}))
	require.Error(t, ValidateSteps([]Step{{Control: Control{Name: "a", Image: "a.png"}, Launch: true, AntiCheat: true}}))
	require.ErrorContains(t, ValidateSteps([]Step{
		{Control: Control{Name: "a", Image: "a.png"}, Launch: true},
		{Control: Control{Name: "b", Image: "b.png"}, Launch: true},
	}), "only one step")
}

func TestDiscoverLaunchTargets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, rel := range []string{
		"Launcher.exe",
		"Game/Binaries/Win64/Game-Win64-Shipping.exe",
		"Game/Binaries/Win64/Game.exe",
		"Engine/Binaries/Win64/CrashReportClient.exe",
		"_CommonRedist/vcredist_x64.exe",
		"UE4PrereqSetup_x64.exe",
		"readme.txt",
	} {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}

	targets, err := DiscoverLaunchTargets(dir, "")
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "Game", "Binaries", "Win64", "Game-Win64-Shipping.exe"),
		filepath.Join(dir, "Launcher.exe"),
		filepath.Join(dir, "Game", "Binaries", "Win64", "Game.exe"),
	}, targets)
}
