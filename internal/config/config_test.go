package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	utilviper "github.com/steamok/usmapctl/internal/util/viper"
	"github.com/stretchr/testify/require"
)

func TestBuildProfiledConfig_ProfileEnvWithDashes(t *testing.T) {
	t.Setenv("USMAPCTL_TEAM_A_B_C_WEBHOOK_URL", "https://hooks.local/x")

	profile := "team-a-b-c"
	mainv := utilviper.NewViper("nonexistent.yaml")
	mainv.Set(profile, map[string]any{})

	cfg := BuildProfiledConfig(profile, "nonexistent.yaml", mainv)

	require.Equal(t, "https://hooks.local/x", cfg.GetString(WebhookURLConfigPath))
}

func TestGetConfigInitializesDefaultFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := GetConfig(path, DefaultProfile, path)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Equal(t, 5, cfg.GetInt(TaskLimitConfigPath))
	require.Equal(t, 30*time.Second, cfg.GetDuration(CheckIntervalConfigPath))
	require.Equal(t, time.Minute, cfg.GetDuration(PullIntervalConfigPath))
	require.Equal(t, filepath.Join(dir, "tasks", DefaultProfile, "tasks.json"), cfg.GetString(StorePathConfigPath))
	require.Equal(t, "*.usmap", cfg.GetString(ArtifactPatternConfigPath))
}

func TestGetConfigFillsMissingKeysFromDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default:\n  task-limit: 2\n  monitor:\n    max-wait: 5s\n"), 0o600))

	cfg, err := GetConfig(path, DefaultProfile, filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.GetInt(TaskLimitConfigPath))
	require.Equal(t, 5*time.Second, cfg.GetDuration(MaxWaitConfigPath))
	require.Equal(t, time.Second, cfg.GetDuration(PollIntervalConfigPath))
	require.Equal(t, 3, cfg.GetIntOrElse(PassAttemptsConfigPath, 1))
}

func TestGetConfigMissingExplicitPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := GetConfig(filepath.Join(dir, "missing.yaml"), DefaultProfile, filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesExistingProfileSection(t *testing.T) {
	t.Setenv("USMAPCTL_LAB_TASK_LIMIT", "7")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lab:\n  task-limit: 2\n"), 0o600))

	cfg, err := GetConfig(path, "lab", path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.GetInt(TaskLimitConfigPath))
	require.Equal(t, "USMAPCTL_TEAM_A", EnvPrefix("team-a"))
}
