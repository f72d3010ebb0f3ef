package run

import (
	"os"
	"testing"
	"time"

	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
	"github.com/steamok/usmapctl/internal/processes"
	cmdtest "github.com/steamok/usmapctl/test/cmd"
	"github.com/stretchr/testify/require"
)

func TestNewRunCmdFlagDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewRunCmd()
	require.NoError(t, err)
	require.Equal(t, "run", c.Use)

	limit, err := c.Flags().GetInt(taskLimitFlagName)
	require.NoError(t, err)
	require.Equal(t, 5, limit)

	check, err := c.Flags().GetDuration(checkIntervalFlagName)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, check)

	pull, err := c.Flags().GetDuration(pullIntervalFlagName)
	require.NoError(t, err)
	require.Equal(t, time.Minute, pull)

	dryRun, err := c.Flags().GetBool(dryRunFlagName)
	require.NoError(t, err)
	require.False(t, dryRun)
}

func TestBindFlagsOverridesProfile(t *testing.T) {
	t.Parallel()

	cfg := cmdtest.NewConfig(t, "default:\n  task-limit: 9\n")
	streams := iostreams.NewTestIOStreamsOnly()

	c, err := NewRunCmd()
	require.NoError(t, err)
	c.SetContext(cmdtest.NewContext(t, cfg, &streams))

	require.NoError(t, bindFlags(c, nil))
	require.Equal(t, 9, cfg.GetInt(config.TaskLimitConfigPath))

	require.NoError(t, c.ParseFlags([]string{"--task-limit", "2", "--base-url", "http://tasks.local"}))
	require.Equal(t, 2, cfg.GetInt(config.TaskLimitConfigPath))
	require.Equal(t, "http://tasks.local", cfg.GetString(config.BaseURLConfigPath))
}

func TestRunRejectsInvalidLeasePolicy(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := cmdtest.NewConfig(t, "default:\n  lease:\n    policy: bogus\n")
	streams, _, _, _ := iostreams.NewTestIOStreams()

	c, err := NewRunCmd()
	require.NoError(t, err)
	c.SilenceUsage = true
	c.SilenceErrors = true
	c.SetArgs([]string{"--dry-run"})
	err = c.ExecuteContext(cmdtest.NewContext(t, cfg, &streams))

	var cfgErr *cmd.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.ErrorContains(t, err, "bogus")
}

func TestRunRefusesSecondOrchestrator(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := cmdtest.NewConfig(t, "")
	storePath, err := wiring.StorePath(cfg)
	require.NoError(t, err)

	// The test binary's parent stands in for an orchestrator that is still alive.
	ppid := os.Getppid()
	recordPath, err := processes.ResolvePathForPID(ppid)
	require.NoError(t, err)
	require.NoError(t, processes.WriteRecord(recordPath, processes.Record{
		PID:       ppid,
		Kind:      processes.KindOrchestrator,
		StorePath: storePath,
	}))

	streams, _, out, _ := iostreams.NewTestIOStreams()
	c, err := NewRunCmd()
	require.NoError(t, err)
	c.SilenceUsage = true
	c.SilenceErrors = true
	c.SetArgs([]string{"--dry-run"})
	err = c.ExecuteContext(cmdtest.NewContext(t, cfg, &streams))

	var cfgErr *cmd.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.ErrorContains(t, err, "already running")
	require.Empty(t, out.String())
}
