package run

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/orchestrator"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/tasksource"
	"github.com/steamok/usmapctl/internal/util"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Run

	taskLimitFlagName     = "task-limit"
	checkIntervalFlagName = "check-interval"
	pullIntervalFlagName  = "pull-interval"
	baseURLFlagName       = "base-url"
	webhookURLFlagName    = "webhook-url"
	dryRunFlagName        = "dry-run"
)

var (
	runUse   = Verb.String()
	runShort = i18n.T("root.verbs.run.short", "Run the task orchestrator")
	runLong  = normalizers.LongDesc(i18n.T("root.verbs.run.long",
		`Start the orchestrator. It pulls new tasks from the task service on an
interval and processes unprocessed tasks one at a time: drive the launcher,
start the game, instrument it and record the outcome in the task store.
Interrupt with Ctrl+C; a task in flight is returned to the queue.`))
	runExamples = normalizers.Examples(i18n.T("root.verbs.run.examples",
		fmt.Sprintf(`
	# Run with the profile settings
	%[1]s run
	# Override the service and drain up to two tasks per pass
	%[1]s run --base-url http://tasks.local:8080 --task-limit 2
	# Exercise the pipeline without clicking anything
	%[1]s run --dry-run
	`, meta.CLIName)))
)

// NewRunCmd builds the run verb.
func NewRunCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:     runUse,
		Short:   runShort,
		Long:    runLong,
		Example: runExamples,
		Args:    verbs.NoPositionalArgs,
		PreRunE: bindFlags,
		RunE: func(c *cobra.Command, args []string) error {
			dryRun, _ := c.Flags().GetBool(dryRunFlagName)
			return run(cmd.BuildHelper(c, args), dryRun)
		},
	}

	c.Flags().Int(taskLimitFlagName, 5,
		fmt.Sprintf("Maximum tasks taken per drain pass.\n- Config path: [ %s ]", config.TaskLimitConfigPath))
	c.Flags().Duration(checkIntervalFlagName, 30*time.Second,
		fmt.Sprintf("Wait between drain passes that found no work.\n- Config path: [ %s ]",
			config.CheckIntervalConfigPath))
	c.Flags().Duration(pullIntervalFlagName, time.Minute,
		fmt.Sprintf("Wait between pulls from the task service.\n- Config path: [ %s ]",
			config.PullIntervalConfigPath))
	c.Flags().String(baseURLFlagName, "",
		fmt.Sprintf("Base URL of the task service.\n- Config path: [ %s ]", config.BaseURLConfigPath))
	c.Flags().String(webhookURLFlagName, "",
		fmt.Sprintf("Webhook receiving task notifications.\n- Config path: [ %s ]", config.WebhookURLConfigPath))
	c.Flags().Bool(dryRunFlagName, false, "Use a no-op UI actuator instead of the configured helper.")

	return c, nil
}

func bindFlags(c *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(c, args)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	bindings := map[string]string{
		taskLimitFlagName:     config.TaskLimitConfigPath,
		checkIntervalFlagName: config.CheckIntervalConfigPath,
		pullIntervalFlagName:  config.PullIntervalConfigPath,
		baseURLFlagName:       config.BaseURLConfigPath,
		webhookURLFlagName:    config.WebhookURLConfigPath,
	}
	for flag, path := range bindings {
		if err := cfg.BindFlag(path, c.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	return nil
}

func run(helper cmd.Helper, dryRun bool) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	ctx := helper.GetContext()

	storePath, err := wiring.StorePath(cfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	if pruned, err := processes.PruneStale(); err != nil {
		logger.Warn("failed to prune stale process records", slog.Any("error", err))
	} else if len(pruned) > 0 {
		logger.Debug("pruned stale process records", slog.Int("count", len(pruned)))
	}
	// Early exit before the store is opened. RegisterOrchestrator below
	// re-checks after writing its own record.
	if running, err := processes.RunningOrchestrators(storePath); err == nil && len(running) > 0 {
		return &cmd.ConfigurationError{
			Err: fmt.Errorf("an orchestrator (pid %d) is already running for %s", running[0].PID, storePath),
		}
	}

	loopCfg, err := wiring.OrchestratorConfig(cfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	notifier, err := wiring.Notifier(cfg, logger)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	runner, err := wiring.Runner(cfg, logger, dryRun)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	var source tasksource.Source
	if strings.TrimSpace(cfg.GetString(config.BaseURLConfigPath)) != "" {
		httpSource, err := wiring.Source(cfg, logger)
		if err != nil {
			return &cmd.ConfigurationError{Err: err}
		}
		source = httpSource
	} else {
		logger.Warn("no task service configured; only stored tasks are processed")
	}

	store, err := wiring.OpenStore(cfg, logger, notifier)
	if err != nil {
		return cmd.PrepareExecutionError("failed to open the task store", err, helper.GetCmd())
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Source:   source,
		Runner:   runner,
		Uploader: wiring.Uploader(cfg, logger),
		Logger:   logger,
	}, loopCfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	unregister, err := processes.RegisterOrchestrator(processes.Record{
		Profile:   cfg.GetProfile(),
		CreatedAt: time.Now().UTC(),
		LogFile:   util.ExpandPath(cfg.GetString(config.LogFileConfigPath)),
		StorePath: storePath,
		Args:      processes.RedactArgs(os.Args[1:]),
	})
	switch {
	case errors.Is(err, processes.ErrOrchestratorRunning):
		return &cmd.ConfigurationError{Err: err}
	case err != nil:
		logger.Warn("failed to register orchestrator process", slog.Any("error", err))
	default:
		defer func() {
			if err := unregister(); err != nil {
				logger.Warn("failed to remove orchestrator process record", slog.Any("error", err))
			}
		}()
	}

	fmt.Fprintf(helper.GetStreams().Out, "Orchestrator running for profile %q (store %s). Press Ctrl+C to stop.\n",
		cfg.GetProfile(), store.Path())

	if err := orch.Run(ctx); err != nil {
		return cmd.PrepareExecutionError("orchestrator stopped", err, helper.GetCmd(), "store", store.Path())
	}
	return nil
}
