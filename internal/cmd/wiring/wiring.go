// Package wiring builds the runtime collaborators of the usmapctl commands
// from the active profile's configuration.
package wiring

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steamok/usmapctl/internal/artifact"
	"github.com/steamok/usmapctl/internal/candidate"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/httpclient"
	"github.com/steamok/usmapctl/internal/instrument"
	"github.com/steamok/usmapctl/internal/notify"
	"github.com/steamok/usmapctl/internal/orchestrator"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/tasksource"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/util"
	"github.com/steamok/usmapctl/internal/workflow"
)

// launchControlName names the fallback launch control used when the step
// list marks none.
const launchControlName = "start_game"

// StorePath resolves the task store location for the active profile.
func StorePath(cfg config.Hook) (string, error) {
	if path := strings.TrimSpace(cfg.GetString(config.StorePathConfigPath)); path != "" {
		return util.ExpandPath(path), nil
	}
	return taskstore.DefaultPath(cfg.GetProfile())
}

// OpenStore opens the task store with the event journal attached. Extra
// observers, such as a notifier, receive every event after the journal.
func OpenStore(cfg config.Hook, logger *slog.Logger, observers ...taskstore.Observer) (*taskstore.FileStore, error) {
	path, err := StorePath(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve task store path: %w", err)
	}
	opts := []taskstore.Option{
		taskstore.WithLogger(logger),
		taskstore.WithObserver(taskstore.NewJournal(taskstore.JournalPath(path), logger)),
	}
	for _, observer := range observers {
		opts = append(opts, taskstore.WithObserver(observer))
	}
	return taskstore.Open(path, opts...)
}

// HTTPClient is the logging client shared by the outbound collaborators.
func HTTPClient(logger *slog.Logger) *httpclient.LoggingHTTPClient {
	return httpclient.NewLoggingHTTPClient(logger)
}

// Notifier renders store events to the log and, when configured, to the
// webhook.
func Notifier(cfg config.Hook, logger *slog.Logger) (*notify.Notifier, error) {
	renderer, err := notify.NewRenderer(notify.Templates{
		NewTask:      cfg.GetString(config.NotifyNewTaskTemplateConfigPath),
		StatusChange: cfg.GetString(config.NotifyStatusChangeTemplateConfigPath),
	})
	if err != nil {
		return nil, err
	}
	sinks := []notify.Sink{notify.LogSink{Logger: logger}}
	if url := strings.TrimSpace(cfg.GetString(config.WebhookURLConfigPath)); url != "" {
		sinks = append(sinks, &notify.WebhookSink{URL: url, Client: HTTPClient(logger)})
	}
	return notify.NewNotifier(renderer, logger, sinks...), nil
}

// Source builds the task service client.
func Source(cfg config.Hook, logger *slog.Logger) (*tasksource.HTTPSource, error) {
	return tasksource.NewHTTPSource(tasksource.Options{
		BaseURL:     cfg.GetString(config.BaseURLConfigPath),
		Query:       cfg.GetString(config.TaskSourceQueryConfigPath),
		Title:       cfg.GetString(config.TaskSourceTitleConfigPath),
		Filter:      cfg.GetString(config.TaskSourceFilterConfigPath),
		CatalogPath: util.ExpandPath(cfg.GetString(config.TaskSourceCatalogConfigPath)),
		Client:      HTTPClient(logger),
		Logger:      logger,
	})
}

// Uploader returns nil when uploads are disabled or no service is set.
func Uploader(cfg config.Hook, logger *slog.Logger) artifact.Uploader {
	base := strings.TrimSpace(cfg.GetString(config.BaseURLConfigPath))
	if !cfg.GetBool(config.UploadEnabledConfigPath) || base == "" {
		return nil
	}
	return &artifact.HTTPUploader{BaseURL: base, Client: HTTPClient(logger), Logger: logger}
}

// Selector returns the candidate selection options.
func Selector(cfg config.Hook) candidate.Options {
	opts := candidate.DefaultOptions()
	if suffix := cfg.GetString(config.SelectorExecutableSuffixPath); suffix != "" {
		opts.ExecutableSuffix = suffix
	}
	opts.ExcludeNamePatterns = append(opts.ExcludeNamePatterns, cfg.GetStringSlice(config.SelectorExcludeConfigPath)...)
	opts.MaxSnapshotGap = cfg.GetDuration(config.SelectorMaxSnapshotGapConfigPath)
	return opts
}

// Monitor builds the signal monitor.
func Monitor(cfg config.Hook, logger *slog.Logger) *instrument.Monitor {
	return instrument.NewMonitor(processes.OSProber{}, instrument.Options{
		PollInterval:    cfg.GetDuration(config.PollIntervalConfigPath),
		MaxWait:         cfg.GetDuration(config.MaxWaitConfigPath),
		ArtifactPattern: cfg.GetString(config.ArtifactPatternConfigPath),
		Logger:          logger,
	})
}

// Trigger builds the injector trigger.
func Trigger(cfg config.Hook, logger *slog.Logger) *instrument.CommandTrigger {
	return &instrument.CommandTrigger{
		Path:   util.ExpandPath(cfg.GetString(config.InjectorPathConfigPath)),
		Args:   cfg.GetStringSlice(config.InjectorArgsConfigPath),
		Logger: logger,
	}
}

// SignalDir is where the injector writes its signal directories.
func SignalDir(cfg config.Hook) (string, error) {
	dir := strings.TrimSpace(cfg.GetString(config.SignalDirConfigPath))
	if dir == "" {
		return "", errors.New("monitor signal directory is not configured")
	}
	return util.ExpandPath(dir), nil
}

// Runner builds the workflow runner. dryRun swaps the UI actuator for one
// that clicks nothing and never reports anti-cheat.
func Runner(cfg config.Hook, logger *slog.Logger, dryRun bool) (*workflow.Runner, error) {
	steps, err := workflow.LoadSteps(util.ExpandPath(cfg.GetString(config.StepsFileConfigPath)))
	if err != nil {
		return nil, err
	}
	signalDir, err := SignalDir(cfg)
	if err != nil {
		return nil, err
	}

	var actuator workflow.Actuator = &workflow.CommandActuator{
		Helper: util.ExpandPath(cfg.GetString(config.ActuatorHelperConfigPath)),
		Logger: logger,
	}
	if dryRun {
		actuator = workflow.NopActuator{Missing: workflow.AntiCheatSteps(steps)}
	}

	deps := workflow.Deps{
		Actuator:    actuator,
		Snapshotter: processes.NewSnapshotter(),
		Enricher:    processes.NewInspector(),
		Trigger:     Trigger(cfg, logger),
		Monitor:     Monitor(cfg, logger),
	}
	if payloadDir := strings.TrimSpace(cfg.GetString(config.PayloadDirConfigPath)); payloadDir != "" {
		deps.Payloads = workflow.DirPayload{Root: util.ExpandPath(payloadDir)}
		deps.Launcher = workflow.ExecLauncher{Logger: logger}
	} else {
		launch := launchStep(steps)
		deps.Launcher = workflow.ControlLauncher{
			Actuator: actuator,
			Control:  launch.Control,
			Retries:  launch.Retries,
		}
	}

	selector := Selector(cfg)
	return workflow.NewRunner(deps, workflow.Options{
		Steps:                 steps,
		LauncherWindow:        cfg.GetString(config.LauncherWindowConfigPath),
		GameFolder:            cfg.GetString(config.GameFolderConfigPath),
		SignalBaseDir:         signalDir,
		ExecutableSuffix:      selector.ExecutableSuffix,
		Selector:              selector,
		LaunchWait:            cfg.GetDuration(config.LaunchWaitConfigPath),
		MaxInstrumentAttempts: cfg.GetInt(config.MaxInstrumentAttemptsConfigPath),
		Logger:                logger,
	})
}

func launchStep(steps []workflow.Step) workflow.Step {
	if step, ok := workflow.LaunchStep(steps); ok {
		return step
	}
	return workflow.Step{
		Control: workflow.Control{Name: launchControlName, Image: "images/playable.png", Confidence: 0.8},
		Retries: 10,
		Launch:  true,
	}
}

// OrchestratorConfig maps the profile settings onto the loop configuration.
func OrchestratorConfig(cfg config.Hook) (orchestrator.Config, error) {
	policy, err := taskstore.ParseRecoveryPolicy(cfg.GetString(config.LeasePolicyConfigPath))
	if err != nil {
		return orchestrator.Config{}, err
	}
	return orchestrator.Config{
		TaskLimit:     cfg.GetInt(config.TaskLimitConfigPath),
		PullInterval:  cfg.GetDuration(config.PullIntervalConfigPath),
		CheckInterval: cfg.GetDuration(config.CheckIntervalConfigPath),
		PostBatchWait: cfg.GetDuration(config.PostBatchWaitConfigPath),
		RetryDelay:    cfg.GetDuration(config.RetryDelayConfigPath),
		PassAttempts:  cfg.GetInt(config.PassAttemptsConfigPath),
		LeaseTTL:      cfg.GetDuration(config.LeaseTTLConfigPath),
		LeasePolicy:   policy,
		Holder:        orchestrator.CurrentHolder(),
	}, nil
}
