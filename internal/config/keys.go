package config

// Configuration paths, relative to the active profile.
const (
	BaseURLConfigPath       = "base-url"
	WebhookURLConfigPath    = "webhook-url"
	TaskLimitConfigPath     = "task-limit"
	CheckIntervalConfigPath = "check-interval"
	PullIntervalConfigPath  = "pull-interval"
	RetryDelayConfigPath    = "retry-delay"
	PostBatchWaitConfigPath = "post-batch-wait"
	PassAttemptsConfigPath  = "pass-attempts"
	LogFileConfigPath       = "log-file"
	LogConsoleConfigPath    = "log-console-level"

	StorePathConfigPath = "store.path"

	LeaseTTLConfigPath    = "lease.ttl"
	LeasePolicyConfigPath = "lease.policy"

	SignalDirConfigPath       = "monitor.signal-dir"
	PollIntervalConfigPath    = "monitor.poll-interval"
	MaxWaitConfigPath         = "monitor.max-wait"
	ArtifactPatternConfigPath = "monitor.artifact-pattern"

	InjectorPathConfigPath = "injector.path"
	InjectorArgsConfigPath = "injector.args"

	ActuatorHelperConfigPath = "actuator.helper"

	LaunchWaitConfigPath            = "workflow.launch-wait"
	GameFolderConfigPath            = "workflow.game-folder"
	MaxInstrumentAttemptsConfigPath = "workflow.max-instrument-attempts"
	PayloadDirConfigPath            = "workflow.payload-dir"
	StepsFileConfigPath             = "workflow.steps-file"
	LauncherWindowConfigPath        = "workflow.launcher-window"

	SelectorExcludeConfigPath        = "selector.exclude"
	SelectorExecutableSuffixPath     = "selector.executable-suffix"
	SelectorMaxSnapshotGapConfigPath = "selector.max-snapshot-gap"

	TaskSourceFilterConfigPath  = "tasksource.filter"
	TaskSourceCatalogConfigPath = "tasksource.catalog"
	TaskSourceQueryConfigPath   = "tasksource.query"
	TaskSourceTitleConfigPath   = "tasksource.title"

	UploadEnabledConfigPath = "upload.enabled"

	NotifyNewTaskTemplateConfigPath      = "notify.templates.new-task"
	NotifyStatusChangeTemplateConfigPath = "notify.templates.status-change"
)
