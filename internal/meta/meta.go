package meta

const (
	CLIName = "usmapctl"
	// CLIDescription is shown in the root command help
	CLIDescription = "Drives game instrumentation runs and tracks them as a durable task queue"
)
