package root

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	profileCmd "github.com/steamok/usmapctl/internal/cmd/root/profile"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/detect"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/ps"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/pull"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/requeue"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/run"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/tasks"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs/watch"
	"github.com/steamok/usmapctl/internal/cmd/root/version"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
	"github.com/steamok/usmapctl/internal/log"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/util"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

var (
	rootLong = normalizers.LongDesc(i18n.T("root.rootLong", `
  usmapctl pulls games that need a mappings file from the task service,
  drives the launcher to install and start them, instruments the running
  game and records every task in a local, crash-safe task store.`))

	rootShort = i18n.T("root/rootShort", meta.CLIDescription)

	rootCmd *cobra.Command

	// Stores the global runtime value for the Configuration file path,
	configFilePath = defaultConfigFilePath()
	currProfile    = config.DefaultProfile

	currConfig   config.Hook
	streams      *iostreams.IOStreams
	outputFormat = cmd.NewEnum(common.OutputFormats(), common.DefaultOutputFormat)
	logLevel     = cmd.NewEnum(common.ValidLogLevels(), common.DefaultLogLevel)
	closeLog     func() error

	buildInfo *build.Info
)

func defaultConfigFilePath() string {
	path, err := config.GetDefaultConfigFilePath()
	if err != nil {
		return ""
	}
	return path
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   meta.CLIName,
		Short: rootShort,
		Long:  rootLong,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			logger, closer, err := log.New(log.Options{
				Level:        currConfig.GetString(common.LogLevelConfigPath),
				ConsoleLevel: currConfig.GetString(config.LogConsoleConfigPath),
				File:         util.ExpandPath(currConfig.GetString(config.LogFileConfigPath)),
				ErrOut:       streams.ErrOut,
			})
			if err != nil {
				return &cmd.ConfigurationError{Err: err}
			}
			closeLog = closer

			ctx := context.WithValue(c.Context(), config.ConfigKey, currConfig)
			ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
			ctx = context.WithValue(ctx, build.InfoKey, buildInfo)
			ctx = log.WithLogger(ctx, logger)
			c.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if closeLog != nil {
				return closeLog()
			}
			return nil
		},
	}

	// parses all flags not just the target command
	rootCmd.TraverseChildren = true

	rootCmd.PersistentFlags().StringVar(&configFilePath, common.ConfigFilePathFlagName,
		defaultConfigFilePath(),
		i18n.T("root."+common.ConfigFilePathFlagName, "Path to the configuration file to load."))

	rootCmd.PersistentFlags().StringVarP(&currProfile, common.ProfileFlagName, common.ProfileFlagShort,
		config.DefaultProfile,
		"Specify the profile to use for this command.")

	rootCmd.PersistentFlags().VarP(outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.OutputConfigPath, strings.Join(outputFormat.Allowed, "|")))

	rootCmd.PersistentFlags().Var(logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Configures the logging level.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.LogLevelConfigPath, strings.Join(logLevel.Allowed, "|")))

	return rootCmd
}

// addCommands adds the root subcommands to the command.
func addCommands() error {
	rootCmd.AddCommand(version.NewVersionCmd())
	rootCmd.AddCommand(profileCmd.NewProfileCmd())

	builders := []func() (*cobra.Command, error){
		run.NewRunCmd,
		pull.NewPullCmd,
		tasks.NewTasksCmd,
		requeue.NewRequeueCmd,
		detect.NewDetectCmd,
		watch.NewWatchCmd,
		ps.NewPSCmd,
	}
	for _, newCmd := range builders {
		c, err := newCmd()
		if err != nil {
			return err
		}
		rootCmd.AddCommand(c)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()
	err := addCommands()
	cobra.CheckErr(err)

	// The profile is not part of the configuration, so viper cannot apply
	// its priorities to it. USMAPCTL_PROFILE is read here and the flag
	// overrides it while parsing.
	profileEnvVar, found := os.LookupEnv(fmt.Sprintf("%s_PROFILE", strings.ToUpper(meta.CLIName)))
	if found {
		currProfile = profileEnvVar
	}
}

func initConfig() {
	cfg, e1 := config.GetConfig(configFilePath, currProfile, defaultConfigFilePath())
	cobra.CheckErr(e1)
	currConfig = cfg

	f := rootCmd.Flags().Lookup(common.OutputFlagName)
	cobra.CheckErr(cfg.BindFlag(common.OutputConfigPath, f))
	f = rootCmd.Flags().Lookup(common.LogLevelFlagName)
	cobra.CheckErr(cfg.BindFlag(common.LogLevelConfigPath, f))
}

func Execute(ctx context.Context, s *iostreams.IOStreams, bi *build.Info) {
	buildInfo = bi
	cobra.EnableTraverseRunHooks = true
	streams = s
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var executionError *cmd.ExecutionError
		if errors.As(err, &executionError) {
			printer, perr := cli.Format(outputFormat.String(), s.ErrOut)
			if perr != nil {
				fmt.Fprintln(s.ErrOut, executionError.Msg+": "+err.Error())
				os.Exit(1)
			}
			printer.Print(renderError(executionError))
			printer.Flush()
			os.Exit(1)
		}
		os.Exit(1)
	}
}

type errorOutput struct {
	Message string         `json:"message" yaml:"message"`
	Error   string         `json:"error" yaml:"error"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

func renderError(e *cmd.ExecutionError) errorOutput {
	msg := e.Msg
	if msg == "" {
		msg = "command failed"
	}
	out := errorOutput{Message: msg, Error: e.Err.Error()}
	// Attrs are key/value pairs, as with slog.
	for i := 0; i+1 < len(e.Attrs); i += 2 {
		key, ok := e.Attrs[i].(string)
		if !ok {
			continue
		}
		if out.Details == nil {
			out.Details = map[string]any{}
		}
		out.Details[key] = e.Attrs[i+1]
	}
	return out
}
