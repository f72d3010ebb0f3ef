package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/iostreams"
	"github.com/steamok/usmapctl/internal/log"
)

// Helper gives verbs access to what the root command put in the command
// context. Tests replace it with test/cmd.MockHelper.
type Helper interface {
	GetCmd() *cobra.Command
	GetArgs() []string
	GetStreams() *iostreams.IOStreams
	GetConfig() (config.Hook, error)
	GetOutputFormat() (common.OutputFormat, error)
	GetLogger() (*slog.Logger, error)
	GetBuildInfo() (*build.Info, error)
	GetContext() context.Context
}

type CommandHelper struct {
	Cmd  *cobra.Command
	Args []string
}

func BuildHelper(cmd *cobra.Command, args []string) Helper {
	return &CommandHelper{Cmd: cmd, Args: args}
}

// fromContext looks up key in the command context and asserts its type. A
// missing or mistyped value is a ConfigurationError naming what.
func fromContext[T comparable](c *cobra.Command, key any, what string) (T, error) {
	var zero T
	value, ok := c.Context().Value(key).(T)
	if !ok || value == zero {
		return zero, &ConfigurationError{Err: fmt.Errorf("no %s in command context", what)}
	}
	return value, nil
}

func (r *CommandHelper) GetCmd() *cobra.Command { return r.Cmd }

func (r *CommandHelper) GetArgs() []string { return r.Args }

func (r *CommandHelper) GetContext() context.Context { return r.Cmd.Context() }

func (r *CommandHelper) GetBuildInfo() (*build.Info, error) {
	return fromContext[*build.Info](r.Cmd, build.InfoKey, "build info")
}

func (r *CommandHelper) GetLogger() (*slog.Logger, error) {
	return fromContext[*slog.Logger](r.Cmd, log.LoggerKey, "logger")
}

func (r *CommandHelper) GetConfig() (config.Hook, error) {
	return fromContext[config.Hook](r.Cmd, config.ConfigKey, "configuration")
}

// GetStreams panics when the root command did not install streams; every
// verb runs below it.
func (r *CommandHelper) GetStreams() *iostreams.IOStreams {
	streams, err := fromContext[*iostreams.IOStreams](r.Cmd, iostreams.StreamsKey, "io streams")
	if err != nil {
		panic(err)
	}
	return streams
}

func (r *CommandHelper) GetOutputFormat() (common.OutputFormat, error) {
	cfg, err := r.GetConfig()
	if err != nil {
		return common.TEXT, err
	}
	return common.OutputFormatStringToIota(cfg.GetString(common.OutputConfigPath))
}
