package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// ConfigurationError marks failures caused by flags, configuration values or
// environment: the command never started its work.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return e.Err.Error() }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ExecutionError marks failures after validation passed, such as an
// unwritable store, an unreachable task service or a failed orchestrator run.
// Msg is the summary shown to the operator.
type ExecutionError struct {
	Msg   string
	Err   error
	Attrs []any
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// PrepareExecutionError wraps err and silences cobra's usage and error
// output for cmd; the root command renders execution errors itself.
func PrepareExecutionError(msg string, err error, cmd *cobra.Command, attrs ...any) *ExecutionError {
	if cmd != nil {
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
	}
	return &ExecutionError{Msg: msg, Err: err, Attrs: attrs}
}

// PrepareExecutionErrorMsg is PrepareExecutionError for failures that have a
// message but no underlying error.
func PrepareExecutionErrorMsg(helper Helper, msg string, attrs ...any) *ExecutionError {
	err := errors.New(msg)
	if msg == "" {
		err = errors.New("an unknown error occurred")
	}
	var c *cobra.Command
	if helper != nil {
		c = helper.GetCmd()
	}
	return PrepareExecutionError(msg, err, c, attrs...)
}
