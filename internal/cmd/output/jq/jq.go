// Package jq filters structured command output with jq expressions.
//
// Besides the standard jq builtins, expressions can use $now (unix seconds)
// and the age function, which turns an RFC 3339 timestamp into the seconds
// elapsed since then:
//
//	usmapctl tasks -o json --jq 'map(select(.lastUpdated | age > 3600)) | .[].id'
package jq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/config"
)

const (
	FlagName                    = "jq"
	RawOutputFlagName           = "jq-raw-output"
	RawOutputFlagShort          = "r"
	DefaultExpressionConfigPath = "jq.default-expression"
	RawOutputConfigPath         = "jq.raw-output"
)

// now is the clock behind $now and age.
var now = time.Now

var programs sync.Map

// Settings is the filter resolved for one command invocation.
type Settings struct {
	Filter    string
	RawOutput bool
}

// Active reports whether a filter will run.
func (s Settings) Active() bool {
	return strings.TrimSpace(s.Filter) != ""
}

// AddFlags registers --jq and --jq-raw-output on a listing command.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(FlagName, "", fmt.Sprintf(
		`Filter JSON or YAML output with a jq expression. $now and age are available.
- Config path: [ %s ] (used when the flag is absent)`, DefaultExpressionConfigPath))
	flags.BoolP(RawOutputFlagName, RawOutputFlagShort, false, fmt.Sprintf(
		`Print string results without JSON quotes, one per line.
- Config path: [ %s ]`, RawOutputConfigPath))
}

// BindFlags lets --jq-raw-output override the profile value.
func BindFlags(cfg config.Hook, flags *pflag.FlagSet) error {
	if cfg == nil || flags == nil {
		return nil
	}
	f := flags.Lookup(RawOutputFlagName)
	if f == nil {
		return nil
	}
	return cfg.BindFlag(RawOutputConfigPath, f)
}

// Resolve reads the filter for c. An explicitly empty --jq means identity
// and an absent one falls back to the profile's default expression.
// Commands that never registered --jq get a zero Settings.
func Resolve(c *cobra.Command, cfg config.Hook) (Settings, error) {
	if c == nil || c.Flags().Lookup(FlagName) == nil {
		return Settings{}, nil
	}
	flags := c.Flags()
	expr, err := flags.GetString(FlagName)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	switch expr = strings.TrimSpace(expr); {
	case flags.Changed(FlagName) && expr == "":
		s.Filter = "."
	case flags.Changed(FlagName), cfg == nil:
		s.Filter = expr
	default:
		s.Filter = strings.TrimSpace(cfg.GetString(DefaultExpressionConfigPath))
	}

	if cfg == nil {
		s.RawOutput, err = flags.GetBool(RawOutputFlagName)
		return s, err
	}
	s.RawOutput = cfg.GetBool(RawOutputConfigPath)
	return s, nil
}

// Validate rejects combinations the output format cannot honor.
func (s Settings) Validate(format common.OutputFormat) error {
	var err error
	switch {
	case s.RawOutput && !s.Active():
		err = fmt.Errorf("--%s requires --%s", RawOutputFlagName, FlagName)
	case s.RawOutput && format != common.JSON:
		err = fmt.Errorf("--%s is only supported with --output json", RawOutputFlagName)
	case s.Active() && format != common.JSON && format != common.YAML:
		err = fmt.Errorf("--%s is only supported with --output json or --output yaml", FlagName)
	}
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	return nil
}

// Apply runs the filter over value. It returns what should be printed, or
// written=true when raw output already went to out. Without a filter value
// is returned untouched.
func (s Settings) Apply(value any, format common.OutputFormat, out io.Writer) (result any, written bool, err error) {
	if !s.Active() {
		return value, false, nil
	}
	if err := s.Validate(format); err != nil {
		return nil, false, err
	}

	input, err := normalize(value)
	if err != nil {
		return nil, false, err
	}
	results, err := run(s.Filter, input)
	if err != nil {
		return nil, false, err
	}

	if s.RawOutput {
		return nil, true, writeLines(out, results)
	}
	switch len(results) {
	case 0:
		return nil, false, nil
	case 1:
		return results[0], false, nil
	}
	return results, false, nil
}

// normalize converts Go values into the map/slice shapes gojq walks, using
// the same field names JSON output would show.
func normalize(value any) (any, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode output before applying jq filter: %w", err)
	}
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	return generic, nil
}

func run(filter string, input any) ([]any, error) {
	program, err := compile(filter)
	if err != nil {
		return nil, err
	}
	var results []any
	iter := program.Run(input, float64(now().Unix()))
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		if err, isErr := v.(error); isErr {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				return results, nil
			}
			return nil, fmt.Errorf("jq filter failed: %w", err)
		}
		results = append(results, v)
	}
}

func compile(filter string) (*gojq.Code, error) {
	if cached, ok := programs.Load(filter); ok {
		return cached.(*gojq.Code), nil
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	program, err := gojq.Compile(query,
		gojq.WithVariables([]string{"$now"}),
		gojq.WithFunction("age", 0, 0, age),
	)
	if err != nil {
		return nil, fmt.Errorf("compile jq expression: %w", err)
	}
	programs.Store(filter, program)
	return program, nil
}

// age returns whole seconds elapsed since an RFC 3339 timestamp.
func age(v any, _ []any) any {
	stamp, ok := v.(string)
	if !ok {
		return fmt.Errorf("age cannot be applied to %T", v)
	}
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return fmt.Errorf("age: %w", err)
	}
	return int(now().Sub(t) / time.Second)
}

func writeLines(out io.Writer, results []any) error {
	for _, v := range results {
		line, ok := v.(string)
		if !ok {
			encoded, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode filtered result: %w", err)
			}
			line = string(encoded)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
