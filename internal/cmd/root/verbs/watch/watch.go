package watch

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/instrument"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Watch

	triggerFlagName = "trigger"
	sinceFlagName   = "since"
)

var (
	watchUse   = Verb.String() + " <pid>"
	watchShort = i18n.T("root.verbs.watch.short", "Watch an instrumented process until it finishes")
	watchLong  = normalizers.LongDesc(i18n.T("root.verbs.watch.long",
		`Poll the injector signal directory and the process with the given PID
until the session succeeds, fails, crashes or times out. With --trigger the
injector is run against the process first. Without it, signal directories
created up to --since ago are accepted.`))
	watchExamples = normalizers.Examples(i18n.T("root.verbs.watch.examples",
		fmt.Sprintf(`
	# Watch a session started by hand
	%[1]s watch 18412
	# Inject, then watch
	%[1]s watch 18412 --trigger -o json
	`, meta.CLIName)))
)

// NewWatchCmd builds the watch verb.
func NewWatchCmd() (*cobra.Command, error) {
	var trigger bool
	var since time.Duration
	c := &cobra.Command{
		Use:     watchUse,
		Short:   watchShort,
		Long:    watchLong,
		Example: watchExamples,
		Args:    cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return &cmd.ConfigurationError{Err: fmt.Errorf("invalid pid %q", args[0])}
			}
			if trigger {
				since = 0
			}
			return run(cmd.BuildHelper(c, args), pid, trigger, since)
		},
	}
	c.Flags().BoolVar(&trigger, triggerFlagName, false, "Run the configured injector against the process first.")
	c.Flags().DurationVar(&since, sinceFlagName, 5*time.Minute,
		"How far back a signal directory may have been created. Ignored with --trigger.")
	return c, nil
}

func run(helper cmd.Helper, pid int, trigger bool, since time.Duration) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	signalDir, err := wiring.SignalDir(cfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	ctx := helper.GetContext()

	session := instrument.Session{
		TargetPID:     pid,
		StartedAt:     time.Now().Add(-since),
		SignalBaseDir: signalDir,
	}
	if trigger {
		if err := wiring.Trigger(cfg, logger).Trigger(ctx, pid); err != nil {
			return cmd.PrepareExecutionError("failed to trigger the injector", err, helper.GetCmd())
		}
	}

	outcome := wiring.Monitor(cfg, logger).Watch(ctx, session)

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	if outType == common.TEXT {
		if err := renderText(helper.GetStreams().Out, outcome); err != nil {
			return err
		}
	} else {
		printer, err := cli.Format(outType.String(), helper.GetStreams().Out)
		if err != nil {
			return err
		}
		printer.Print(outcome)
		printer.Flush()
	}
	if outcome.State != instrument.Succeeded {
		return cmd.PrepareExecutionErrorMsg(helper, fmt.Sprintf("session ended as %s", outcome.State),
			"reason", outcome.Reason, "signal_dir", outcome.SignalDir)
	}
	return nil
}

func renderText(out io.Writer, outcome instrument.Outcome) error {
	if _, err := fmt.Fprintf(out, "State:    %s\n", outcome.State); err != nil {
		return err
	}
	fields := []struct{ label, value string }{
		{"Signals:", outcome.SignalDir},
		{"Artifact:", outcome.ArtifactHint},
		{"Reason:", outcome.Reason},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if _, err := fmt.Fprintf(out, "%-9s %s\n", f.label, f.value); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "Elapsed:  %s (%d polls)\n", outcome.Elapsed.Round(time.Second), outcome.Polls)
	return err
}
