package ps

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/processes"
)

// stopOutcome reports what happened to one registry entry.
type stopOutcome struct {
	PID     int    `json:"pid" yaml:"pid"`
	Store   string `json:"store,omitempty" yaml:"store,omitempty"`
	Action  string `json:"action" yaml:"action"`
	Success bool   `json:"success" yaml:"success"`
	Detail  string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (c *psCmd) newStopCmd() *cobra.Command {
	stopCmd := &cobra.Command{
		Use:   verbs.Stop.String() + " <pid>",
		Short: "Stop a running orchestrator",
		Long: "Send SIGTERM to one orchestrator by PID, or to all of them with --all. " +
			"Hosts still running after --timeout are killed and records of exited hosts are pruned.",
		RunE: c.stop,
	}
	stopCmd.Flags().BoolVar(&c.stopAll, "all", false, "Stop all recorded orchestrators.")
	stopCmd.Flags().DurationVar(&c.stopTimeout, "timeout", c.stopTimeout,
		"How long to wait for the orchestrator to requeue its task and exit.")
	return stopCmd
}

func (c *psCmd) stop(cobraCmd *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(cobraCmd, args)

	records, err := processes.ListRecords()
	if err != nil {
		return cmd.PrepareExecutionError("failed to load orchestrator records", err, helper.GetCmd())
	}
	targets, err := c.resolveTargets(helper.GetArgs(), records)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}

	outcomes := make([]stopOutcome, 0, len(targets))
	var failed []error
	for _, target := range targets {
		outcome := stopOrchestrator(target, c.stopTimeout)
		if !outcome.Success {
			failed = append(failed, fmt.Errorf("pid %d: %s", outcome.PID, outcome.Detail))
		}
		outcomes = append(outcomes, outcome)
	}

	if err := c.printOutcomes(helper, outcomes); err != nil {
		return err
	}
	if len(failed) > 0 {
		return cmd.PrepareExecutionError("one or more orchestrators failed to stop",
			errors.Join(failed...), helper.GetCmd(), "failed", len(failed))
	}
	return nil
}

func (c *psCmd) printOutcomes(helper cmd.Helper, outcomes []stopOutcome) error {
	format, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	out := helper.GetStreams().Out
	if format == common.TEXT {
		return writeOutcomes(out, outcomes)
	}
	printer, err := cli.Format(format.String(), out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(outcomes)
	return nil
}

func (c *psCmd) resolveTargets(args []string, records []processes.StoredRecord) ([]processes.StoredRecord, error) {
	switch {
	case c.stopAll && len(args) > 0:
		return nil, errors.New("do not provide a PID when using --all")
	case c.stopAll:
		return records, nil
	case len(args) != 1:
		return nil, errors.New("provide an orchestrator PID or use --all")
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("invalid PID %q", args[0])
	}
	for _, record := range records {
		if record.PID == pid {
			return []processes.StoredRecord{record}, nil
		}
	}
	return nil, fmt.Errorf("no orchestrator record found for PID %d", pid)
}

func stopOrchestrator(record processes.StoredRecord, timeout time.Duration) stopOutcome {
	outcome := stopOutcome{PID: record.PID, Store: record.StorePath}

	state := processes.Inspect(record.Record)
	switch state.Status {
	case processes.StatusRunning:
		outcome.Action = "stop"
		if err := processes.Terminate(record.PID, timeout); err != nil {
			outcome.Detail = err.Error()
			return outcome
		}
		// A clean exit removes the record itself; a killed host leaves it behind.
		if err := processes.RemoveRecordByPath(record.File); err != nil {
			outcome.Detail = fmt.Sprintf("orchestrator stopped but its record remains: %v", err)
			return outcome
		}
		outcome.Action, outcome.Success = "stopped", true
	case processes.StatusExited, processes.StatusStale:
		outcome.Action = "prune"
		if err := processes.RemoveRecordByPath(record.File); err != nil {
			outcome.Detail = fmt.Sprintf("failed to remove stale record: %v", err)
			return outcome
		}
		outcome.Action, outcome.Success = "pruned", true
		outcome.Detail = "removed stale record"
	default:
		outcome.Action = "inspect"
		outcome.Detail = state.CheckError
		if outcome.Detail == "" {
			outcome.Detail = "unable to determine process state"
		}
	}
	return outcome
}

func writeOutcomes(out io.Writer, outcomes []stopOutcome) error {
	if len(outcomes) == 0 {
		_, err := fmt.Fprintln(out, "No orchestrators matched.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tACTION\tSUCCESS\tDETAIL")
	for _, outcome := range outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", outcome.PID, outcome.Action, outcome.Success, dash(outcome.Detail))
	}
	return tw.Flush()
}
