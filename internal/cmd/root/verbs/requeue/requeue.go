package requeue

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Requeue

	reasonFlagName = "reason"
	defaultReason  = "operator requeue"
)

var (
	requeueUse   = Verb.String() + " <task-id>..."
	requeueShort = i18n.T("root.verbs.requeue.short", "Return failed or stuck tasks to the queue")
	requeueLong  = normalizers.LongDesc(i18n.T("root.verbs.requeue.long",
		`Move tasks in the processing or error status back to unprocessed so the
orchestrator picks them up again. Their artifact path and error detail are
cleared. Completed tasks cannot be requeued.`))
	requeueExamples = normalizers.Examples(i18n.T("root.verbs.requeue.examples",
		fmt.Sprintf(`
	# Requeue one task after fixing the launcher
	%[1]s requeue 1042
	# Requeue several tasks without a prompt
	%[1]s requeue 1042 1043 --yes --reason "injector updated"
	`, meta.CLIName)))
)

type result struct {
	ID      string           `json:"id" yaml:"id"`
	From    taskstore.Status `json:"from,omitempty" yaml:"from,omitempty"`
	Success bool             `json:"success" yaml:"success"`
	Detail  string           `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// NewRequeueCmd builds the requeue verb.
func NewRequeueCmd() (*cobra.Command, error) {
	var reason string
	var yes bool
	c := &cobra.Command{
		Use:     requeueUse,
		Short:   requeueShort,
		Long:    requeueLong,
		Example: requeueExamples,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cmd.SetAutoApprove(c, yes)
			return run(cmd.BuildHelper(c, args), reason)
		},
	}
	c.Flags().StringVar(&reason, reasonFlagName, defaultReason, "Reason recorded in the log.")
	c.Flags().BoolVarP(&yes, common.YesFlagName, common.YesFlagShort, false, "Skip the confirmation prompt.")
	return c, nil
}

func run(helper cmd.Helper, reason string) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}
	ids := helper.GetArgs()
	if err := cmd.Confirm(helper,
		fmt.Sprintf("requeue %d task(s): %s", len(ids), strings.Join(ids, ", ")),
		"Requeued tasks lose their artifact path and error detail.",
	); err != nil {
		return err
	}

	notifier, err := wiring.Notifier(cfg, logger)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	store, err := wiring.OpenStore(cfg, logger, notifier)
	if err != nil {
		return cmd.PrepareExecutionError("failed to open the task store", err, helper.GetCmd())
	}

	results, failures := Requeue(helper, store, ids, reason)

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	if outType == common.TEXT {
		if err := renderText(helper.GetStreams().Out, results); err != nil {
			return err
		}
	} else {
		printer, err := cli.Format(outType.String(), helper.GetStreams().Out)
		if err != nil {
			return err
		}
		defer printer.Flush()
		printer.Print(results)
	}

	if len(failures) > 0 {
		return cmd.PrepareExecutionError("one or more tasks could not be requeued", errors.Join(failures...), helper.GetCmd())
	}
	return nil
}

// Requeue applies the operator requeue to each id and reports per-task
// results.
func Requeue(helper cmd.Helper, store taskstore.Store, ids []string, reason string) ([]result, []error) {
	ctx := helper.GetContext()
	results := make([]result, 0, len(ids))
	var failures []error
	for _, id := range ids {
		r := result{ID: id}
		if prev, err := store.Get(ctx, id); err == nil {
			r.From = prev.Status
		}
		if _, err := store.Requeue(ctx, id, reason); err != nil {
			r.Detail = err.Error()
			failures = append(failures, fmt.Errorf("task %s: %w", id, err))
		} else {
			r.Success = true
		}
		results = append(results, r)
	}
	return results, failures
}

func renderText(out io.Writer, results []result) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tFROM\tREQUEUED\tDETAIL"); err != nil {
		return err
	}
	for _, r := range results {
		from := string(r.From)
		if from == "" {
			from = "-"
		}
		detail := r.Detail
		if detail == "" {
			detail = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.ID, from, r.Success, detail); err != nil {
			return err
		}
	}
	return tw.Flush()
}
