package pull

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/tasksource"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Pull

	baseURLFlagName = "base-url"
)

var (
	pullUse   = Verb.String()
	pullShort = i18n.T("root.verbs.pull.short", "Pull new tasks from the task service once")
	pullLong  = normalizers.LongDesc(i18n.T("root.verbs.pull.long",
		`Search the task service for tasks that need a mappings file and insert
the ones not yet in the task store. Existing tasks are never modified.`))
	pullExamples = normalizers.Examples(i18n.T("root.verbs.pull.examples",
		fmt.Sprintf(`
	# Pull with the profile settings
	%[1]s pull
	# Pull from another service and print the inserted tasks as YAML
	%[1]s pull --base-url http://tasks.local:8080 -o yaml
	`, meta.CLIName)))
)

// NewPullCmd builds the pull verb.
func NewPullCmd() (*cobra.Command, error) {
	c := &cobra.Command{
		Use:     pullUse,
		Short:   pullShort,
		Long:    pullLong,
		Example: pullExamples,
		Args:    verbs.NoPositionalArgs,
		PreRunE: func(c *cobra.Command, args []string) error {
			cfg, err := cmd.BuildHelper(c, args).GetConfig()
			if err != nil {
				return err
			}
			return cfg.BindFlag(config.BaseURLConfigPath, c.Flags().Lookup(baseURLFlagName))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}
	c.Flags().String(baseURLFlagName, "",
		fmt.Sprintf("Base URL of the task service.\n- Config path: [ %s ]", config.BaseURLConfigPath))
	return c, nil
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return err
	}

	source, err := wiring.Source(cfg, logger)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	notifier, err := wiring.Notifier(cfg, logger)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	store, err := wiring.OpenStore(cfg, logger, notifier)
	if err != nil {
		return cmd.PrepareExecutionError("failed to open the task store", err, helper.GetCmd())
	}

	inserted, err := Pull(helper, source, store)
	if err != nil {
		return err
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	if outType == common.TEXT {
		return renderText(helper.GetStreams().Out, inserted)
	}
	rows := make([]taskstore.Row, 0, len(inserted))
	for _, t := range inserted {
		rows = append(rows, taskstore.RowOf(t))
	}
	printer, err := cli.Format(outType.String(), helper.GetStreams().Out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(rows)
	return nil
}

// Pull runs one fetch and insert pass.
func Pull(helper cmd.Helper, source tasksource.Source, store taskstore.Store) ([]taskstore.Task, error) {
	ctx := helper.GetContext()
	candidates, err := source.Fetch(ctx)
	if err != nil {
		return nil, cmd.PrepareExecutionError("failed to fetch tasks", err, helper.GetCmd())
	}
	inserted, err := store.PullNew(ctx, candidates)
	if err != nil {
		return nil, cmd.PrepareExecutionError("failed to insert tasks", err, helper.GetCmd())
	}
	return inserted, nil
}

func renderText(out io.Writer, inserted []taskstore.Task) error {
	if len(inserted) == 0 {
		_, err := fmt.Fprintln(out, "No new tasks.")
		return err
	}
	if _, err := fmt.Fprintf(out, "Inserted %d new task(s)\n", len(inserted)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ID\tNAME"); err != nil {
		return err
	}
	for _, t := range inserted {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", t.ID, t.DisplayName); err != nil {
			return err
		}
	}
	return tw.Flush()
}
