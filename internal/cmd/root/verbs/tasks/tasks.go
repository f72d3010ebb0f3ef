package tasks

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/output/jq"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Tasks

	statusFlagName = "status"
	limitFlagName  = "limit"
	formatFlagName = "format"
	fileFlagName   = "file"
)

var (
	tasksUse   = Verb.String()
	tasksShort = i18n.T("root.verbs.tasks.short", "List tasks in the task store")
	tasksLong  = normalizers.LongDesc(i18n.T("root.verbs.tasks.long",
		`List the tasks recorded in the profile's task store in insertion order.`))
	tasksExamples = normalizers.Examples(i18n.T("root.verbs.tasks.examples",
		fmt.Sprintf(`
	# List every task
	%[1]s tasks
	# List failed tasks as JSON
	%[1]s tasks --status error -o json
	# Export the task table as CSV
	%[1]s tasks export --format csv --file tasks.csv
	# Print the ids of failed tasks
	%[1]s tasks --status error -o json --jq '.[].id' -r
	# Show the recorded events of one task
	%[1]s tasks history 1042
	`, meta.CLIName)))
)

type tasksCmd struct {
	statuses []string
	limit    int
	format   string
	file     string
}

// NewTasksCmd builds the tasks verb and its subcommands.
func NewTasksCmd() (*cobra.Command, error) {
	c := &tasksCmd{}

	listCmd := &cobra.Command{
		Use:     tasksUse,
		Short:   tasksShort,
		Long:    tasksLong,
		Example: tasksExamples,
		Args:    verbs.NoPositionalArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return c.runList(cmd.BuildHelper(cobraCmd, args))
		},
	}
	listCmd.Flags().StringSliceVar(&c.statuses, statusFlagName, nil,
		"Only show tasks in these statuses (unprocessed, processing, completed, error).")
	listCmd.Flags().IntVar(&c.limit, limitFlagName, 0, "Maximum number of tasks to show. 0 shows all.")
	jq.AddFlags(listCmd.Flags())
	listCmd.PreRunE = bindJQ

	exportCmd := &cobra.Command{
		Use:   verbs.Export.String(),
		Short: "Export the task table",
		Long:  "Write every task as a csv, json or yaml table with the persisted columns.",
		Args:  verbs.NoPositionalArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return c.runExport(cmd.BuildHelper(cobraCmd, args))
		},
	}
	exportCmd.Flags().StringVar(&c.format, formatFlagName, string(taskstore.ExportCSV),
		fmt.Sprintf("Export format. Allowed: %s", strings.Join(taskstore.ExportFormats, "|")))
	exportCmd.Flags().StringVar(&c.file, fileFlagName, "", "Write to this file instead of standard output.")

	historyCmd := &cobra.Command{
		Use:   verbs.History.String() + " <task-id>",
		Short: "Show the recorded events of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return runHistory(cmd.BuildHelper(cobraCmd, args))
		},
		PreRunE: bindJQ,
	}
	jq.AddFlags(historyCmd.Flags())

	listCmd.AddCommand(exportCmd, historyCmd)
	return listCmd, nil
}

func bindJQ(cobraCmd *cobra.Command, args []string) error {
	cfg, err := cmd.BuildHelper(cobraCmd, args).GetConfig()
	if err != nil {
		return err
	}
	return jq.BindFlags(cfg, cobraCmd.Flags())
}

// printStructured prints raw in a non-text format after applying any --jq
// filter.
func printStructured(helper cmd.Helper, outType common.OutputFormat, settings jq.Settings, raw any) error {
	out := helper.GetStreams().Out
	value, written, err := settings.Apply(raw, outType, out)
	if err != nil || written {
		return err
	}
	printer, err := cli.Format(outType.String(), out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(value)
	return nil
}

func outputSettings(helper cmd.Helper) (common.OutputFormat, jq.Settings, error) {
	outType, err := helper.GetOutputFormat()
	if err != nil {
		return outType, jq.Settings{}, err
	}
	cfg, err := helper.GetConfig()
	if err != nil {
		return outType, jq.Settings{}, err
	}
	settings, err := jq.Resolve(helper.GetCmd(), cfg)
	if err != nil {
		return outType, jq.Settings{}, err
	}
	return outType, settings, settings.Validate(outType)
}

func (c *tasksCmd) filter() (taskstore.Filter, error) {
	filter := taskstore.Filter{Limit: c.limit}
	for _, value := range c.statuses {
		status, err := taskstore.ParseStatus(value)
		if err != nil {
			return taskstore.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

func openStore(helper cmd.Helper) (*taskstore.FileStore, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, err
	}
	logger, err := helper.GetLogger()
	if err != nil {
		return nil, err
	}
	store, err := wiring.OpenStore(cfg, logger)
	if err != nil {
		return nil, cmd.PrepareExecutionError("failed to open the task store", err, helper.GetCmd())
	}
	return store, nil
}

func (c *tasksCmd) runList(helper cmd.Helper) error {
	filter, err := c.filter()
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	store, err := openStore(helper)
	if err != nil {
		return err
	}
	outType, settings, err := outputSettings(helper)
	if err != nil {
		return err
	}
	list, err := store.List(helper.GetContext(), filter)
	if err != nil {
		return cmd.PrepareExecutionError("failed to list tasks", err, helper.GetCmd())
	}

	if outType == common.TEXT {
		return renderTasksText(helper.GetStreams().Out, list)
	}
	rows := make([]taskstore.Row, 0, len(list))
	for _, t := range list {
		rows = append(rows, taskstore.RowOf(t))
	}
	return printStructured(helper, outType, settings, rows)
}

func (c *tasksCmd) runExport(helper cmd.Helper) error {
	format, err := taskstore.ParseExportFormat(c.format)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	store, err := openStore(helper)
	if err != nil {
		return err
	}
	list, err := store.List(helper.GetContext(), taskstore.Filter{})
	if err != nil {
		return cmd.PrepareExecutionError("failed to list tasks", err, helper.GetCmd())
	}

	var out io.Writer = helper.GetStreams().Out
	if c.file != "" {
		f, err := os.Create(c.file)
		if err != nil {
			return cmd.PrepareExecutionError("failed to create export file", err, helper.GetCmd())
		}
		defer f.Close()
		out = f
	}
	if err := taskstore.Export(out, list, format); err != nil {
		return cmd.PrepareExecutionError("failed to export tasks", err, helper.GetCmd())
	}
	return nil
}

func runHistory(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	storePath, err := wiring.StorePath(cfg)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	outType, settings, err := outputSettings(helper)
	if err != nil {
		return err
	}
	id := helper.GetArgs()[0]
	entries, err := taskstore.ReadJournal(taskstore.JournalPath(storePath), id)
	if err != nil {
		return cmd.PrepareExecutionError("failed to read the task journal", err, helper.GetCmd())
	}

	if outType == common.TEXT {
		return renderHistoryText(helper.GetStreams().Out, id, entries)
	}
	return printStructured(helper, outType, settings, entries)
}
