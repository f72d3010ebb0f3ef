package ps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/taskstore"
	"github.com/steamok/usmapctl/internal/util"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.PS

	storeFlagName      = "store"
	defaultStopTimeout = 15 * time.Second
)

var (
	psUse   = Verb.String()
	psShort = i18n.T("root.verbs.ps.short", "List and stop running orchestrators")
	psLong  = normalizers.LongDesc(i18n.T("root.verbs.ps.long",
		`List the orchestrator hosts recorded in the local process registry, the
task store each one drains and the task it is working on. Stopping a host
returns its in-flight task to the queue.`))
	psExamples = normalizers.Examples(i18n.T("root.verbs.ps.examples",
		fmt.Sprintf(`
	# List orchestrators
	%[1]s ps
	# Only orchestrators draining one store
	%[1]s ps --store ~/.config/usmapctl/tasks/lab/tasks.json
	# Stop one orchestrator
	%[1]s ps stop 12345
	# Stop every orchestrator and prune stale records
	%[1]s ps stop --all
	`, meta.CLIName)))
)

// orchestratorRow is one registry entry joined with its live state.
type orchestratorRow struct {
	PID       int              `json:"pid" yaml:"pid"`
	Status    processes.Status `json:"status" yaml:"status"`
	Kind      string           `json:"kind" yaml:"kind"`
	Profile   string           `json:"profile,omitempty" yaml:"profile,omitempty"`
	Store     string           `json:"store,omitempty" yaml:"store,omitempty"`
	Task      string           `json:"task,omitempty" yaml:"task,omitempty"`
	TaskName  string           `json:"task_name,omitempty" yaml:"task_name,omitempty"`
	StartedAt time.Time        `json:"started_at" yaml:"started_at"`
	Uptime    string           `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	LogFile   string           `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	Record    string           `json:"record_file" yaml:"record_file"`
}

type psCmd struct {
	store       string
	stopAll     bool
	stopTimeout time.Duration
	now         func() time.Time
}

// NewPSCmd builds the ps verb and its stop subcommand.
func NewPSCmd() (*cobra.Command, error) {
	c := &psCmd{
		stopTimeout: defaultStopTimeout,
		now:         time.Now,
	}

	listCmd := &cobra.Command{
		Use:     psUse,
		Short:   psShort,
		Long:    psLong,
		Example: psExamples,
		Args:    verbs.NoPositionalArgs,
		RunE:    c.list,
	}
	listCmd.Flags().StringVar(&c.store, storeFlagName, "",
		"Only show orchestrators draining this task store file.")
	listCmd.AddCommand(c.newStopCmd())

	return listCmd, nil
}

func (c *psCmd) list(cobraCmd *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(cobraCmd, args)

	records, err := processes.ListRecords()
	if err != nil {
		return cmd.PrepareExecutionError("failed to list orchestrators", err, helper.GetCmd())
	}
	records, err = c.filterByStore(records)
	if err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	rows := c.rows(helper.GetContext(), records)

	format, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	out := helper.GetStreams().Out
	if format == common.TEXT {
		return writeRows(out, rows)
	}
	printer, err := cli.Format(format.String(), out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(rows)
	return nil
}

func (c *psCmd) filterByStore(records []processes.StoredRecord) ([]processes.StoredRecord, error) {
	if c.store == "" {
		return records, nil
	}
	want, err := canonicalStore(c.store)
	if err != nil {
		return nil, err
	}
	kept := records[:0:0]
	for _, record := range records {
		if record.StorePath == "" {
			continue
		}
		if got, err := canonicalStore(record.StorePath); err == nil && got == want {
			kept = append(kept, record)
		}
	}
	return kept, nil
}

func canonicalStore(path string) (string, error) {
	abs, err := filepath.Abs(util.ExpandPath(path))
	if err != nil {
		return "", fmt.Errorf("invalid --%s value %q: %w", storeFlagName, path, err)
	}
	return abs, nil
}

func (c *psCmd) rows(ctx context.Context, records []processes.StoredRecord) []orchestratorRow {
	rows := make([]orchestratorRow, 0, len(records))
	for _, record := range records {
		state := processes.Inspect(record.Record)
		row := orchestratorRow{
			PID:       record.PID,
			Status:    state.Status,
			Kind:      record.Kind,
			Profile:   record.Profile,
			Store:     record.StorePath,
			StartedAt: record.CreatedAt,
			LogFile:   record.LogFile,
			Record:    record.File,
		}
		if state.Running {
			if !record.CreatedAt.IsZero() {
				row.Uptime = c.now().Sub(record.CreatedAt).Round(time.Second).String()
			}
			if task, ok := heldTask(ctx, record.Record); ok {
				row.Task = task.ID
				row.TaskName = task.DisplayName
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// heldTask finds the processing task leased by the recorded orchestrator.
// Stores that do not exist yet are not created.
func heldTask(ctx context.Context, record processes.Record) (taskstore.Task, bool) {
	if record.StorePath == "" {
		return taskstore.Task{}, false
	}
	if _, err := os.Stat(record.StorePath); err != nil {
		return taskstore.Task{}, false
	}
	store, err := taskstore.Open(record.StorePath)
	if err != nil {
		return taskstore.Task{}, false
	}
	tasks, err := store.List(ctx, taskstore.Filter{Statuses: []taskstore.Status{taskstore.Processing}})
	if err != nil {
		return taskstore.Task{}, false
	}
	for _, task := range tasks {
		if task.Lease == nil || task.Lease.HolderPID != record.PID {
			continue
		}
		if record.StartToken != 0 && task.Lease.HolderStartToken != 0 &&
			task.Lease.HolderStartToken != record.StartToken {
			continue
		}
		return task, true
	}
	return taskstore.Task{}, false
}

func writeRows(out io.Writer, rows []orchestratorRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No orchestrators found.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tSTATUS\tPROFILE\tUPTIME\tTASK\tSTORE")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			row.PID, row.Status, dash(row.Profile), dash(row.Uptime), dash(row.Task), dash(row.Store))
	}
	return tw.Flush()
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
