package detect

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/candidate"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/cmd/wiring"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/processes"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	Verb = verbs.Detect

	gameFolderFlagName = "game-folder"
	pathColumnWidth    = 60
)

var (
	detectUse   = Verb.String()
	detectShort = i18n.T("root.verbs.detect.short", "Find the process a game launch started")
	detectLong  = normalizers.LongDesc(i18n.T("root.verbs.detect.long",
		`Take a process snapshot, wait for Enter while you start the game by hand,
take a second snapshot and rank the processes that appeared. The first row is
the process the orchestrator would instrument.`))
	detectExamples = normalizers.Examples(i18n.T("root.verbs.detect.examples",
		fmt.Sprintf(`
	# Rank new processes
	%[1]s detect
	# Only consider executables below the library folder
	%[1]s detect --game-folder "D:/SteamLibrary/steamapps/common"
	`, meta.CLIName)))
)

// NewDetectCmd builds the detect verb.
func NewDetectCmd() (*cobra.Command, error) {
	var gameFolder string
	c := &cobra.Command{
		Use:     detectUse,
		Short:   detectShort,
		Long:    detectLong,
		Example: detectExamples,
		Args:    verbs.NoPositionalArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args), processes.NewSnapshotter(), processes.NewInspector(), gameFolder)
		},
	}
	c.Flags().StringVar(&gameFolder, gameFolderFlagName, "",
		"Only rank executables whose path contains this folder.")
	return c, nil
}

func run(helper cmd.Helper, snapshotter processes.Snapshotter, enricher candidate.Enricher, gameFolder string) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	ctx := helper.GetContext()
	opts := wiring.Selector(cfg)
	opts.ExpectedPathSubstring = gameFolder

	before, err := snapshotter.Snapshot(ctx)
	if err != nil {
		return cmd.PrepareExecutionError("failed to snapshot processes", err, helper.GetCmd())
	}
	if err := cmd.WaitForEnter(helper, "Start the game, then press Enter: "); err != nil {
		return err
	}
	after, err := snapshotter.Snapshot(ctx)
	if err != nil {
		return cmd.PrepareExecutionError("failed to snapshot processes", err, helper.GetCmd())
	}

	ranked, err := candidate.Rank(ctx, before, after, opts, enricher)
	if errors.Is(err, candidate.ErrNotFound) {
		ranked, err = nil, nil
	}
	if err != nil {
		return cmd.PrepareExecutionError("failed to rank new processes", err, helper.GetCmd())
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	if outType == common.TEXT {
		return renderText(helper.GetStreams().Out, ranked)
	}
	printer, err := cli.Format(outType.String(), helper.GetStreams().Out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(ranked)
	return nil
}

func renderText(out io.Writer, ranked []candidate.Candidate) error {
	if len(ranked) == 0 {
		_, err := fmt.Fprintln(out, "No new processes matched.")
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-8s %-10s %-8s %s\n", "#", "PID", "MEMORY", "THREADS", "EXECUTABLE")
	for i, c := range ranked {
		path := c.Record.ExecutablePath
		if path == "" {
			path = c.Record.Name
		}
		path = runewidth.Truncate(path, pathColumnWidth, "...")
		fmt.Fprintf(&b, "%-4d %-8d %-10s %-8d %s\n",
			i+1, c.Record.PID, fmt.Sprintf("%.0fMB", c.MemoryMB), c.ThreadCount, path)
	}
	_, err := io.WriteString(out, b.String())
	return err
}
