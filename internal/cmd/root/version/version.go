package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/build"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

const (
	ShowCommitFlagName   = "show-commit"
	ShowCommitConfigPath = "version." + ShowCommitFlagName
)

var (
	// VERSION may be overridden by the linker.
	VERSION = "dev"
	// COMMIT may be overridden by the linker.
	COMMIT = "unknown"

	versionShort = i18n.T("root.version.versionShort",
		fmt.Sprintf("Print the %s version", meta.CLIName))
	versionLong = normalizers.LongDesc(i18n.T("root.version.versionLong",
		`Print the release of this binary. Structured output formats also report
the Go toolchain and the platform it was built for.`))
	versionExample = normalizers.Examples(i18n.T("root.version.versionExamples",
		fmt.Sprintf(`
		# Print the release
		%[1]s version
		# Include the commit and build date
		%[1]s version --show-commit
		# Everything, as JSON
		%[1]s version --show-commit -o json
		`, meta.CLIName)))
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

type report struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Date     string `json:"date,omitempty" yaml:"date,omitempty"`
	Go       string `json:"go" yaml:"go"`
	Platform string `json:"platform" yaml:"platform"`
}

// NewVersionCmd builds the version command.
func NewVersionCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "version",
		Short:   versionShort,
		Long:    versionLong,
		Example: versionExample,
		PreRunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			cfg, err := helper.GetConfig()
			if err != nil {
				return err
			}
			return cfg.BindFlag(ShowCommitConfigPath, c.Flags().Lookup(ShowCommitFlagName))
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	c.Flags().Bool(ShowCommitFlagName, false,
		i18n.T("root."+ShowCommitConfigPath,
			fmt.Sprintf("Also print the git commit and build date.\n (config path = '%s')", ShowCommitConfigPath)))
	return c
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}
	info := &build.Info{Version: VERSION, Commit: COMMIT}
	if fromCtx, err := helper.GetBuildInfo(); err == nil {
		info = fromCtx
	}
	r := newReport(info, cfg.GetBool(ShowCommitConfigPath))

	format, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	out := helper.GetStreams().Out
	if format == common.TEXT {
		return writeText(out, r)
	}
	printer, err := cli.Format(format.String(), out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(r)
	return nil
}

// newReport fills gaps left by the linker from the module build info, which
// is present for binaries built with go install.
func newReport(info *build.Info, withCommit bool) report {
	r := report{
		Version:  info.Version,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	commit, date := info.Commit, info.Date

	if bi, ok := readBuildInfo(); ok {
		if (r.Version == "" || r.Version == "dev") && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			r.Version = strings.TrimPrefix(bi.Main.Version, "v")
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" || commit == "unknown" {
					commit = s.Value
				}
			case "vcs.time":
				if date == "" || date == "unknown" {
					date = s.Value
				}
			}
		}
	}
	if r.Version == "" {
		r.Version = "dev"
	}
	if withCommit {
		r.Commit = commit
		if date != "unknown" {
			r.Date = date
		}
	}
	return r
}

func writeText(out io.Writer, r report) error {
	line := meta.CLIName + " " + r.Version
	var extra []string
	if r.Commit != "" {
		extra = append(extra, "commit "+r.Commit)
	}
	if r.Date != "" {
		extra = append(extra, "built "+r.Date)
	}
	if len(extra) > 0 {
		line += " (" + strings.Join(extra, ", ") + ")"
	}
	_, err := fmt.Fprintln(out, line)
	return err
}
