package profile

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
	"github.com/steamok/usmapctl/internal/cmd"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/cmd/root/verbs"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/profile"
	"github.com/steamok/usmapctl/internal/util/i18n"
	"github.com/steamok/usmapctl/internal/util/normalizers"
)

var (
	profileUse   = verbs.Profile.String()
	profileShort = i18n.T("root.profile.profileShort", "List and create configuration profiles")
	profileLong  = normalizers.LongDesc(i18n.T("root.profile.profileLong",
		`Each profile holds the settings of one orchestrator rig: task service,
task store, injector and workflow options. Select one with --profile.`))
	profileExamples = normalizers.Examples(i18n.T("root.profile.profileExamples",
		fmt.Sprintf(`
	# List profiles
	%[1]s profile
	# Add a profile with default settings, then run it
	%[1]s profile create rig-2
	%[1]s run --profile rig-2
	`, meta.CLIName)))
)

type profileItem struct {
	Name   string `json:"name" yaml:"name"`
	Active bool   `json:"active" yaml:"active"`
	Store  string `json:"store,omitempty" yaml:"store,omitempty"`
}

func NewProfileCmd() *cobra.Command {
	rv := &cobra.Command{
		Use:     profileUse,
		Short:   profileShort,
		Long:    profileLong,
		Example: profileExamples,
		Aliases: []string{"profiles"},
		Args:    verbs.NoPositionalArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runList(cmd.BuildHelper(c, args))
		},
	}
	rv.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Add a profile with default settings to the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runCreate(cmd.BuildHelper(c, args))
		},
	})
	return rv
}

func manager(helper cmd.Helper) (config.Hook, *config.ProfiledConfig, profile.Manager, error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	profiled, ok := cfg.(*config.ProfiledConfig)
	if !ok {
		return nil, nil, nil, &cmd.ConfigurationError{Err: fmt.Errorf("profiles require a file-backed configuration")}
	}
	return cfg, profiled, profile.NewManager(profiled.Viper), nil
}

func runList(helper cmd.Helper) error {
	cfg, profiled, m, err := manager(helper)
	if err != nil {
		return err
	}

	items := make([]profileItem, 0)
	for _, name := range m.GetProfiles() {
		item := profileItem{Name: name, Active: name == cfg.GetProfile()}
		if item.Active {
			item.Store = cfg.GetString(config.StorePathConfigPath)
		} else {
			item.Store = profiled.GetString(name + "." + config.StorePathConfigPath)
		}
		items = append(items, item)
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}
	if outType == common.TEXT {
		return renderText(helper.GetStreams().Out, items)
	}
	p, err := cli.Format(outType.String(), helper.GetStreams().Out)
	if err != nil {
		return err
	}
	defer p.Flush()
	p.Print(items)
	return nil
}

func runCreate(helper cmd.Helper) error {
	cfg, _, m, err := manager(helper)
	if err != nil {
		return err
	}
	name := helper.GetArgs()[0]
	if err := m.CreateProfile(name, config.ProfileDefaults(name, cfg.GetPath())); err != nil {
		return &cmd.ConfigurationError{Err: err}
	}
	if err := cfg.Save(); err != nil {
		return cmd.PrepareExecutionError("failed to write the config file", err, helper.GetCmd())
	}
	_, err = fmt.Fprintf(helper.GetStreams().Out, "Created profile %s in %s\n", name, cfg.GetPath())
	return err
}

func renderText(out io.Writer, items []profileItem) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "\tNAME\tSTORE"); err != nil {
		return err
	}
	for _, item := range items {
		marker := ""
		if item.Active {
			marker = "*"
		}
		store := item.Store
		if store == "" {
			store = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", marker, item.Name, store); err != nil {
			return err
		}
	}
	return tw.Flush()
}
