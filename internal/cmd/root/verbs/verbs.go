package verbs

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	Run     = VerbValue("run")
	Pull    = VerbValue("pull")
	Tasks   = VerbValue("tasks")
	Export  = VerbValue("export")
	History = VerbValue("history")
	Requeue = VerbValue("requeue")
	Detect  = VerbValue("detect")
	Watch   = VerbValue("watch")
	PS      = VerbValue("ps")
	Stop    = VerbValue("stop")
	Profile = VerbValue("profile")
)

// Empty type to represent the _type_ Verb. Genesis is to support a key in a Context
type VerbKey struct{}

// Verb is a global instance of the VerbKey type
var Verb = VerbKey{}

// Will represent a specific Verb (run, pull, tasks, etc)
type VerbValue string

func (v VerbValue) String() string {
	return string(v)
}

// NoPositionalArgs rejects positional arguments for commands configured
// only through flags.
func NoPositionalArgs(c *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q: %s takes no arguments", args[0], c.CommandPath())
	}
	return nil
}
