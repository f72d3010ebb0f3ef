package common

import (
	"fmt"
	"slices"
	"strings"
)

// OutputFormat is the value of --output.
type OutputFormat int

const (
	JSON OutputFormat = iota
	YAML
	TEXT
)

var outputFormatNames = [...]string{JSON: "json", YAML: "yaml", TEXT: "text"}

// Flag names, shorthands and the config paths they bind to.
const (
	OutputFlagName      = "output"
	OutputFlagShort     = "o"
	OutputConfigPath    = OutputFlagName
	DefaultOutputFormat = "text"

	ProfileFlagName  = "profile"
	ProfileFlagShort = "p"

	ConfigFilePathFlagName = "config-file"

	LogLevelFlagName   = "log-level"
	LogLevelConfigPath = LogLevelFlagName
	DefaultLogLevel    = "info"

	YesFlagName  = "yes"
	YesFlagShort = "y"
)

func (of OutputFormat) String() string {
	if of < 0 || int(of) >= len(outputFormatNames) {
		return fmt.Sprintf("OutputFormat(%d)", int(of))
	}
	return outputFormatNames[of]
}

// OutputFormats lists the accepted --output values.
func OutputFormats() []string {
	return slices.Clone(outputFormatNames[:])
}

func OutputFormatStringToIota(format string) (OutputFormat, error) {
	for i, name := range outputFormatNames {
		if name == format {
			return OutputFormat(i), nil
		}
	}
	return TEXT, fmt.Errorf("invalid output format %q, must be one of %s", format, strings.Join(OutputFormats(), "|"))
}

// ValidLogLevels lists the accepted --log-level values.
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}
