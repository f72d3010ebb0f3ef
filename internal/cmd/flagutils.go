package cmd

import (
	"fmt"
	"slices"
	"strings"
)

// FlagEnum is a pflag.Value limited to a fixed set of lowercase words.
type FlagEnum struct {
	Allowed []string
	Value   string
}

func NewEnum(allowed []string, d string) *FlagEnum {
	return &FlagEnum{Allowed: allowed, Value: d}
}

func (a *FlagEnum) String() string {
	return a.Value
}

// Set accepts any casing of an allowed value.
func (a *FlagEnum) Set(p string) error {
	p = strings.ToLower(strings.TrimSpace(p))
	if !slices.Contains(a.Allowed, p) {
		return fmt.Errorf("invalid value %q, must be one of %s", p, strings.Join(a.Allowed, "|"))
	}
	a.Value = p
	return nil
}

// Type is shown as the value placeholder in help output.
func (a *FlagEnum) Type() string {
	return strings.Join(a.Allowed, "|")
}
