// Package config provides an in-memory config.Hook for command tests.
package config

import (
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
)

// Hook keeps settings in a map keyed by profile-relative config path.
// Lookups convert stored values with spf13/cast, as viper does, and a bound
// flag that was set on the command line wins over the map.
type Hook struct {
	Profile string
	Path    string
	Values  map[string]any
	Bound   map[string]*pflag.Flag
	// Saves counts Save calls; SaveErr is what they return.
	Saves   int
	SaveErr error
}

// New returns a Hook for the default profile holding values.
func New(values map[string]any) *Hook {
	if values == nil {
		values = map[string]any{}
	}
	return &Hook{Profile: "default", Values: values, Bound: map[string]*pflag.Flag{}}
}

func (h *Hook) Get(key string) any {
	if f, ok := h.Bound[key]; ok && f.Changed {
		return f.Value.String()
	}
	return h.Values[key]
}

func (h *Hook) GetString(key string) string { return cast.ToString(h.Get(key)) }

func (h *Hook) GetBool(key string) bool { return cast.ToBool(h.Get(key)) }

func (h *Hook) GetInt(key string) int { return cast.ToInt(h.Get(key)) }

func (h *Hook) GetDuration(key string) time.Duration { return cast.ToDuration(h.Get(key)) }

func (h *Hook) GetStringSlice(key string) []string { return cast.ToStringSlice(h.Get(key)) }

func (h *Hook) GetIntOrElse(key string, orElse int) int {
	if h.Get(key) == nil {
		return orElse
	}
	return h.GetInt(key)
}

func (h *Hook) Set(k string, v any) {
	if h.Values == nil {
		h.Values = map[string]any{}
	}
	h.Values[k] = v
}

func (h *Hook) SetString(k string, v string) { h.Set(k, v) }

func (h *Hook) BindFlag(configPath string, f *pflag.Flag) error {
	if h.Bound == nil {
		h.Bound = map[string]*pflag.Flag{}
	}
	h.Bound[configPath] = f
	return nil
}

func (h *Hook) Save() error {
	h.Saves++
	return h.SaveErr
}

func (h *Hook) GetProfile() string { return h.Profile }

func (h *Hook) GetPath() string { return h.Path }
