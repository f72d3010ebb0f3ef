// Package profile manages the named profiles of the config file. Each
// top-level key of the file is one profile.
package profile

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrProfileExists  = errors.New("profile already exists")
	ErrInvalidProfile = errors.New("invalid profile name")
)

type Manager interface {
	GetProfiles() []string
	GetProfile(name string) (map[string]any, error)
	CreateProfile(name string, settings map[string]any) error
}

type profileManager struct {
	config *viper.Viper
}

func (v *profileManager) GetProfiles() []string {
	seen := make(map[string]struct{})
	for _, key := range v.config.AllKeys() {
		seen[strings.Split(key, ".")[0]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateProfile adds name with settings. Names become env var segments and
// viper key paths, so dots and whitespace are rejected.
func (v *profileManager) CreateProfile(name string, settings map[string]any) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if slices.Contains(v.GetProfiles(), strings.ToLower(name)) {
		return fmt.Errorf("%w: %s", ErrProfileExists, name)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	v.config.Set(name, settings)
	return nil
}

func (v *profileManager) GetProfile(name string) (map[string]any, error) {
	if !v.config.IsSet(name) {
		return nil, fmt.Errorf("profile %q not found", name)
	}
	return v.config.GetStringMap(name), nil
}

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w (empty)", ErrInvalidProfile)
	}
	if strings.ContainsAny(name, ". \t\n") {
		return fmt.Errorf("%w %q: dots and whitespace are not allowed", ErrInvalidProfile, name)
	}
	return nil
}

func NewManager(config *viper.Viper) Manager {
	return &profileManager{
		config: config,
	}
}
