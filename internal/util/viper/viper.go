package viper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v "github.com/spf13/viper"
	"github.com/steamok/usmapctl/internal/meta"
)

// configDirPerm keeps webhook keys and service URLs private to the user.
const configDirPerm = 0o700

// InitializeDefaultViper loads path, writing defaultValues to it first when
// the file is missing or empty.
func InitializeDefaultViper(defaultValues map[string]any, path string) (*v.Viper, error) {
	if err := os.MkdirAll(filepath.Dir(os.ExpandEnv(path)), configDirPerm); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	vip := NewViper(path)
	if len(vip.AllSettings()) > 0 {
		return vip, nil
	}
	if err := vip.MergeConfigMap(defaultValues); err != nil {
		return nil, err
	}
	if err := vip.WriteConfig(); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return vip, nil
}

// ConfigureEnvVars makes vip resolve keys from environment variables named
// PREFIX_KEY, with "." and "-" in keys mapped to "_".
func ConfigureEnvVars(vip *v.Viper, prefix string) {
	vip.AutomaticEnv()
	vip.SetEnvPrefix(prefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// NewViperE reads path and fails when it cannot be parsed.
func NewViperE(path string) (*v.Viper, error) {
	vip := newViper(path)
	if err := vip.ReadInConfig(); err != nil {
		return nil, err
	}
	return vip, nil
}

// NewViper reads path if it can and otherwise starts empty.
func NewViper(path string) *v.Viper {
	vip := newViper(path)
	_ = vip.ReadInConfig()
	return vip
}

func newViper(path string) *v.Viper {
	vip := v.New()
	vip.SetConfigFile(path)
	ConfigureEnvVars(vip, meta.CLIName)
	return vip
}
