package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
	"github.com/steamok/usmapctl/internal/cmd/common"
	"github.com/steamok/usmapctl/internal/meta"
	"github.com/steamok/usmapctl/internal/util/viper"
)

var defaultConfigFileName = "config.yaml"

// DefaultProfile is used when neither --profile nor USMAPCTL_PROFILE is set.
const DefaultProfile = "default"

// Returns the expanded default config path depending on what
// environment variables are set. If XDG_CONFIG_HOME is set,
// the default is $XDG_CONFIG_HOME/usmapctl,
// otherwise the default is os.UserHomeDir()/.config/usmapctl.
// If these values are not set, an error is returned.
func GetDefaultConfigPath() (string, error) {
	val, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || val == "" {
		var err error
		val, err = os.UserHomeDir()
		if err != nil {
			return "", err
		}
		val = filepath.Join(val, ".config")
	}
	val = filepath.Join(val, meta.CLIName)
	return os.ExpandEnv(val), nil
}

func GetDefaultConfigFilePath() (string, error) {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(path, defaultConfigFileName), nil
}

// GetConfig loads path and scopes it to profile. A file the user points at
// must exist and parse; the default file is created with the profile
// defaults on first use.
func GetConfig(path string, profile string, defaultConfigFilePath string) (*ProfiledConfig, error) {
	path = os.ExpandEnv(path)

	var (
		vip *v.Viper
		err error
	)
	switch _, statErr := os.Stat(path); {
	case statErr == nil:
		vip, err = viper.NewViperE(path)
	case path == defaultConfigFilePath:
		vip, err = viper.InitializeDefaultViper(getDefaultConfig(profile, path), path)
	default:
		err = fmt.Errorf("config file %s does not exist", path)
	}
	if err != nil {
		return nil, err
	}

	cfg := BuildProfiledConfig(profile, path, vip)
	for key, value := range defaultSettings(filepath.Dir(path), profile) {
		cfg.subViper.SetDefault(key, value)
	}
	return cfg, nil
}

type Key struct{}

// ConfigKey is the command context key holding the Hook.
var ConfigKey = Key{}

// Hook is the read/override surface commands get instead of a raw viper.
// Every key is relative to the active profile.
type Hook interface {
	Save() error
	GetString(key string) string
	GetBool(key string) bool
	GetInt(key string) int
	// GetIntOrElse returns orElse when key is not set anywhere.
	GetIntOrElse(key string, orElse int) int
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	SetString(key string, value string)
	Set(k string, v any)
	Get(key string) any
	// BindFlag makes f, when given, override configPath.
	BindFlag(configPath string, f *pflag.Flag) error
	GetProfile() string
	GetPath() string
}

// ProfiledConfig wraps the viper for the whole file and answers lookups from
// the active profile's section.
type ProfiledConfig struct {
	*v.Viper
	subViper    *v.Viper
	ProfileName string
	Path        string
}

func (p *ProfiledConfig) GetProfile() string { return p.ProfileName }

func (p *ProfiledConfig) GetPath() string { return p.Path }

// Save writes the whole file, every profile included.
func (p *ProfiledConfig) Save() error { return p.WriteConfig() }

func (p *ProfiledConfig) GetString(key string) string { return p.subViper.GetString(key) }

func (p *ProfiledConfig) GetBool(key string) bool { return p.subViper.GetBool(key) }

func (p *ProfiledConfig) GetInt(key string) int { return p.subViper.GetInt(key) }

func (p *ProfiledConfig) GetDuration(key string) time.Duration { return p.subViper.GetDuration(key) }

func (p *ProfiledConfig) GetStringSlice(key string) []string { return p.subViper.GetStringSlice(key) }

func (p *ProfiledConfig) Get(key string) any { return p.subViper.Get(key) }

func (p *ProfiledConfig) GetIntOrElse(key string, orElse int) int {
	if !p.subViper.IsSet(key) {
		return orElse
	}
	return p.subViper.GetInt(key)
}

func (p *ProfiledConfig) BindFlag(configPath string, f *pflag.Flag) error {
	return p.subViper.BindPFlag(configPath, f)
}

func (p *ProfiledConfig) SetString(k string, v string) { p.subViper.Set(k, v) }

func (p *ProfiledConfig) Set(k string, v any) { p.subViper.Set(k, v) }

// BuildProfiledConfig scopes mainv to profile. The profile section answers
// to USMAPCTL_<PROFILE>_<KEY> environment variables whether or not the file
// has a section for it.
func BuildProfiledConfig(profile string, path string, mainv *v.Viper) *ProfiledConfig {
	subv := mainv.Sub(profile)
	if subv == nil {
		subv = v.New()
	}
	viper.ConfigureEnvVars(subv, EnvPrefix(profile))
	return &ProfiledConfig{
		Viper:       mainv,
		subViper:    subv,
		ProfileName: profile,
		Path:        path,
	}
}

// EnvPrefix returns the environment variable prefix for profile.
func EnvPrefix(profile string) string {
	return strings.ToUpper(meta.CLIName + "_" + strings.ReplaceAll(profile, "-", "_"))
}

func defaultSettings(configDir, profile string) map[string]any {
	return map[string]any{
		common.OutputConfigPath:          common.DefaultOutputFormat,
		common.LogLevelConfigPath:        common.DefaultLogLevel,
		LogFileConfigPath:                filepath.Join(configDir, "logs", meta.CLIName+".log"),
		TaskLimitConfigPath:              5,
		CheckIntervalConfigPath:          "30s",
		PullIntervalConfigPath:           "60s",
		RetryDelayConfigPath:             "10s",
		PostBatchWaitConfigPath:          "30s",
		PassAttemptsConfigPath:           3,
		StorePathConfigPath:              filepath.Join(configDir, "tasks", profile, "tasks.json"),
		LeaseTTLConfigPath:               "30m",
		LeasePolicyConfigPath:            "error",
		SignalDirConfigPath:              filepath.Join(configDir, "signals"),
		PollIntervalConfigPath:           "1s",
		MaxWaitConfigPath:                "300s",
		ArtifactPatternConfigPath:        "*.usmap",
		LaunchWaitConfigPath:             "60s",
		MaxInstrumentAttemptsConfigPath:  3,
		SelectorMaxSnapshotGapConfigPath: "10m",
		TaskSourceQueryConfigPath:        "error",
		TaskSourceTitleConfigPath:        "status",
		UploadEnabledConfigPath:          true,
	}
}

func getDefaultConfig(profileName, configFilePath string) map[string]any {
	return map[string]any{profileName: ProfileDefaults(profileName, configFilePath)}
}

// ProfileDefaults returns the nested default settings written for a new
// profile in the config file at configFilePath.
func ProfileDefaults(profileName, configFilePath string) map[string]any {
	profile := map[string]any{}
	for key, value := range defaultSettings(filepath.Dir(configFilePath), profileName) {
		setNested(profile, strings.Split(key, "."), value)
	}
	return profile
}

func setNested(dst map[string]any, path []string, value any) {
	if len(path) == 1 {
		dst[path[0]] = value
		return
	}
	child, ok := dst[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		dst[path[0]] = child
	}
	setNested(child, path[1:], value)
}
