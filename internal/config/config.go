package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seedtray/tailf/watch"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. TAILF_BACKEND.
const EnvPrefix = "TAILF"

// Config holds the settings of the tail command
type Config struct {
	// Backend is the change watcher: "notify" or "poll".
	Backend string `mapstructure:"backend"`
	// PollInterval is the stat interval of the poll backend.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Buffer is the capacity of the watcher's event channel.
	Buffer int `mapstructure:"buffer"`
	// LogLevel is the level of diagnostics written to stderr.
	LogLevel string `mapstructure:"log_level"`
	// Banner prints "tail -f <path>" before the first line.
	Banner bool `mapstructure:"banner"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Backend:      watch.Notify.String(),
		PollInterval: watch.DefaultPollInterval,
		Buffer:       watch.DefaultBuffer,
		LogLevel:     "warn",
		Banner:       true,
	}
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	if _, err := watch.ParseBackend(c.Backend); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Buffer <= 0 {
		return fmt.Errorf("buffer must be positive, got %d", c.Buffer)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Load loads configuration from files and environment.
// TAILF_CONFIG names the file explicitly; otherwise the search order is
// (highest precedence first):
// 1. ./.tailf.yaml or ./.tailf.yml
// 2. ~/.tailf.yaml or ~/.tailf.yml
// 3. $XDG_CONFIG_HOME/tailf/config.yaml (or ~/.config/tailf/config.yaml)
// 4. /etc/tailf/config.yaml
//
// TAILF_* environment variables override file values.
func Load() (*Config, error) {
	if path := ConfigFile(); path != "" {
		return LoadFromFile(path)
	}
	return load("")
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}
	return load(path)
}

func load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newViper returns a viper instance seeded with defaults and bound to the
// TAILF_* environment.
func newViper() *viper.Viper {
	def := Default()
	v := viper.New()
	v.SetDefault("backend", def.Backend)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("buffer", def.Buffer)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("banner", def.Banner)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	names := []string{".tailf.yaml", ".tailf.yml"}

	var searchPaths []string
	if cwd, err := os.Getwd(); err == nil {
		searchPaths = append(searchPaths, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, home)
	}

	for _, dir := range searchPaths {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	var configDirs []string
	if dir, err := os.UserConfigDir(); err == nil {
		configDirs = append(configDirs, filepath.Join(dir, "tailf"))
	}
	configDirs = append(configDirs, "/etc/tailf")
	for _, dir := range configDirs {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// ConfigFile returns the path to the config file that would be loaded
func ConfigFile() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}
	return findConfigFile()
}
