// Package config loads engine configuration from the stagehand.yaml
// file, STAGEHAND_* environment variables, and built-in defaults, and
// watches the pipelines file for edits.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the engine and CLI. Zero values are
// replaced with defaults by Load.
type Config struct {
	// ServerURL is the orchestrator root, e.g. http://host:port.
	// Empty means offline mode: no transport, no gateway.
	ServerURL string `mapstructure:"server_url"`

	// DataDir overrides the workspace .stagehand directory for the
	// snapshot database and lock file.
	DataDir string `mapstructure:"data_dir"`

	// PipelinesFile points at a YAML file with custom pipeline
	// definitions, merged over the built-ins.
	PipelinesFile string `mapstructure:"pipelines_file"`

	// QueueLimit bounds the offline mutation queue.
	QueueLimit int `mapstructure:"queue_limit"`

	// RequestTimeout bounds one gateway call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// BaseBackoff and MaxBackoff shape transport reconnect delays.
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`

	// NotificationTTL is the default notification lifetime.
	NotificationTTL time.Duration `mapstructure:"notification_ttl"`

	// LogFile enables a rotating log file next to stderr output.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueLimit:      100,
		RequestTimeout:  10 * time.Second,
		BaseBackoff:     1 * time.Second,
		MaxBackoff:      30 * time.Second,
		NotificationTTL: 5 * time.Second,
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
		LogMaxAgeDays:   28,
	}
}

// FileName is the config file base name searched in the workspace
// .stagehand directory and $HOME/.config/stagehand.
const FileName = "stagehand"

// Load reads configuration with precedence environment > file >
// defaults. searchDirs are tried in order for stagehand.yaml before
// the user config directory; a missing file is not an error.
func Load(searchDirs ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	for _, dir := range searchDirs {
		if dir != "" {
			v.AddConfigPath(dir)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "stagehand"))
	}

	v.SetEnvPrefix("STAGEHAND")
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("pipelines_file", d.PipelinesFile)
	v.SetDefault("queue_limit", d.QueueLimit)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("base_backoff", d.BaseBackoff)
	v.SetDefault("max_backoff", d.MaxBackoff)
	v.SetDefault("notification_ttl", d.NotificationTTL)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
	v.SetDefault("log_max_age_days", d.LogMaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.QueueLimit <= 0 {
		return fmt.Errorf("queue_limit must be positive, got %d", c.QueueLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return fmt.Errorf("backoff range %s..%s is invalid", c.BaseBackoff, c.MaxBackoff)
	}
	return nil
}
