// Package config loads vcscopy's configuration from a layered source set -
// a TOML or YAML file, environment variables, and command-line flags -
// using spf13/viper the way a cobra-based CLI conventionally wires config,
// and sets up lumberjack-backed rotating file logging for the daemon-style
// long-running pieces (internal/copynotify's server).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

// Config is vcscopy's resolved runtime configuration.
type Config struct {
	// RepoURL is the default repository URL used when a command's sources
	// are all local and no explicit destination URL is given.
	RepoURL string `mapstructure:"repo_url"`

	// AuthorName and AuthorEmail seed svn:author-equivalent revision
	// properties when the RA backend doesn't supply its own identity.
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`

	// NotifyAddr is the copynotify websocket server's listen address,
	// empty to disable progress broadcasting.
	NotifyAddr string `mapstructure:"notify_addr"`

	// LogFile, LogMaxSizeMB, LogMaxBackups, LogMaxAgeDays configure the
	// lumberjack rotating log sink; LogFile empty means log to stderr only.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// Defaults returns the baseline configuration applied before any file,
// environment, or flag overrides.
func Defaults() Config {
	return Config{
		NotifyAddr:    "",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// Load builds a viper instance layering, in increasing precedence: built-in
// defaults, a config file (searched as .vcscopy.toml then .vcscopy.yaml
// under configDir), environment variables prefixed VCSCOPY_, and finally
// the supplied flag set. It returns the resolved Config.
func Load(configDir string, flags FlagSource) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("notify_addr", def.NotifyAddr)
	v.SetDefault("log_max_size_mb", def.LogMaxSizeMB)
	v.SetDefault("log_max_backups", def.LogMaxBackups)
	v.SetDefault("log_max_age_days", def.LogMaxAgeDays)

	v.SetEnvPrefix("VCSCOPY")
	v.AutomaticEnv()

	if configDir != "" {
		if err := mergeConfigFile(v, configDir); err != nil {
			return Config{}, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// FlagSource is the subset of *pflag.FlagSet viper needs to bind flag
// overrides; *cobra.Command.Flags() satisfies it directly, keeping this
// package decoupled from cobra itself.
type FlagSource = *pflag.FlagSet

// mergeConfigFile loads .vcscopy.toml (via BurntSushi/toml) or, failing
// that,.vcscopy.yaml (via gopkg.in/yaml.v3) from dir into v's own file
// layer. Viper's built-in codecs cover both formats already, but vcscopy
// decodes the file itself first so a malformed file produces a precise
// per-format parse error instead of viper's generic one.
func mergeConfigFile(v *viper.Viper, dir string) error {
	tomlPath := filepath.Join(dir, ".vcscopy.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		var raw map[string]any
		if _, err := toml.DecodeFile(tomlPath, &raw); err != nil {
			return fmt.Errorf("config: parse %s: %w", tomlPath, err)
		}
		return v.MergeConfigMap(raw)
	}

	yamlPath := filepath.Join(dir, ".vcscopy.yaml")
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", yamlPath, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parse %s: %w", yamlPath, err)
	}
	return v.MergeConfigMap(raw)
}

// NewLogWriter returns the rotating lumberjack sink described by cfg, or
// nil if cfg.LogFile is unset (callers should fall back to os.Stderr).
func NewLogWriter(cfg Config) *lumberjack.Logger {
	if cfg.LogFile == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}
}
