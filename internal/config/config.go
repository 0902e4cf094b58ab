// Package config loads settings from defaults, an optional config file and
// SVTDL_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SVTDL_LOG_LEVEL.
const EnvPrefix = "SVTDL"

// Name is the base name of the config file searched for when no path is given.
const Name = "svtdl"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Defaults are the factory values of every key.
var Defaults = map[string]any{
	"workers":        10,
	"timeout":        60 * time.Second,
	"user_agent":     "svtdl/1.0",
	"rate_limit":     0.0,
	"ffmpeg":         "ffmpeg",
	"output_dir":     ".",
	"metrics_addr":   "",
	"audio_language": "",
	"log.level":      "info",
	"log.format":     "text",
}

// Config holds the fully processed application configuration.
type Config struct {
	Workers       int           `mapstructure:"workers"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	FFmpeg        string        `mapstructure:"ffmpeg"`
	OutputDir     string        `mapstructure:"output_dir"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	AudioLanguage string        `mapstructure:"audio_language"`
	Log           LogConfig     `mapstructure:"log"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewViper returns a viper instance with defaults and environment bindings.
// A nil fs uses the OS filesystem.
func NewViper(fs afero.Fs) *viper.Viper {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	return v
}

// ReadFile reads the config file at path into v. With an empty path the
// working directory and $HOME/.config/svtdl are searched, and a missing file
// is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file at %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName(Name)
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/svtdl")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads defaults, the config file at path and the environment.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := NewViper(fs)
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("invalid workers %d: must be at least 1", c.Workers)
	case c.Timeout <= 0:
		return fmt.Errorf("invalid timeout %s: must be positive", c.Timeout)
	case c.RateLimit < 0:
		return fmt.Errorf("invalid rate_limit %g: must not be negative", c.RateLimit)
	case c.FFmpeg == "":
		return errors.New("ffmpeg path must not be empty")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: want text or json", c.Log.Format)
	}
	return nil
}
