// Package config provides configuration management for tigerflow using
// Viper. It supports TIGERFLOW_-prefixed environment variables, an
// optional TIGERFLOW_ENV_FILE .env preload, and the runtime tunables (poll
// intervals, validation timeout, cluster scaling knobs) shared across the
// supervisor and task runtimes. The Load/SetDefaults/env-prefix shape is
// kept nearly verbatim from a familiar Viper-based config loader;
// original_source/src/tigerflow/settings.py supplied the exact default
// values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Default configuration values, named after original_source's settings.py.
const (
	defaultPollInterval       = 3 * time.Second
	defaultTickInterval       = 10 * time.Second
	defaultValidationTimeout  = 60 * time.Second
	defaultIdleTimeout        = 10 * time.Minute
	defaultScaleInterval      = 30 * time.Second
	defaultIdleScaleThreshold = 3
	defaultMaxWorkers         = 8
	defaultConcurrentWorkers  = 4
	defaultClusterWallTime    = "24:00:00"
)

// Config holds all configuration for the tigerflow supervisor and task
// runtimes.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Cluster ClusterConfig `mapstructure:"cluster"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RuntimeConfig holds the poll/tick intervals shared by the supervisor and
// every task runtime variant.
type RuntimeConfig struct {
	// PollInterval is the default per-task scan interval, overridable per
	// task via poll_interval in the task graph.
	PollInterval Duration `mapstructure:"poll_interval"`
	// TickInterval is the supervisor main-loop sleep.
	TickInterval Duration `mapstructure:"tick_interval"`
	// ValidationTimeout bounds the startup launch-target "help" probe.
	ValidationTimeout Duration `mapstructure:"validation_timeout"`
	// IdleTimeout arms the secondary shutdown trigger; 0 disables it.
	IdleTimeout Duration `mapstructure:"idle_timeout"`
	// ConcurrentWorkers is the default Variant A worker pool size.
	ConcurrentWorkers int `mapstructure:"concurrent_workers"`
}

// ClusterConfig holds the cluster fan-out variant's autoscaling defaults
// and the client job wall-time cap.
type ClusterConfig struct {
	MaxWorkers        int      `mapstructure:"max_workers"`
	ScaleInterval     Duration `mapstructure:"scale_interval"`
	IdleScaleDownWait int      `mapstructure:"idle_scale_down_wait"`
	ClientWallTime    string   `mapstructure:"client_wall_time"`
	SbatchOptions     []string `mapstructure:"sbatch_options"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and carry
// the TIGERFLOW_ prefix. If TIGERFLOW_ENV_FILE is set, that
// .env file is preloaded first so real environment variables still
// override it, matching gotenv's non-destructive load semantics.
func Load(configPath string) (*Config, error) {
	preloadEnvFile()

	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tigerflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tigerflow")
		v.AddConfigPath("$HOME/.tigerflow")
	}

	v.SetEnvPrefix("TIGERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// preloadEnvFile loads TIGERFLOW_ENV_FILE (if set) into the process
// environment via gotenv, without overwriting variables already set —
// real environment variables always take precedence over the file.
func preloadEnvFile() {
	path, ok := os.LookupEnv("TIGERFLOW_ENV_FILE")
	if !ok || path == "" {
		return
	}
	_ = gotenv.Load(path)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("runtime.poll_interval", defaultPollInterval.String())
	v.SetDefault("runtime.tick_interval", defaultTickInterval.String())
	v.SetDefault("runtime.validation_timeout", defaultValidationTimeout.String())
	v.SetDefault("runtime.idle_timeout", defaultIdleTimeout.String())
	v.SetDefault("runtime.concurrent_workers", defaultConcurrentWorkers)

	v.SetDefault("cluster.max_workers", defaultMaxWorkers)
	v.SetDefault("cluster.scale_interval", defaultScaleInterval.String())
	v.SetDefault("cluster.idle_scale_down_wait", defaultIdleScaleThreshold)
	v.SetDefault("cluster.client_wall_time", defaultClusterWallTime)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Runtime.ConcurrentWorkers < 1 {
		return fmt.Errorf("runtime.concurrent_workers must be at least 1")
	}
	if c.Cluster.MaxWorkers < 1 {
		return fmt.Errorf("cluster.max_workers must be at least 1")
	}
	return nil
}
