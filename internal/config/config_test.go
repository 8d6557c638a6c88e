package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Equal(t, 3*time.Second, cfg.Runtime.PollInterval.Duration())
	assert.Equal(t, 10*time.Second, cfg.Runtime.TickInterval.Duration())
	assert.Equal(t, 60*time.Second, cfg.Runtime.ValidationTimeout.Duration())
	assert.Equal(t, 10*time.Minute, cfg.Runtime.IdleTimeout.Duration())
	assert.Equal(t, 4, cfg.Runtime.ConcurrentWorkers)

	assert.Equal(t, 8, cfg.Cluster.MaxWorkers)
	assert.Equal(t, 30*time.Second, cfg.Cluster.ScaleInterval.Duration())
	assert.Equal(t, 3, cfg.Cluster.IdleScaleDownWait)
	assert.Equal(t, "24:00:00", cfg.Cluster.ClientWallTime)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tigerflow.yaml")

	configContent := `
logging:
  level: "debug"
  format: "json"

runtime:
  poll_interval: 5s
  tick_interval: 15s
  concurrent_workers: 6

cluster:
  max_workers: 16
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Runtime.PollInterval.Duration())
	assert.Equal(t, 15*time.Second, cfg.Runtime.TickInterval.Duration())
	assert.Equal(t, 6, cfg.Runtime.ConcurrentWorkers)
	assert.Equal(t, 16, cfg.Cluster.MaxWorkers)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TIGERFLOW_LOGGING_LEVEL", "warn")
	t.Setenv("TIGERFLOW_RUNTIME_CONCURRENT_WORKERS", "9")
	t.Setenv("TIGERFLOW_CLUSTER_MAX_WORKERS", "12")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Runtime.ConcurrentWorkers)
	assert.Equal(t, 12, cfg.Cluster.MaxWorkers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tigerflow.yaml")

	configContent := `
logging:
  level: "info"
runtime:
  concurrent_workers: 2
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("TIGERFLOW_RUNTIME_CONCURRENT_WORKERS", "20")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Runtime.ConcurrentWorkers)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvFilePreload(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("TIGERFLOW_LOGGING_LEVEL=error\n"), 0o600))

	t.Setenv("TIGERFLOW_ENV_FILE", envPath)
	t.Setenv("TIGERFLOW_LOGGING_LEVEL", "")
	os.Unsetenv("TIGERFLOW_LOGGING_LEVEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)

	os.Unsetenv("TIGERFLOW_LOGGING_LEVEL")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Runtime: RuntimeConfig{ConcurrentWorkers: 4},
		Cluster: ClusterConfig{MaxWorkers: 8},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "invalid", Format: "json"},
		Runtime: RuntimeConfig{ConcurrentWorkers: 4},
		Cluster: ClusterConfig{MaxWorkers: 8},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "xml"},
		Runtime: RuntimeConfig{ConcurrentWorkers: 4},
		Cluster: ClusterConfig{MaxWorkers: 8},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_InvalidConcurrentWorkers(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Runtime: RuntimeConfig{ConcurrentWorkers: 0},
		Cluster: ClusterConfig{MaxWorkers: 8},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent_workers")
}

func TestValidate_InvalidMaxWorkers(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Runtime: RuntimeConfig{ConcurrentWorkers: 4},
		Cluster: ClusterConfig{MaxWorkers: 0},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
}
