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

	assert.Equal(t, "/run/mpa/", cfg.Topic.Root)
	assert.Equal(t, ByteSize(1024*1024), cfg.Topic.DataPipeCapacity)
	assert.Equal(t, ByteSize(64*1024), cfg.Topic.ControlPipeCapacity)
	assert.Equal(t, ByteSize(1024), cfg.Topic.ControlReadBufSize)
	assert.Equal(t, 8, cfg.Topic.MaxNameSuffix)
	assert.Equal(t, Duration(time.Millisecond), cfg.Topic.NameSuffixRetry)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Topic.JoinOpenRetryBudget)
	assert.Equal(t, Duration(time.Second), cfg.Topic.ListenerJoinTimeout)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.False(t, cfg.Audit.Enabled)
	assert.False(t, cfg.Reaper.Enabled)
	assert.Equal(t, "@every 30s", cfg.Reaper.Schedule)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
topic:
  root: "/tmp/mpa/"
  data_pipe_capacity: 2097152
  max_name_suffix: 4

logging:
  level: "debug"
  format: "text"

audit:
  enabled: true
  dsn: "audit.db"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/mpa/", cfg.Topic.Root)
	assert.Equal(t, ByteSize(2097152), cfg.Topic.DataPipeCapacity)
	assert.Equal(t, 4, cfg.Topic.MaxNameSuffix)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "audit.db", cfg.Audit.DSN)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MPAGO_TOPIC_ROOT", "/var/run/mpa/")
	t.Setenv("MPAGO_LOGGING_LEVEL", "warn")
	t.Setenv("MPAGO_TOPIC_MAX_NAME_SUFFIX", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/var/run/mpa/", cfg.Topic.Root)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Topic.MaxNameSuffix)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
topic:
  root: "/tmp/mpa/"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("MPAGO_TOPIC_ROOT", "/override/mpa/")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/override/mpa/", cfg.Topic.Root)
}

func TestNormalize_CoercesSmallCapacity(t *testing.T) {
	cfg := &Config{Topic: TopicConfig{DataPipeCapacity: 100, MaxNameSuffix: 8}}
	cfg.Normalize()
	assert.Equal(t, ByteSize(defaultDataPipeCapacity), cfg.Topic.DataPipeCapacity)
}

func TestExceedsWarnThreshold(t *testing.T) {
	assert.False(t, ExceedsWarnThreshold(1024*1024))
	assert.True(t, ExceedsWarnThreshold(300*1024*1024))
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Topic:   TopicConfig{Root: "/run/mpa/", MaxNameSuffix: 8},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EmptyRoot(t *testing.T) {
	cfg := &Config{
		Topic:   TopicConfig{Root: "", MaxNameSuffix: 8},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "topic.root")
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := &Config{
		Topic:   TopicConfig{Root: "/run/mpa/", MaxNameSuffix: 8},
		Logging: LoggingConfig{Level: "invalid", Format: "json"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := &Config{
		Topic:   TopicConfig{Root: "/run/mpa/", MaxNameSuffix: 8},
		Logging: LoggingConfig{Level: "info", Format: "xml"},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestValidate_AuditRequiresDSN(t *testing.T) {
	cfg := &Config{
		Topic:   TopicConfig{Root: "/run/mpa/", MaxNameSuffix: 8},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Audit:   AuditConfig{Enabled: true, DSN: ""},
	}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "audit.dsn")
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
topic:
  root: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
