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
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Batch.ChunkSize)
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.Equal(t, time.Second, cfg.Batch.RetryBackoffStep)
	assert.Equal(t, "Asia/Tokyo", cfg.App.Timezone)
	assert.NotNil(t, cfg.App.Location)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: staging
batch:
  chunk_size: 100
  retry_backoff_step: 250ms
scheduler:
  interval: 1h
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BATCH_MAX_RETRIES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 100, cfg.Batch.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.RetryBackoffStep)
	assert.Equal(t, 5, cfg.Batch.MaxRetries)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
	// untouched sections keep their defaults
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"chunk size zero", func(c *Config) { c.Batch.ChunkSize = 0 }, "ChunkSize"},
		{"too many retries", func(c *Config) { c.Batch.MaxRetries = 50 }, "MaxRetries"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "loud" }, "LogLevel"},
		{"production without database", func(c *Config) { c.App.Environment = EnvProduction }, "DATABASE_URL"},
		{"redis enabled without host", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Host = ""
		}, "Host"},
		{"unknown timezone", func(c *Config) { c.App.Timezone = "Mars/Olympus" }, "APP_TIMEZONE"},
		{"min above max conns", func(c *Config) { c.Database.MinConns = 20 }, "DB_MIN_CONNS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
