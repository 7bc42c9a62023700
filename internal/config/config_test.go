package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".artifacts/caa_backup.db", cfg.DBPath)
	assert.Equal(t, "https://archive.org", cfg.BaseURL)
	assert.Equal(t, 8, cfg.DownloadThreads)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, "localhost:8080", cfg.MonitorAddr())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("CAA_DB_PATH", "/data/ledger.db")
	t.Setenv("CAA_DOWNLOAD_THREADS", "16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/ledger.db", cfg.DBPath)
	assert.Equal(t, 16, cfg.DownloadThreads)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DBPath:          "x.db",
		CacheDir:        "cache",
		DownloadThreads: 8,
		BatchSize:       1000,
		MonitorPort:     8080,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db-path", func(c *Config) { c.DBPath = "" }},
		{"empty cache-dir", func(c *Config) { c.CacheDir = "" }},
		{"zero threads", func(c *Config) { c.DownloadThreads = 0 }},
		{"negative batch", func(c *Config) { c.BatchSize = -1 }},
		{"bad port", func(c *Config) { c.MonitorPort = 70000 }},
	}

	require.NoError(t, valid.Validate())
	for _, tt := range tests {
		cfg := valid
		tt.mutate(&cfg)
		assert.Error(t, cfg.Validate(), tt.name)
	}
}
