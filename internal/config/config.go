package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// Ledger and cache locations
	DBPath   string `mapstructure:"db-path"`
	CacheDir string `mapstructure:"cache-dir"`

	// Upstream MusicBrainz database (import only)
	PGConnString string `mapstructure:"pg-conn-string"`

	// Archive host images are fetched from
	BaseURL string `mapstructure:"base-url"`

	// Download engine tuning
	DownloadThreads int `mapstructure:"download-threads"`
	BatchSize       int `mapstructure:"batch-size"`

	// Monitor endpoint
	MonitorHost string `mapstructure:"monitor-host"`
	MonitorPort int    `mapstructure:"monitor-port"`

	// Offsite backup (backup command only)
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`
}

// Load reads configuration from flags, environment, config file, and defaults.
func Load() (*Config, error) {
	viper.SetDefault("db-path", ".artifacts/caa_backup.db")
	viper.SetDefault("cache-dir", ".artifacts/cache")
	viper.SetDefault("pg-conn-string", "")
	viper.SetDefault("base-url", "https://archive.org")
	viper.SetDefault("download-threads", 8)
	viper.SetDefault("batch-size", 1000)
	viper.SetDefault("monitor-host", "localhost")
	viper.SetDefault("monitor-port", 8080)
	viper.SetDefault("s3-bucket", "")
	viper.SetDefault("s3-region", "us-east-1")

	// Environment variables (CAA_DB_PATH, CAA_PG_CONN_STRING, ...)
	viper.SetEnvPrefix("CAA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.caa-backup")
	_ = viper.ReadInConfig()

	// A local .env file overlays the config file when present.
	if _, err := os.Stat(".env"); err == nil {
		viper.SetConfigFile(".env")
		viper.SetConfigType("env")
		_ = viper.MergeInConfig()
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors common to every command.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db-path cannot be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache-dir cannot be empty")
	}
	if c.DownloadThreads <= 0 {
		return fmt.Errorf("download-threads must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive")
	}
	if c.MonitorPort <= 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("monitor-port must be a valid port")
	}
	return nil
}

// MonitorAddr returns the host:port the status server binds to.
func (c *Config) MonitorAddr() string {
	return fmt.Sprintf("%s:%d", c.MonitorHost, c.MonitorPort)
}
