package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/storage"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the local cache to an S3 bucket",
	Long: `Uploads every cached image not yet present in the configured S3
bucket, keyed by its cache-relative path. Safe to interrupt and rerun.`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("s3-bucket is required for backup")
	}
	if !fileExists(cfg.CacheDir) {
		return fmt.Errorf("cache directory %s not found", cfg.CacheDir)
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	return client.BackupCache(ctx, cfg.CacheDir)
}
