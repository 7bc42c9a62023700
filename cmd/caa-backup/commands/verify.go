package commands

import (
	"context"
	"fmt"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/metabrainz/caa-backup/pkg/verify"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Reconcile the ledger against the files on disk",
	Long: `Resets every ledger record to NOT_DOWNLOADED, then scans the cache
directory and marks records whose file exists as DOWNLOADED. The
filesystem is treated as ground truth.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if !fileExists(cfg.DBPath) {
		return fmt.Errorf("ledger %s not found; run 'caa-backup import' first", cfg.DBPath)
	}
	if !fileExists(cfg.CacheDir) {
		return fmt.Errorf("cache directory %s not found", cfg.CacheDir)
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	return verify.NewVerifier(store, cfg.CacheDir).Run(ctx)
}
