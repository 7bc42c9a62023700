package commands

import (
	"context"
	"fmt"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Requeue TEMP_ERROR records for the next download run",
	Long: `Demotes every TEMP_ERROR record back to NOT_DOWNLOADED so the next
download run retries it. PERMANENT_ERROR records are left alone; they
require catalog or operator correction.`,
	RunE: runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if !fileExists(cfg.DBPath) {
		return fmt.Errorf("ledger %s not found", cfg.DBPath)
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	n, err := store.RequeueTempErrors(ctx)
	if err != nil {
		return errors.Wrap(err, "requeue failed")
	}

	fmt.Printf("Requeued %d records\n", n)
	return nil
}
