package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/spf13/cobra"
)

var statusFailed bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display configuration and ledger statistics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFailed, "failed", false,
		"list every record in a temporary or permanent error state")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	fmt.Println("=== CAA Backup Status ===")
	fmt.Printf("Ledger:          %s\n", cfg.DBPath)
	fmt.Printf("Cache directory: %s\n", cfg.CacheDir)
	fmt.Printf("Archive host:    %s\n", cfg.BaseURL)

	if info, err := os.Stat(cfg.DBPath); err == nil {
		fmt.Printf("Ledger file:     %d bytes\n", info.Size())
	} else {
		fmt.Println("Ledger file:     does not exist")
		return nil
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	checkpoint, ok, err := store.Checkpoint(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read checkpoint")
	}
	if ok {
		fmt.Printf("Last import:     %s\n", checkpoint)
	} else {
		fmt.Println("Last import:     never")
	}

	counts, err := store.CountsByStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read counts")
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Total records:   %d\n", total)
	for _, status := range []ledger.Status{
		ledger.StatusNotDownloaded,
		ledger.StatusDownloaded,
		ledger.StatusTempError,
		ledger.StatusPermanentError,
	} {
		n := counts[status]
		pct := 0.0
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		fmt.Printf("  %-17s %d (%.1f%%)\n", status.String()+":", n, pct)
	}

	if statusFailed {
		failed, err := store.FailedRecords(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to read failed records")
		}
		fmt.Printf("\nFailed records:  %d\n", len(failed))
		for _, item := range failed {
			fmt.Printf("  %s/%d  %s  %s\n",
				item.ReleaseMBID, item.CAAID, item.Status, item.Error)
		}
	}

	return nil
}
