package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/metabrainz/caa-backup/pkg/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve backup statistics on /status",
	Long: `Starts a standalone status server seeded from the current ledger
counts. Runs until interrupted.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}
	if !fileExists(cfg.DBPath) {
		return fmt.Errorf("ledger %s not found", cfg.DBPath)
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	stats := monitor.NewStats()
	remaining, err := store.CountByStatus(ctx, ledger.StatusNotDownloaded)
	if err != nil {
		return errors.Wrap(err, "failed to read ledger counts")
	}
	downloaded, err := store.CountByStatus(ctx, ledger.StatusDownloaded)
	if err != nil {
		return errors.Wrap(err, "failed to read ledger counts")
	}
	stats.SetTotalToDownload(remaining)
	stats.SetDownloaded(downloaded)

	fmt.Printf("Serving status at http://%s/status\n", cfg.MonitorAddr())
	return monitor.NewServer(stats, cfg.CacheDir, cfg.MonitorAddr()).Run(ctx)
}
