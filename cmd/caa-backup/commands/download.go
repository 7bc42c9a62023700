package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/metabrainz/caa-backup/internal/config"
	"github.com/metabrainz/caa-backup/pkg/downloader"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/metabrainz/caa-backup/pkg/monitor"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download missing cover art images",
	Long: `Downloads every NOT_DOWNLOADED image recorded in the ledger using a
pool of concurrent workers, serving live statistics on /status while
running. Interrupting stops dispatch and lets in-flight downloads finish.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("ledger %s not found; run 'caa-backup import' first", cfg.DBPath)
	}
	if err := ensureDirectories(cfg.DBPath, cfg.CacheDir); err != nil {
		return err
	}

	store, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer store.Close()

	stats := monitor.NewStats()
	engine := downloader.New(store, stats, downloader.Config{
		CacheRoot: cfg.CacheDir,
		BaseURL:   cfg.BaseURL,
		Workers:   cfg.DownloadThreads,
		BatchSize: cfg.BatchSize,
	})

	// The status server shares only the stats reader with the engine and
	// shuts down once the run finishes or is interrupted.
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- monitor.NewServer(stats, cfg.CacheDir, cfg.MonitorAddr()).Run(srvCtx)
	}()

	runErr := engine.Run(ctx)
	cancel()
	if err := <-srvErr; err != nil {
		slog.Warn("monitor_server_error", "error", err)
	}

	return runErr
}
