// Package downloader drives every NOT_DOWNLOADED ledger item to a
// terminal status for the run, materializing image bytes under the
// cache root.
//
// Claiming is advisory: the ledger does not reserve claimed rows, so
// concurrent engine runs against the same ledger may re-download the
// same item. Overwrites are idempotent and this deployment assumes a
// single active runner.
package downloader

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metabrainz/caa-backup/pkg/ledger"
	"github.com/metabrainz/caa-backup/pkg/monitor"
	"github.com/metabrainz/caa-backup/pkg/security"
)

const (
	DefaultWorkers   = 8
	DefaultBatchSize = 1000

	defaultRequestTimeout   = 30 * time.Second
	defaultRetryInitialWait = 2 * time.Second
	defaultRetryMaxElapsed  = 100 * time.Second
)

// Config controls one download engine.
type Config struct {
	CacheRoot string
	BaseURL   string
	Workers   int
	BatchSize int

	RequestTimeout   time.Duration
	RetryInitialWait time.Duration
	RetryMaxElapsed  time.Duration
}

// Engine is the concurrent download worker pool.
type Engine struct {
	store     *ledger.Store
	stats     *monitor.Stats
	client    *http.Client
	cacheRoot string
	baseURL   string
	workers   int
	batchSize int

	retryInitialWait time.Duration
	retryMaxElapsed  time.Duration
}

// New creates a download engine over the given ledger and stats.
func New(store *ledger.Store, stats *monitor.Stats, cfg Config) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryInitialWait <= 0 {
		cfg.RetryInitialWait = defaultRetryInitialWait
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = defaultRetryMaxElapsed
	}

	return &Engine{
		store:            store,
		stats:            stats,
		client:           &http.Client{Timeout: cfg.RequestTimeout},
		cacheRoot:        cfg.CacheRoot,
		baseURL:          cfg.BaseURL,
		workers:          cfg.Workers,
		batchSize:        cfg.BatchSize,
		retryInitialWait: cfg.RetryInitialWait,
		retryMaxElapsed:  cfg.RetryMaxElapsed,
	}
}

// Run claims batches of NOT_DOWNLOADED items and dispatches them to the
// worker pool until the ledger has none left or ctx is cancelled.
// Cancellation stops dispatching; in-flight items finish and items never
// dispatched simply stay NOT_DOWNLOADED for the next run.
func (e *Engine) Run(ctx context.Context) error {
	total, err := e.store.CountByStatus(ctx, ledger.StatusNotDownloaded)
	if err != nil {
		return err
	}
	if total == 0 {
		slog.Info("download_nothing_to_do")
		return nil
	}
	e.stats.SetTotalToDownload(total)

	if err := os.MkdirAll(e.cacheRoot, 0755); err != nil {
		return err
	}

	slog.Info("download_run_start",
		"to_download", total, "workers", e.workers, "batch_size", e.batchSize)

	var batches int
	for {
		if ctx.Err() != nil {
			slog.Info("download_run_interrupted", "batches_done", batches)
			return nil
		}

		batch, err := e.store.ClaimBatch(ctx, ledger.StatusNotDownloaded, e.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}

		resolved := e.processBatch(ctx, batch)
		batches++

		if resolved == 0 && ctx.Err() == nil {
			// Every item in the batch was left unresolved (e.g. repeated
			// filesystem failures); claiming again would return the same
			// rows and spin.
			slog.Warn("download_run_stalled", "batch_size", len(batch))
			break
		}
	}

	e.logSummary(ctx, batches)
	return nil
}

// processBatch fans the batch out to the bounded worker pool and waits
// for all of it. Returns how many items reached a terminal status.
func (e *Engine) processBatch(ctx context.Context, batch []ledger.Item) int64 {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	var resolved atomic.Int64

	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item ledger.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			if e.processItem(ctx, item) {
				resolved.Add(1)
			}
		}(item)
	}

	wg.Wait()
	return resolved.Load()
}

// processItem downloads one item and records its terminal status.
// Returns false when the item was left in its current status.
func (e *Engine) processItem(ctx context.Context, item ledger.Item) bool {
	if err := security.ValidateReleaseMBID(item.ReleaseMBID); err != nil {
		return e.setStatus(ctx, item, ledger.StatusPermanentError, err.Error())
	}

	path := cachePath(e.cacheRoot, item.ReleaseMBID, item.CAAID, item.MimeType)
	if err := security.EnsureWithinRoot(e.cacheRoot, path); err != nil {
		return e.setStatus(ctx, item, ledger.StatusPermanentError, err.Error())
	}

	url := downloadURL(e.baseURL, item.ReleaseMBID, item.CAAID, item.MimeType)
	data, err := e.fetch(ctx, url)
	if err != nil {
		var fe *fetchError
		if errors.As(err, &fe) {
			slog.Warn("download_failed",
				"caa_id", item.CAAID, "release_mbid", item.ReleaseMBID,
				"status", fe.status.String(), "error", fe.msg)
			e.stats.RecordError()
			return e.setStatus(ctx, item, fe.status, fe.msg)
		}
		// Cancellation or an unclassified failure: leave the item as is.
		slog.Warn("download_aborted", "caa_id", item.CAAID, "error", err)
		return false
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		slog.Error("download_mkdir_failed", "caa_id", item.CAAID, "path", path, "error", err)
		return false
	}
	// Re-downloads always win: overwrite whatever is at the target path.
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("download_write_failed", "caa_id", item.CAAID, "path", path, "error", err)
		return false
	}

	if !e.setStatus(ctx, item, ledger.StatusDownloaded, "") {
		return false
	}
	e.stats.RecordCompletion(int64(len(data)))
	return true
}

func (e *Engine) setStatus(ctx context.Context, item ledger.Item, status ledger.Status, errMsg string) bool {
	err := e.store.UpdateStatus(ctx, item.CAAID, item.ReleaseMBID, status, errMsg)
	if err != nil {
		slog.Error("download_status_update_failed",
			"caa_id", item.CAAID, "release_mbid", item.ReleaseMBID,
			"status", status.String(), "error", err)
		return false
	}
	return true
}

func (e *Engine) logSummary(ctx context.Context, batches int) {
	counts, err := e.store.CountsByStatus(ctx)
	if err != nil {
		slog.Error("download_summary_failed", "error", err)
		return
	}
	slog.Info("download_run_complete",
		"batches", batches,
		"downloaded", counts[ledger.StatusDownloaded],
		"not_downloaded", counts[ledger.StatusNotDownloaded],
		"temp_errors", counts[ledger.StatusTempError],
		"permanent_errors", counts[ledger.StatusPermanentError])
}
