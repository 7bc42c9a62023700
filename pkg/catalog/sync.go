package catalog

import (
	"context"
	"log/slog"

	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
)

// DefaultBatchSize is the number of records imported per transaction.
const DefaultBatchSize = 1000

// Syncer imports upstream catalog metadata into the ledger.
type Syncer struct {
	store     *ledger.Store
	source    Source
	batchSize int
}

// NewSyncer creates a sync engine over the given ledger and source.
func NewSyncer(store *ledger.Store, source Source, batchSize int) *Syncer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Syncer{store: store, source: source, batchSize: batchSize}
}

// RunFull imports the entire upstream catalog. The caller guarantees the
// ledger is empty. After the pass the checkpoint is set to the maximum
// date_uploaded queried from the source.
func (s *Syncer) RunFull(ctx context.Context) error {
	total, err := s.source.CountAll(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to count upstream catalog")
	}
	slog.Info("sync_full_start", "upstream_total", total, "batch_size", s.batchSize)

	var imported int64
	err = s.source.StreamAll(ctx, s.batchSize, func(items []ledger.Item) error {
		n, err := s.store.BulkInsert(ctx, items)
		if err != nil {
			return errors.Wrap(err, "batch insert failed")
		}
		imported += n
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "full sync aborted")
	}

	if err := s.advanceCheckpoint(ctx); err != nil {
		return err
	}

	slog.Info("sync_full_complete", "imported", imported, "upstream_total", total)
	return nil
}

// RunIncremental imports only records uploaded after the current
// checkpoint. A failed batch is logged and skipped so one malformed
// batch cannot halt the rest of the pass. When the source has nothing
// new, the checkpoint is left untouched.
func (s *Syncer) RunIncremental(ctx context.Context) error {
	since, ok, err := s.store.Checkpoint(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read checkpoint")
	}

	// With no checkpoint there is nothing to filter against, so the pass
	// imports the whole catalog. A date filter would lose rows whose
	// date_uploaded is NULL, and once the checkpoint is set afterwards no
	// later pass would ever see them.
	stream := func(fn func(items []ledger.Item) error) error {
		return s.source.StreamSince(ctx, since, s.batchSize, fn)
	}
	if ok {
		slog.Info("sync_incremental_start", "since", since, "batch_size", s.batchSize)
	} else {
		slog.Info("sync_incremental_start_no_checkpoint", "batch_size", s.batchSize)
		stream = func(fn func(items []ledger.Item) error) error {
			return s.source.StreamAll(ctx, s.batchSize, fn)
		}
	}

	var fetched, imported, skippedBatches int64
	err = stream(func(items []ledger.Item) error {
		fetched += int64(len(items))
		n, err := s.store.BulkInsert(ctx, items)
		if err != nil {
			skippedBatches++
			slog.Warn("sync_batch_insert_failed", "batch_size", len(items), "error", err)
			return nil
		}
		imported += n
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "incremental sync aborted")
	}

	if fetched == 0 {
		slog.Info("sync_incremental_no_new_records")
		return nil
	}

	if err := s.advanceCheckpoint(ctx); err != nil {
		return err
	}

	slog.Info("sync_incremental_complete",
		"fetched", fetched, "imported", imported, "skipped_batches", skippedBatches)
	return nil
}

// advanceCheckpoint records the true upstream maximum, not merely the
// maximum seen in fetched rows, guarding against gaps.
func (s *Syncer) advanceCheckpoint(ctx context.Context) error {
	maxDate, ok, err := s.source.MaxDateUploaded(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to query max upload date")
	}
	if !ok {
		slog.Info("sync_checkpoint_unchanged", "reason", "source has no dated rows")
		return nil
	}
	if err := s.store.SetCheckpoint(ctx, maxDate); err != nil {
		return errors.Wrap(err, "failed to set checkpoint")
	}
	slog.Info("sync_checkpoint_set", "last_import_date", maxDate)
	return nil
}
