// Package verify reconciles the ledger against the files actually on
// disk, treating the filesystem as ground truth.
package verify

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
)

// markBatchSize bounds the ids per bulk update transaction.
const markBatchSize = 1000

// Verifier rebuilds ledger statuses from a scan of the cache root. It
// never fetches anything and never modifies files, so it is safe to run
// at any time and is idempotent.
type Verifier struct {
	store     *ledger.Store
	cacheRoot string
}

// NewVerifier creates a verifier over the given ledger and cache root.
func NewVerifier(store *ledger.Store, cacheRoot string) *Verifier {
	return &Verifier{store: store, cacheRoot: cacheRoot}
}

// Run resets every row to NOT_DOWNLOADED, walks the cache root, and
// marks the ids found on disk as DOWNLOADED in fixed-size batches.
func (v *Verifier) Run(ctx context.Context) error {
	slog.Info("verify_start", "cache_root", v.cacheRoot)

	if err := v.store.ResetAllToNotDownloaded(ctx); err != nil {
		return errors.Wrap(err, "failed to reset ledger")
	}

	ids, err := v.scanCache()
	if err != nil {
		return errors.Wrap(err, "failed to scan cache")
	}
	slog.Info("verify_scan_complete", "files_found", len(ids))

	for start := 0; start < len(ids); start += markBatchSize {
		end := min(start+markBatchSize, len(ids))
		if err := v.store.BulkMarkDownloaded(ctx, ids[start:end]); err != nil {
			return errors.Wrap(err, "failed to mark batch downloaded")
		}
	}

	counts, err := v.store.CountsByStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read summary counts")
	}
	slog.Info("verify_complete",
		"downloaded", counts[ledger.StatusDownloaded],
		"not_downloaded", counts[ledger.StatusNotDownloaded])
	return nil
}

// scanCache walks the cache root collecting the caa_id embedded in every
// filename that matches the expected shape. Files that do not parse are
// skipped, not treated as errors.
func (v *Verifier) scanCache() ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64

	err := filepath.WalkDir(v.cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		id, ok := parseCAAID(d.Name())
		if !ok {
			slog.Warn("verify_unparsable_filename", "file", d.Name())
			return nil
		}
		if _, dup := seen[id]; dup {
			return nil
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// parseCAAID extracts the item id from a cache filename of the form
// <release_mbid>-<caa_id>.<ext>. The MBID itself contains hyphens, so
// the id is the last hyphen-separated field.
func parseCAAID(filename string) (int64, bool) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(base, "-")
	if len(parts) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
