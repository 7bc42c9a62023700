// Package ledger implements the persistent per-item status store backing
// the backup. All components read and write item state exclusively
// through this package; nothing else touches the SQLite file.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when an update targets a row that does not exist.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrBusy is returned when the storage stayed locked past the retry budget.
	ErrBusy = errors.New("ledger: storage busy")
)

const (
	busyTimeoutMS    = 5000
	busyMaxAttempts  = 5
	busyRetryDelay   = 100 * time.Millisecond
	maxOpenConns     = 1
	maxIdleConns     = 1
	connMaxLifetime  = 5 * time.Minute
	markInChunkLimit = 1000
)

// Store wraps the SQLite ledger database.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	slog.Info("ledger_open", "db_path", path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure ledger: %w", err)
		}
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("ledger_ready", "db_path", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// withRetry runs op, retrying with a linearly increasing delay while the
// storage reports contention. It gives up after busyMaxAttempts and
// surfaces ErrBusy instead of spinning.
func (s *Store) withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= busyMaxAttempts; attempt++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		slog.Warn("ledger_busy_retry", "attempt", attempt, "error", err)
		time.Sleep(busyRetryDelay * time.Duration(attempt))
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrBusy, busyMaxAttempts, err)
}

// BulkInsert inserts items in a single transaction, each starting at the
// status carried on the record. Rows whose caa_id already exists are
// skipped (INSERT OR IGNORE), so re-importing is a no-op rather than a
// duplicate or a whole-batch failure. Returns the number of rows
// actually inserted.
func (s *Store) BulkInsert(ctx context.Context, items []Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO caa_backup (caa_id, release_mbid, status, error, mime_type, date_uploaded)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		inserted = 0
		for _, item := range items {
			res, err := stmt.ExecContext(ctx,
				item.CAAID, item.ReleaseMBID, item.Status,
				nullString(item.Error), nullString(item.MimeType), nullTime(item.DateUploaded))
			if err != nil {
				return fmt.Errorf("failed to insert caa_id %d: %w", item.CAAID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			inserted += n
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	slog.Info("ledger_bulk_insert", "batch_size", len(items), "inserted", inserted)
	return inserted, nil
}

// ClaimBatch returns up to limit items in the given status, ordered by
// release MBID then caa_id so repeated calls make deterministic
// progress. Claiming is advisory: it does not change any row.
func (s *Store) ClaimBatch(ctx context.Context, status Status, limit int) ([]Item, error) {
	var items []Item
	err := s.withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT caa_id, release_mbid, status, error, mime_type, date_uploaded
			FROM caa_backup
			WHERE status = ?
			ORDER BY release_mbid, caa_id
			LIMIT ?
		`, status, limit)
		if err != nil {
			return fmt.Errorf("failed to query batch: %w", err)
		}
		defer rows.Close()

		items = items[:0]
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatus sets status and error for the row matching (caa_id,
// release_mbid). Idempotent; returns ErrNotFound when no row matches.
func (s *Store) UpdateStatus(ctx context.Context, caaID int64, releaseMBID string, status Status, errMsg string) error {
	return s.withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE caa_backup SET status = ?, error = ?
			WHERE caa_id = ? AND release_mbid = ?
		`, status, nullString(errMsg), caaID, releaseMBID)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: caa_id=%d release_mbid=%s", ErrNotFound, caaID, releaseMBID)
		}
		return nil
	})
}

// BulkMarkDownloaded sets status to DOWNLOADED for exactly the given ids
// in one atomic statement. Ids not present in the ledger are ignored.
func (s *Store) BulkMarkDownloaded(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > markInChunkLimit {
		return fmt.Errorf("bulk mark batch of %d exceeds limit %d", len(ids), markInChunkLimit)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, StatusDownloaded)
	for _, id := range ids {
		args = append(args, id)
	}

	return s.withRetry(func() error {
		query := fmt.Sprintf(`UPDATE caa_backup SET status = ?, error = NULL WHERE caa_id IN (%s)`, placeholders)
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to bulk mark downloaded: %w", err)
		}
		return nil
	})
}

// ResetAllToNotDownloaded sets every row back to NOT_DOWNLOADED and
// clears errors. Step one of filesystem verification.
func (s *Store) ResetAllToNotDownloaded(ctx context.Context) error {
	return s.withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE caa_backup SET status = ?, error = NULL`, StatusNotDownloaded)
		if err != nil {
			return fmt.Errorf("failed to reset statuses: %w", err)
		}
		n, _ := res.RowsAffected()
		slog.Info("ledger_reset_all", "rows", n)
		return nil
	})
}

// CountsByStatus returns the number of rows per status. Statuses with no
// rows are absent from the map.
func (s *Store) CountsByStatus(ctx context.Context) (map[Status]int64, error) {
	counts := make(map[Status]int64)
	err := s.withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM caa_backup GROUP BY status`)
		if err != nil {
			return fmt.Errorf("failed to count by status: %w", err)
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var status Status
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("failed to scan count row: %w", err)
			}
			counts[status] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CountByStatus returns the number of rows in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int64, error) {
	var n int64
	err := s.withRetry(func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM caa_backup WHERE status = ?`, status).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count status %s: %w", status, err)
	}
	return n, nil
}

// FailedRecords returns all rows in TEMP_ERROR or PERMANENT_ERROR.
func (s *Store) FailedRecords(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT caa_id, release_mbid, status, error, mime_type, date_uploaded
			FROM caa_backup
			WHERE status IN (?, ?)
			ORDER BY release_mbid, caa_id
		`, StatusTempError, StatusPermanentError)
		if err != nil {
			return fmt.Errorf("failed to query failed records: %w", err)
		}
		defer rows.Close()

		items = items[:0]
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// RequeueTempErrors demotes every TEMP_ERROR row back to NOT_DOWNLOADED
// so the next download run reconsiders it. Returns the number of rows
// requeued.
func (s *Store) RequeueTempErrors(ctx context.Context) (int64, error) {
	var n int64
	err := s.withRetry(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE caa_backup SET status = ?, error = NULL WHERE status = ?
		`, StatusNotDownloaded, StatusTempError)
		if err != nil {
			return fmt.Errorf("failed to requeue temp errors: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.Info("ledger_requeue_temp_errors", "rows", n)
	return n, nil
}

// Checkpoint returns the incremental sync watermark, or ok=false when no
// import has completed yet.
func (s *Store) Checkpoint(ctx context.Context) (time.Time, bool, error) {
	var ts time.Time
	var found bool
	err := s.withRetry(func() error {
		err := s.db.QueryRowContext(ctx,
			`SELECT last_import_date FROM sync_checkpoint ORDER BY id DESC LIMIT 1`).Scan(&ts)
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, found, nil
}

// SetCheckpoint replaces the sync watermark (delete then insert in one
// transaction, a single-row upsert).
func (s *Store) SetCheckpoint(ctx context.Context, ts time.Time) error {
	return s.withRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_checkpoint`); err != nil {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_checkpoint (last_import_date) VALUES (?)`, ts); err != nil {
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
		return tx.Commit()
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(rows rowScanner) (Item, error) {
	var item Item
	var errMsg, mimeType sql.NullString
	var uploaded sql.NullTime

	if err := rows.Scan(&item.CAAID, &item.ReleaseMBID, &item.Status, &errMsg, &mimeType, &uploaded); err != nil {
		return Item{}, fmt.Errorf("failed to scan item row: %w", err)
	}
	item.Error = errMsg.String
	item.MimeType = mimeType.String
	if uploaded.Valid {
		t := uploaded.Time
		item.DateUploaded = &t
	}
	return item, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
