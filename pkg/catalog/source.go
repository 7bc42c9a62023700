// Package catalog populates the ledger from the upstream MusicBrainz
// database, either in full or incrementally from the last checkpoint.
package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metabrainz/caa-backup/pkg/errors"
	"github.com/metabrainz/caa-backup/pkg/ledger"
)

// Source produces the ordered, batchable stream of cover art metadata
// that the sync engine imports.
type Source interface {
	// CountAll returns the total number of cover art rows upstream.
	CountAll(ctx context.Context) (int64, error)
	// StreamAll streams every row ordered by release MBID, invoking fn
	// once per batch of up to batchSize items.
	StreamAll(ctx context.Context, batchSize int, fn func(items []ledger.Item) error) error
	// StreamSince streams rows with date_uploaded after since, ordered by
	// date_uploaded ascending.
	StreamSince(ctx context.Context, since time.Time, batchSize int, fn func(items []ledger.Item) error) error
	// MaxDateUploaded returns the maximum date_uploaded upstream, or
	// ok=false when the source holds no dated rows.
	MaxDateUploaded(ctx context.Context) (time.Time, bool, error)
}

const (
	countQuery = `
		SELECT count(*)
		  FROM cover_art_archive.cover_art caa
		  JOIN musicbrainz.release r ON caa.release = r.id`

	allQuery = `
		SELECT caa.id, r.gid::text, caa.mime_type, caa.date_uploaded
		  FROM cover_art_archive.cover_art caa
		  JOIN musicbrainz.release r ON caa.release = r.id
		 ORDER BY r.gid, caa.id`

	sinceQuery = `
		SELECT caa.id, r.gid::text, caa.mime_type, caa.date_uploaded
		  FROM cover_art_archive.cover_art caa
		  JOIN musicbrainz.release r ON caa.release = r.id
		 WHERE caa.date_uploaded > $1
		 ORDER BY caa.date_uploaded, caa.id`

	maxDateQuery = `
		SELECT max(caa.date_uploaded)
		  FROM cover_art_archive.cover_art caa
		  JOIN musicbrainz.release r ON caa.release = r.id`
)

// PostgresSource reads cover art metadata from the MusicBrainz database.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource connects to the MusicBrainz database.
func NewPostgresSource(ctx context.Context, connString string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	slog.Info("catalog_source_connected")
	return &PostgresSource{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresSource) Close() {
	p.pool.Close()
}

func (p *PostgresSource) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, countQuery).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count upstream records")
	}
	return n, nil
}

func (p *PostgresSource) StreamAll(ctx context.Context, batchSize int, fn func(items []ledger.Item) error) error {
	rows, err := p.pool.Query(ctx, allQuery)
	if err != nil {
		return errors.Wrap(err, "failed to query upstream records")
	}
	return streamRows(rows, batchSize, fn)
}

func (p *PostgresSource) StreamSince(ctx context.Context, since time.Time, batchSize int, fn func(items []ledger.Item) error) error {
	rows, err := p.pool.Query(ctx, sinceQuery, since)
	if err != nil {
		return errors.Wrap(err, "failed to query upstream records since checkpoint")
	}
	return streamRows(rows, batchSize, fn)
}

func (p *PostgresSource) MaxDateUploaded(ctx context.Context) (time.Time, bool, error) {
	var max *time.Time
	if err := p.pool.QueryRow(ctx, maxDateQuery).Scan(&max); err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to query max upload date")
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return *max, true, nil
}

// streamRows drains rows into fixed-size batches. Rows without a release
// MBID cannot produce a storage path and are skipped with a warning.
func streamRows(rows pgx.Rows, batchSize int, fn func(items []ledger.Item) error) error {
	defer rows.Close()

	batch := make([]ledger.Item, 0, batchSize)
	for rows.Next() {
		var (
			caaID    int64
			mbid     *string
			mimeType *string
			uploaded *time.Time
		)
		if err := rows.Scan(&caaID, &mbid, &mimeType, &uploaded); err != nil {
			return errors.Wrap(err, "failed to scan upstream row")
		}
		if mbid == nil || *mbid == "" {
			slog.Warn("catalog_row_missing_mbid", "caa_id", caaID)
			continue
		}

		item := ledger.Item{
			CAAID:        caaID,
			ReleaseMBID:  *mbid,
			Status:       ledger.StatusNotDownloaded,
			DateUploaded: uploaded,
		}
		if mimeType != nil {
			item.MimeType = *mimeType
		}

		batch = append(batch, item)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "upstream rows error")
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
