package ledger

import "time"

// Schema defines the SQLite schema for the backup ledger.
// caa_backup holds one row per cover art image; sync_checkpoint holds
// at most one logical row with the incremental import watermark.
const Schema = `
CREATE TABLE IF NOT EXISTS caa_backup (
    caa_id INTEGER PRIMARY KEY,
    release_mbid TEXT NOT NULL,
    status INTEGER NOT NULL,
    error TEXT,
    mime_type TEXT,
    date_uploaded TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_caa_backup_status ON caa_backup(status);
CREATE INDEX IF NOT EXISTS idx_caa_backup_release_mbid ON caa_backup(release_mbid);

CREATE TABLE IF NOT EXISTS sync_checkpoint (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    last_import_date TIMESTAMP NOT NULL
);
`

// Status is the persisted download state of one item. The numeric
// encoding is stable; changing it would invalidate existing ledgers.
type Status int

const (
	StatusNotDownloaded  Status = 0
	StatusDownloaded     Status = 1
	StatusTempError      Status = 2
	StatusPermanentError Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusNotDownloaded:
		return "not_downloaded"
	case StatusDownloaded:
		return "downloaded"
	case StatusTempError:
		return "temp_error"
	case StatusPermanentError:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// Item is one cover art image tracked by the ledger.
type Item struct {
	CAAID        int64
	ReleaseMBID  string
	Status       Status
	Error        string
	MimeType     string
	DateUploaded *time.Time
}
