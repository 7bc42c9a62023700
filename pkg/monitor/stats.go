// Package monitor exposes live download statistics over a small HTTP
// endpoint without pausing the download engine.
package monitor

import (
	"sync"
	"time"
)

// rateWindowSize bounds the sliding window of completion timestamps used
// for the rate estimate.
const rateWindowSize = 25

// Stats accumulates download counters. All methods are safe for
// concurrent use; the lock here is independent of the ledger's storage.
type Stats struct {
	mu              sync.Mutex
	totalToDownload int64
	downloaded      int64
	errors          int64
	bytes           int64
	completions     []time.Time
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// SetTotalToDownload records how many items the current run set out to fetch.
func (s *Stats) SetTotalToDownload(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalToDownload = n
}

// SetDownloaded seeds the downloaded counter, e.g. from ledger counts
// when serving statistics outside a download run.
func (s *Stats) SetDownloaded(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded = n
}

// RecordCompletion notes one successful download of size bytes.
func (s *Stats) RecordCompletion(bytes int64) {
	s.recordCompletionAt(time.Now(), bytes)
}

func (s *Stats) recordCompletionAt(t time.Time, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloaded++
	s.bytes += bytes
	s.completions = append(s.completions, t)
	if len(s.completions) > rateWindowSize {
		s.completions = s.completions[len(s.completions)-rateWindowSize:]
	}
}

// RecordError notes one failed download.
func (s *Stats) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Rate returns downloads per second over the sliding window, or 0 when
// fewer than two completions have been recorded.
func (s *Stats) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLocked()
}

func (s *Stats) rateLocked() float64 {
	n := len(s.completions)
	if n < 2 {
		return 0
	}
	elapsed := s.completions[n-1].Sub(s.completions[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n-1) / elapsed
}

// Status is the point-in-time statistics payload served on /status.
type Status struct {
	TotalToDownload        int64    `json:"total_to_download"`
	Downloaded             int64    `json:"downloaded"`
	DownloadErrors         int64    `json:"download_errors"`
	DownloadRate           float64  `json:"download_rate"`
	DiskTotalBytes         uint64   `json:"disk_total_bytes"`
	DiskFreeBytes          uint64   `json:"disk_free_bytes"`
	DiskUsedPercent        float64  `json:"disk_used_percent"`
	SecondsBeforeFull      *float64 `json:"seconds_before_full"`
	SecondsBeforeCompleted *float64 `json:"seconds_before_completed"`
}

// Snapshot assembles the current statistics, including disk usage of the
// cache root. Undefined projections (zero rate, no samples) are reported
// as null rather than dividing by zero.
func (s *Stats) Snapshot(cacheRoot string) (Status, error) {
	usage, err := diskUsageFn(cacheRoot)
	if err != nil {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.rateLocked()
	status := Status{
		TotalToDownload: s.totalToDownload,
		Downloaded:      s.downloaded,
		DownloadErrors:  s.errors,
		DownloadRate:    rate,
		DiskTotalBytes:  usage.Total,
		DiskFreeBytes:   usage.Free,
		DiskUsedPercent: usage.UsedPercent,
	}

	if rate > 0 && s.downloaded > 0 && s.bytes > 0 {
		avgBytes := float64(s.bytes) / float64(s.downloaded)
		secs := float64(usage.Free) / avgBytes / rate
		status.SecondsBeforeFull = &secs
	}
	if rate > 0 {
		remaining := s.totalToDownload - s.downloaded
		if remaining < 0 {
			remaining = 0
		}
		secs := float64(remaining) / rate
		status.SecondsBeforeCompleted = &secs
	}

	return status, nil
}
