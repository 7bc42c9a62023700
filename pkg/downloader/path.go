package downloader

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultBaseURL is the archive host cover art is fetched from.
const DefaultBaseURL = "https://archive.org"

const userAgent = "Cover Art Archive Backup (caa-backup)"

// extensionFor maps a MIME type to a file extension. image/jpeg and
// anything absent or unrecognized become jpg.
func extensionFor(mimeType string) string {
	if mimeType == "" || mimeType == "image/jpeg" {
		return "jpg"
	}
	_, subtype, found := strings.Cut(mimeType, "/")
	if !found || subtype == "" {
		return "jpg"
	}
	return subtype
}

// cachePath derives the storage path for an item: two nested directory
// levels from the MBID prefix, then <mbid>-<caa_id>.<ext>.
func cachePath(root, releaseMBID string, caaID int64, mimeType string) string {
	filename := fmt.Sprintf("%s-%d.%s", releaseMBID, caaID, extensionFor(mimeType))
	return filepath.Join(root, releaseMBID[0:1], releaseMBID[1:2], filename)
}

// downloadURL builds the archive fetch URL for an item.
func downloadURL(baseURL, releaseMBID string, caaID int64, mimeType string) string {
	return fmt.Sprintf("%s/download/mbid-%s/mbid-%s-%d.%s",
		baseURL, releaseMBID, releaseMBID, caaID, extensionFor(mimeType))
}
