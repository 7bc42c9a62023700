// Package security validates untrusted catalog identifiers before they
// are used to derive filesystem paths under the cache root.
package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// mbidChars are the only characters accepted in a release MBID. Real
// MBIDs are lowercase hex UUIDs; anything that could alter a derived
// path (separators, dots, whitespace) is rejected.
const mbidChars = "0123456789abcdefghijklmnopqrstuvwxyz-"

// ValidateReleaseMBID checks that an identifier is safe to embed in a
// cache path. The first two characters become directory levels, so the
// identifier must be at least two characters long.
func ValidateReleaseMBID(mbid string) error {
	if len(mbid) < 2 {
		slog.Error("security_mbid_validation_failed", "mbid", mbid, "reason", "too_short")
		return fmt.Errorf("security: release mbid too short: %q", mbid)
	}
	if strings.ContainsAny(mbid, `/\`) || strings.Contains(mbid, "..") {
		slog.Error("security_mbid_validation_failed", "mbid", mbid, "reason", "path_characters")
		return fmt.Errorf("security: release mbid contains path characters: %q", mbid)
	}
	for _, r := range mbid {
		if !strings.ContainsRune(mbidChars, r) {
			slog.Error("security_mbid_validation_failed", "mbid", mbid, "reason", "invalid_character")
			return fmt.Errorf("security: release mbid contains invalid character %q", r)
		}
	}
	return nil
}

// EnsureWithinRoot checks that a derived path cannot escape the cache
// root via traversal.
func EnsureWithinRoot(root, path string) error {
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	if cleanPath != cleanRoot && !strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) {
		slog.Error("security_path_validation_failed", "root", root, "path", path, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s escapes %s", path, root)
	}
	return nil
}
