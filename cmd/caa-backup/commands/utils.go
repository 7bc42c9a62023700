package commands

import (
	"os"
	"path/filepath"

	"github.com/metabrainz/caa-backup/pkg/errors"
)

// ensureDirectories creates the directories the application writes to.
func ensureDirectories(dbPath, cacheDir string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create ledger directory")
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create cache directory")
		}
	}
	return nil
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
