package downloader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mimeType string
		want     string
	}{
		{"image/jpeg", "jpg"},
		{"image/png", "png"},
		{"image/gif", "gif"},
		{"", "jpg"},
		{"bogus", "jpg"},
		{"image/", "jpg"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extensionFor(tt.mimeType), "mime_type %q", tt.mimeType)
	}
}

func TestCachePath(t *testing.T) {
	got := cachePath("/cache", "1e0eee38-8a8c", 12345, "image/png")
	want := filepath.Join("/cache", "1", "e", "1e0eee38-8a8c-12345.png")
	assert.Equal(t, want, got)
}

func TestDownloadURL(t *testing.T) {
	got := downloadURL("https://archive.org", "1e0eee38-8a8c", 12345, "")
	assert.Equal(t, "https://archive.org/download/mbid-1e0eee38-8a8c/mbid-1e0eee38-8a8c-12345.jpg", got)
}
