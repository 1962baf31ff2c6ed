// Package media stores fetched prescription images for later pharmacist review.
//
// Images are written under a configured directory, keyed by the provider media
// reference so a redelivered upload overwrites rather than duplicates.
package media

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

// DefaultDirPermissions defines the default permissions for the media directory.
const DefaultDirPermissions = 0755

// unsafeChars matches everything not allowed in a stored file name.
var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Storage writes media streams to a local directory.
type Storage struct {
	dir string
}

// NewStorage creates a Storage rooted at dir, creating it if missing.
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("media directory not set")
	}
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create media directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create media directory %s: %w", dir, err)
	}
	return &Storage{dir: dir}, nil
}

// Save writes the stream to a file keyed by the media reference and returns
// the file path. References that sanitize to nothing get a generated name.
func (s *Storage) Save(mediaID string, r io.Reader) (string, error) {
	name := unsafeChars.ReplaceAllString(mediaID, "")
	if name == "" {
		name = uuid.NewString()
	}
	path := filepath.Join(s.dir, name+".jpg")

	f, err := os.Create(path)
	if err != nil {
		slog.Error("Media Save create failed", "error", err, "path", path)
		return "", fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		slog.Error("Media Save write failed", "error", err, "path", path)
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	slog.Debug("Media Save succeeded", "mediaID", mediaID, "path", path)
	return path, nil
}
