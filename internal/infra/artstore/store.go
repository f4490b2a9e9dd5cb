// Package artstore persists cover art received from the AirPlay metadata
// stream and serves it back to clients, with generated thumbnails for
// smaller views.
package artstore

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxAlbumNameLen = 30

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-_.]`)

// Store writes cover art images into a single directory, one file per
// distinct image, keyed by content checksum so repeats of the same art
// never touch the disk twice.
type Store struct {
	dir string
}

// New creates the store directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artwork directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory covers are stored in.
func (s *Store) Dir() string { return s.dir }

// Save writes the image to disk and returns its path. The filename embeds
// a truncated content checksum, so the same image for the same album is
// written once and found again on later sessions. The signature matches
// the monitor's artwork saver hook.
func (s *Store) Save(data []byte, album string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty artwork payload")
	}

	sum := fmt.Sprintf("%x", md5.Sum(data))[:8]
	name := fmt.Sprintf("cover_%s_%s.%s", sanitizeAlbum(album), sum, sniffExtension(data))
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		log.Debug().Str("path", path).Msg("cover art already on disk")
		return path, nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing cover art: %w", err)
	}
	log.Info().Str("path", path).Int("bytes", len(data)).Msg("cover art saved")
	return path, nil
}

// Open resolves a stored cover by filename for serving. Only plain names
// inside the store directory are accepted.
func (s *Store) Open(name string) (*os.File, error) {
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid artwork name %q", name)
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("opening artwork %s: %w", name, err)
	}
	return f, nil
}

func sanitizeAlbum(album string) string {
	if album == "" {
		album = "unknown_album"
	}
	album = unsafeFilenameChars.ReplaceAllString(album, "_")
	if len(album) > maxAlbumNameLen {
		album = album[:maxAlbumNameLen]
	}
	return album
}

// sniffExtension detects the image format from magic bytes. AirPlay
// senders ship JPEG or PNG almost exclusively, but the other formats do
// show up from third-party clients.
func sniffExtension(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xff && data[1] == 0xd8 && data[2] == 0xff:
		return "jpg"
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return "png"
	case len(data) >= 4 && string(data[:4]) == "GIF8":
		return "gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp"
	case len(data) >= 20 && string(data[:3]) == "\x00\x00\x00" && strings.Contains(string(data[:20]), "ftypheic"):
		return "heic"
	case len(data) >= 20 && string(data[:3]) == "\x00\x00\x00" && strings.Contains(string(data[:20]), "ftypmif1"):
		return "heif"
	default:
		return "bin"
	}
}
