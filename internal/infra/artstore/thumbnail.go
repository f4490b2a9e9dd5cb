package artstore

import (
	"fmt"
	"image"
	_ "image/gif" // GIF decoder
	"image/jpeg"
	_ "image/png" // PNG decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder
)

// ThumbSize selects a thumbnail edge length in pixels.
type ThumbSize int

const (
	// ThumbSmall is 150x150, for list rows.
	ThumbSmall ThumbSize = 150
	// ThumbMedium is 300x300, for grid views.
	ThumbMedium ThumbSize = 300
	// ThumbLarge is 500x500, for the now-playing screen.
	ThumbLarge ThumbSize = 500
)

// Thumbnail scales a stored cover down to the given size, caching the
// result next to the originals. Returns the thumbnail path.
func (s *Store) Thumbnail(coverPath string, size ThumbSize) (string, error) {
	thumbDir := filepath.Join(s.dir, "thumbs")
	if err := os.MkdirAll(thumbDir, 0o755); err != nil {
		return "", fmt.Errorf("creating thumbnail directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(coverPath), filepath.Ext(coverPath))
	thumbPath := filepath.Join(thumbDir, fmt.Sprintf("%s_%d.jpg", base, size))
	if _, err := os.Stat(thumbPath); err == nil {
		return thumbPath, nil
	}

	src, err := os.Open(coverPath)
	if err != nil {
		return "", fmt.Errorf("opening cover: %w", err)
	}
	defer src.Close()

	img, format, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decoding cover: %w", err)
	}

	log.Debug().
		Str("source", coverPath).
		Str("format", format).
		Int("size", int(size)).
		Msg("generating thumbnail")

	thumb := resize(img, int(size))

	out, err := os.Create(thumbPath)
	if err != nil {
		return "", fmt.Errorf("creating thumbnail file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	return thumbPath, nil
}

// resize scales to fit within maxSize while keeping aspect ratio.
func resize(src image.Image, maxSize int) image.Image {
	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	var newW, newH int
	if srcW > srcH {
		newW = maxSize
		newH = int(float64(srcH) * float64(maxSize) / float64(srcW))
	} else {
		newH = maxSize
		newW = int(float64(srcW) * float64(maxSize) / float64(srcH))
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
