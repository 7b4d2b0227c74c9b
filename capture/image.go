package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var imageExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp"}

// IsImage reports whether path has an extension ImageDirSource decodes.
func IsImage(path string) bool {
	return slices.Contains(imageExts, strings.ToLower(filepath.Ext(path)))
}

// ImageDirSource cycles through the images of a directory in name order.
// Each image is scaled to the requested frame size.
type ImageDirSource struct {
	dir    string
	files  []string
	next   int
	scaler draw.Scaler
	logger *slog.Logger

	scaled *image.RGBA
}

// NewImageDirSource lists the images in dir. Files with other extensions
// are ignored; a directory without images is an error.
func NewImageDirSource(dir string, logger *slog.Logger) (*ImageDirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsImage(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s has no images", ErrNoFrames, dir)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("image source", "dir", dir, "images", len(files))
	return &ImageDirSource{dir: dir, files: files, scaler: draw.BiLinear, logger: logger}, nil
}

// Files returns the images in cycle order.
func (s *ImageDirSource) Files() []string { return s.files }

func (s *ImageDirSource) Acquire(ctx context.Context, width, height, channels int, dst []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFrame(width, height, channels, dst); err != nil {
		return err
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	img, err := DecodeFile(path)
	if err != nil {
		return err
	}
	if s.scaled == nil || s.scaled.Rect.Dx() != width || s.scaled.Rect.Dy() != height {
		s.scaled = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	s.scaler.Scale(s.scaled, s.scaled.Rect, img, img.Bounds(), draw.Src, nil)
	s.logger.Debug("frame acquired", "path", path, "size", img.Bounds().Size())
	pixels(s.scaled, channels, dst)
	return nil
}

// DecodeFile decodes a png, jpeg, bmp, tiff or webp image.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", path, err)
	}
	return img, nil
}

// Fill scales img to width x height and writes its pixels to dst as raw
// 0-255 values, one luminance value per pixel for a single channel or
// interleaved RGB for three.
func Fill(img image.Image, width, height, channels int, dst []float32) error {
	if err := checkFrame(width, height, channels, dst); err != nil {
		return err
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(scaled, scaled.Rect, img, img.Bounds(), draw.Src, nil)
	pixels(scaled, channels, dst)
	return nil
}

func pixels(img *image.RGBA, channels int, dst []float32) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	i := 0
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			r, g, b := uint32(row[x]), uint32(row[x+1]), uint32(row[x+2])
			if channels == 1 {
				// ITU-R 601 luma, as color.GrayModel computes it.
				dst[i] = float32((19595*r + 38470*g + 7471*b + 1<<15) >> 16)
				i++
				continue
			}
			dst[i], dst[i+1], dst[i+2] = float32(r), float32(g), float32(b)
			i += 3
		}
	}
}
