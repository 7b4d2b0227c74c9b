package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func uniform(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	switch filepath.Ext(path) {
	case ".png":
		err = png.Encode(f, img)
	case ".bmp":
		err = bmp.Encode(f, img)
	default:
		t.Fatalf("no encoder for %s", path)
	}
	if err != nil {
		t.Fatal(err)
	}
}

func assertAll(t *testing.T, got []float32, want float32) {
	t.Helper()
	for i, v := range got {
		if math.Abs(float64(v-want)) > 1 {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestImageDirSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "a.png"), uniform(8, 8, color.RGBA{200, 0, 0, 255}))
	writeImage(t, filepath.Join(dir, "b.bmp"), uniform(4, 4, color.RGBA{100, 100, 100, 255}))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewImageDirSource(dir, discard)
	if err != nil {
		t.Fatalf("NewImageDirSource: %v", err)
	}
	if len(src.Files()) != 2 {
		t.Fatalf("files = %v", src.Files())
	}

	ctx := context.Background()
	gray := make([]float32, 2*2)
	for _, want := range []float32{60, 100, 60} {
		if err := src.Acquire(ctx, 2, 2, 1, gray); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		assertAll(t, gray, want)
	}

	rgb := make([]float32, 3*3*3)
	if err := src.Acquire(ctx, 3, 3, 3, rgb); err != nil {
		t.Fatalf("Acquire rgb: %v", err)
	}
	for i := 0; i < len(rgb); i += 3 {
		assertAll(t, rgb[i:i+3], 100)
	}
}

func TestImageDirSourceEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.md"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewImageDirSource(dir, nil); !errors.Is(err, ErrNoFrames) {
		t.Errorf("got %v, want ErrNoFrames", err)
	}
	if _, err := NewImageDirSource(filepath.Join(dir, "missing"), nil); err == nil {
		t.Error("missing directory accepted")
	}
}

func TestImageDirSourceCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := NewImageDirSource(dir, discard)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Acquire(context.Background(), 2, 2, 1, make([]float32, 4)); err == nil {
		t.Error("corrupt image decoded")
	}
}

func TestFrameShape(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		w, h, c int
		n       int
	}{
		{"zero width", 0, 4, 1, 0},
		{"two channels", 4, 4, 2, 32},
		{"short buffer", 4, 4, 1, 15},
		{"long buffer", 4, 4, 3, 49},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dst := make([]float32, tt.n)
			for _, src := range []FrameSource{NewPatternSource(), Constant(1)} {
				if err := src.Acquire(ctx, tt.w, tt.h, tt.c, dst); !errors.Is(err, ErrFrameShape) {
					t.Errorf("%T: got %v, want ErrFrameShape", src, err)
				}
			}
			if err := Fill(uniform(1, 1, color.Black), tt.w, tt.h, tt.c, dst); !errors.Is(err, ErrFrameShape) {
				t.Errorf("Fill: got %v, want ErrFrameShape", err)
			}
		})
	}
}

func TestPatternSource(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, b := NewPatternSource(), NewPatternSource()
	f1, f2 := make([]float32, 96*96), make([]float32, 96*96)

	if err := a.Acquire(ctx, 96, 96, 1, f1); err != nil {
		t.Fatal(err)
	}
	if err := b.Acquire(ctx, 96, 96, 1, f2); err != nil {
		t.Fatal(err)
	}
	for i := range f1 {
		if f1[i] != f2[i] {
			t.Fatalf("sources diverge at %d: %v vs %v", i, f1[i], f2[i])
		}
		if f1[i] < 0 || f1[i] > 255 {
			t.Fatalf("value %v out of pixel range", f1[i])
		}
	}

	if err := a.Acquire(ctx, 96, 96, 1, f2); err != nil {
		t.Fatal(err)
	}
	if f1[0] == f2[0] {
		t.Error("consecutive frames are identical")
	}
	if a.Frames() != 2 {
		t.Errorf("frames = %d, want 2", a.Frames())
	}
}

func TestAcquireCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := make([]float32, 4)
	for _, src := range []FrameSource{NewPatternSource(), Constant(0)} {
		if err := src.Acquire(ctx, 2, 2, 1, dst); !errors.Is(err, context.Canceled) {
			t.Errorf("%T: got %v, want context.Canceled", src, err)
		}
	}
}

func TestIsImage(t *testing.T) {
	t.Parallel()
	for name, want := range map[string]bool{
		"a.PNG": true, "b.jpeg": true, "c.tif": true, "d.webp": true, "e.gif": false, "f": false,
	} {
		if IsImage(name) != want {
			t.Errorf("IsImage(%q) = %v", name, !want)
		}
	}
}

func BenchmarkFillGray(b *testing.B) {
	img := uniform(320, 240, color.RGBA{10, 200, 30, 255})
	dst := make([]float32, 96*96)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := Fill(img, 96, 96, 1, dst); err != nil {
			b.Fatal(err)
		}
	}
}
