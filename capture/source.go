// Package capture provides the frame sources behind pull-mode input. A
// source fills a caller-owned buffer with one frame of raw pixel values in
// row-major, channel-interleaved order; no normalization is applied.
package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoFrames   = errors.New("capture: no frames available")
	ErrFrameShape = errors.New("capture: invalid frame shape")
)

// FrameSource acquires one frame of width x height x channels values into
// dst. Implementations must not retain dst.
type FrameSource interface {
	Acquire(ctx context.Context, width, height, channels int, dst []float32) error
}

// SourceFunc adapts a function to FrameSource.
type SourceFunc func(ctx context.Context, width, height, channels int, dst []float32) error

func (f SourceFunc) Acquire(ctx context.Context, width, height, channels int, dst []float32) error {
	return f(ctx, width, height, channels, dst)
}

// Constant returns a source that fills every frame with v.
func Constant(v float32) SourceFunc {
	return func(ctx context.Context, width, height, channels int, dst []float32) error {
		if err := checkFrame(width, height, channels, dst); err != nil {
			return err
		}
		for i := range dst {
			dst[i] = v
		}
		return ctx.Err()
	}
}

func checkFrame(width, height, channels int, dst []float32) error {
	if width <= 0 || height <= 0 || (channels != 1 && channels != 3) {
		return fmt.Errorf("%w: %dx%dx%d", ErrFrameShape, width, height, channels)
	}
	if n := width * height * channels; len(dst) != n {
		return fmt.Errorf("%w: buffer holds %d values, frame has %d", ErrFrameShape, len(dst), n)
	}
	return nil
}
