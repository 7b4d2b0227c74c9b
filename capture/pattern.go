package capture

import "context"

// PatternSource produces deterministic synthetic frames. Frame n is a
// diagonal gradient shifted by n, so consecutive frames differ.
type PatternSource struct {
	frame int
}

func NewPatternSource() *PatternSource { return &PatternSource{} }

// Frames returns how many frames have been produced.
func (p *PatternSource) Frames() int { return p.frame }

func (p *PatternSource) Acquire(ctx context.Context, width, height, channels int, dst []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFrame(width, height, channels, dst); err != nil {
		return err
	}
	i := 0
	for y := range height {
		for x := range width {
			for c := range channels {
				dst[i] = float32((x*7 + y*13 + c*29 + p.frame*31) % 256)
				i++
			}
		}
	}
	p.frame++
	return nil
}
