package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sbl8/edgeinfer/capture"
	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/runtime"
)

var (
	ErrAcquisition = errors.New("pipeline: frame acquisition failed")
	ErrNoInput     = errors.New("pipeline: no input pending")
	ErrInputLength = errors.New("pipeline: input length mismatch")
	ErrStaleTensor = errors.New("pipeline: tensor handle predates the latest allocation")
)

// InputProvider fills the engine input before each invocation.
type InputProvider interface {
	Mode() string
	Fill(ctx context.Context, in *runtime.Tensor) error
}

// PullProvider acquires a frame from a capture source on every cycle.
// Float32 inputs are filled in place; other input types go through a
// staging buffer allocated once.
type PullProvider struct {
	source                  capture.FrameSource
	width, height, channels int
	staging                 []float32
}

func NewPullProvider(source capture.FrameSource, width, height, channels int) *PullProvider {
	return &PullProvider{source: source, width: width, height: height, channels: channels}
}

func (p *PullProvider) Mode() string { return InputModePull }

func (p *PullProvider) Fill(ctx context.Context, in *runtime.Tensor) error {
	if in.Stale() {
		return ErrStaleTensor
	}
	dst := in.Float32s()
	if dst == nil {
		if p.staging == nil {
			p.staging = make([]float32, in.ElementCount())
		}
		dst = p.staging
	}
	if err := p.source.Acquire(ctx, p.width, p.height, p.channels, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	if in.Type() != core.TypeFloat32 {
		for i, v := range dst {
			in.SetFloat32At(i, v)
		}
	}
	return nil
}

// PushProvider holds one caller-supplied sample until the next Fill.
type PushProvider struct {
	pending []float32
	ready   bool
}

func NewPushProvider(elements int) *PushProvider {
	return &PushProvider{pending: make([]float32, elements)}
}

func (p *PushProvider) Mode() string { return InputModePush }

// Set copies samples for the next Fill. The length must equal the input
// element count.
func (p *PushProvider) Set(samples []float32) error {
	if len(samples) != len(p.pending) {
		return fmt.Errorf("%w: got %d values, input holds %d", ErrInputLength, len(samples), len(p.pending))
	}
	copy(p.pending, samples)
	p.ready = true
	return nil
}

func (p *PushProvider) Fill(_ context.Context, in *runtime.Tensor) error {
	if !p.ready {
		return ErrNoInput
	}
	if in.Stale() {
		return ErrStaleTensor
	}
	p.ready = false
	if dst := in.Float32s(); dst != nil {
		copy(dst, p.pending)
		return nil
	}
	for i, v := range p.pending {
		in.SetFloat32At(i, v)
	}
	return nil
}
