package kernels

import (
	"math"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

// outputSize returns the spatial output extent for one axis.
func outputSize(p model.Padding, in, filter, stride int) int {
	if p == model.PaddingValid {
		return (in - filter + stride) / stride
	}
	return (in + stride - 1) / stride
}

// paddingBefore returns the leading padding for one axis.
func paddingBefore(p model.Padding, in, filter, stride, out int) int {
	if p == model.PaddingValid {
		return 0
	}
	total := (out-1)*stride + filter - in
	if total < 0 {
		return 0
	}
	return total / 2
}

func strides(o model.Options) (w, h int) {
	w, h = o.StrideW, o.StrideH
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// activationRangeInt8 returns the quantized clamp bounds for a fused activation.
func activationRangeInt8(act model.Activation, scale float32, zp int32) (lo, hi int32) {
	lo, hi = math.MinInt8, math.MaxInt8
	q := func(v float32) int32 {
		return int32(core.QuantizeScaled(float64(v)/float64(scale), zp))
	}
	switch act {
	case model.ActRelu:
		lo = max(lo, q(0))
	case model.ActRelu6:
		lo = max(lo, q(0))
		hi = min(hi, q(6))
	case model.ActReluN1To1:
		lo = max(lo, q(-1))
		hi = min(hi, q(1))
	}
	return lo, hi
}

func activationRangeFloat(act model.Activation) (lo, hi float32) {
	switch act {
	case model.ActRelu:
		return 0, math.MaxFloat32
	case model.ActRelu6:
		return 0, 6
	case model.ActReluN1To1:
		return -1, 1
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

func clampFloat(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// requantizer holds per-channel fixed-point output multipliers for int8
// kernels that accumulate in int32.
type requantizer struct {
	multiplier  []int32
	shift       []int
	inputOffset int32
	outputZP    int32
	actMin      int32
	actMax      int32
}

// newRequantizer derives multipliers for channels output channels from the
// input, filter and output quantization.
func newRequantizer(in, filter, out *core.Tensor, channels int, act model.Activation) requantizer {
	inScale, inZP := in.Quant.Params()
	outScale, outZP := out.Quant.Params()
	r := requantizer{
		multiplier:  make([]int32, channels),
		shift:       make([]int, channels),
		inputOffset: -inZP,
		outputZP:    outZP,
	}
	for c := 0; c < channels; c++ {
		fScale, _ := filter.Quant.Channel(c)
		eff := float64(inScale) * float64(fScale) / float64(outScale)
		r.multiplier[c], r.shift[c] = core.QuantizeMultiplier(eff)
	}
	r.actMin, r.actMax = activationRangeInt8(act, outScale, outZP)
	return r
}

func (r *requantizer) apply(acc int32, c int) int8 {
	v := core.MultiplyByQuantizedMultiplier(acc, r.multiplier[c], r.shift[c]) + r.outputZP
	return int8(clampInt32(v, r.actMin, r.actMax))
}

// checkInt8Quant reports whether t is int8 with usable quantization.
func checkInt8Quant(t *core.Tensor) bool {
	return t.Type == core.TypeInt8 && t.Quant != nil && len(t.Quant.Scale) > 0
}

// dotInt8 accumulates (a[i]+offset)*b[i] with a four-way unrolled loop.
func dotInt8(a, b []int8, offset int32) int32 {
	var s0, s1, s2, s3 int32
	n := len(b)
	a = a[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += (int32(a[i]) + offset) * int32(b[i])
		s1 += (int32(a[i+1]) + offset) * int32(b[i+1])
		s2 += (int32(a[i+2]) + offset) * int32(b[i+2])
		s3 += (int32(a[i+3]) + offset) * int32(b[i+3])
	}
	for ; i < n; i++ {
		s0 += (int32(a[i]) + offset) * int32(b[i])
	}
	return s0 + s1 + s2 + s3
}

func dotFloat32(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	n := len(b)
	a = a[:n]
	i := 0
	for ; i+4 <= n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3
}
