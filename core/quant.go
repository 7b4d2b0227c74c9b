package core

import "math"

// Quantization holds affine quantization parameters:
// real = Scale * (q - ZeroPoint).
//
// A single Scale/ZeroPoint pair is per-tensor quantization. Several pairs
// quantize per channel along Dim.
type Quantization struct {
	Scale     []float32
	ZeroPoint []int32
	Dim       int
}

// PerChannel reports whether q carries more than one scale.
func (q *Quantization) PerChannel() bool {
	return q != nil && len(q.Scale) > 1
}

// Params returns the per-tensor scale and zero point. For a nil receiver it
// returns (1, 0) so unquantized tensors pass through arithmetic unchanged.
func (q *Quantization) Params() (float32, int32) {
	if q == nil || len(q.Scale) == 0 {
		return 1, 0
	}
	var zp int32
	if len(q.ZeroPoint) > 0 {
		zp = q.ZeroPoint[0]
	}
	return q.Scale[0], zp
}

// Channel returns the scale and zero point for channel c, falling back to the
// per-tensor pair.
func (q *Quantization) Channel(c int) (float32, int32) {
	if !q.PerChannel() {
		return q.Params()
	}
	var zp int32
	if c < len(q.ZeroPoint) {
		zp = q.ZeroPoint[c]
	}
	return q.Scale[c], zp
}

// Clone returns a deep copy.
func (q *Quantization) Clone() *Quantization {
	if q == nil {
		return nil
	}
	return &Quantization{
		Scale:     append([]float32(nil), q.Scale...),
		ZeroPoint: append([]int32(nil), q.ZeroPoint...),
		Dim:       q.Dim,
	}
}

// QuantizeMultiplier decomposes a positive real multiplier into a Q31
// fixed-point value and a power-of-two exponent such that
// m ~= quantized * 2^(shift-31).
func QuantizeMultiplier(m float64) (quantized int32, shift int) {
	if m == 0 {
		return 0, 0
	}
	q, exp := math.Frexp(m)
	qFixed := int64(math.Round(q * (1 << 31)))
	if qFixed == 1<<31 {
		qFixed /= 2
		exp++
	}
	if exp < -31 {
		return 0, 0
	}
	if exp > 30 {
		return math.MaxInt32, 30
	}
	return int32(qFixed), exp
}

// SaturatingRoundingDoublingHighMul returns the high 32 bits of 2*a*b,
// rounded to nearest, saturating the single overflow case.
func SaturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	return int32((ab + nudge) / (1 << 31))
}

// RoundingDivideByPOT divides x by 2^exponent rounding half away from zero.
func RoundingDivideByPOT(x int32, exponent int) int32 {
	if exponent <= 0 {
		return x
	}
	mask := int32(1)<<exponent - 1
	remainder := x & mask
	threshold := mask >> 1
	if x < 0 {
		threshold++
	}
	result := x >> exponent
	if remainder > threshold {
		result++
	}
	return result
}

// MultiplyByQuantizedMultiplier scales an int32 accumulator by the fixed-point
// multiplier produced by QuantizeMultiplier.
func MultiplyByQuantizedMultiplier(x int32, multiplier int32, shift int) int32 {
	left, right := 0, 0
	if shift > 0 {
		left = shift
	} else {
		right = -shift
	}
	return RoundingDivideByPOT(SaturatingRoundingDoublingHighMul(x*(int32(1)<<left), multiplier), right)
}

// QuantizeValue maps a real value to int8 with the given parameters.
func QuantizeValue(v float32, scale float32, zeroPoint int32) int8 {
	return QuantizeScaled(float64(v)/float64(scale), zeroPoint)
}

// QuantizeScaled rounds x, already divided by the scale, adds zeroPoint and
// saturates to int8. The arithmetic stays in float64 until after clamping so
// values beyond the int32 range and infinities saturate to the correct end.
// NaN maps to the zero point.
func QuantizeScaled(x float64, zeroPoint int32) int8 {
	if math.IsNaN(x) {
		return ClampInt8(zeroPoint)
	}
	r := math.Round(x) + float64(zeroPoint)
	return int8(min(max(r, math.MinInt8), math.MaxInt8))
}

// QuantizeScaledUint8 is QuantizeScaled for uint8 storage.
func QuantizeScaledUint8(x float64, zeroPoint int32) uint8 {
	if math.IsNaN(x) {
		return uint8(min(max(zeroPoint, 0), math.MaxUint8))
	}
	r := math.Round(x) + float64(zeroPoint)
	return uint8(min(max(r, 0), math.MaxUint8))
}

// DequantizeValue maps an int8 value back to the real line.
func DequantizeValue(q int8, scale float32, zeroPoint int32) float32 {
	return scale * float32(int32(q)-zeroPoint)
}

// ClampInt8 saturates v into the int8 range.
func ClampInt8(v int32) int8 {
	if v < math.MinInt8 {
		return math.MinInt8
	}
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	return int8(v)
}
