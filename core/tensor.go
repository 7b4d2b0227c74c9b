package core

import (
	"unsafe"

	"github.com/x448/float16"
)

// Tensor is a typed, shaped view over a byte region. Data is nil until the
// runtime assigns storage; kernels only read Data during evaluation.
type Tensor struct {
	Name  string
	Type  ElemType
	Shape []int
	Quant *Quantization
	Data  []byte
}

// ElementCount returns the number of elements described by Shape.
func (t *Tensor) ElementCount() int {
	return ElementCount(t.Shape)
}

// ByteSize returns the storage the tensor needs.
func (t *Tensor) ByteSize() int {
	return t.ElementCount() * t.Type.Size()
}

// Dim returns dimension i, counting from the end for negative i.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	if i < 0 || i >= len(t.Shape) {
		return 0
	}
	return t.Shape[i]
}

// Float32s reinterprets Data as float32 values.
func (t *Tensor) Float32s() []float32 {
	if len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

// Int32s reinterprets Data as int32 values.
func (t *Tensor) Int32s() []int32 {
	if len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

// Int8s reinterprets Data as int8 values.
func (t *Tensor) Int8s() []int8 {
	if len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&t.Data[0])), len(t.Data))
}

// Float16s reinterprets Data as IEEE half-precision values.
func (t *Tensor) Float16s() []float16.Float16 {
	if len(t.Data) < 2 {
		return nil
	}
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&t.Data[0])), len(t.Data)/2)
}

// Float32At reads element i as a real value, dequantizing integer types.
// It is meant for output readout, not for kernel inner loops.
func (t *Tensor) Float32At(i int) float32 {
	switch t.Type {
	case TypeFloat32:
		return t.Float32s()[i]
	case TypeFloat16:
		return t.Float16s()[i].Float32()
	case TypeInt8:
		scale, zp := t.Quant.Params()
		return DequantizeValue(t.Int8s()[i], scale, zp)
	case TypeUint8:
		scale, zp := t.Quant.Params()
		return scale * float32(int32(t.Data[i])-zp)
	case TypeInt32:
		scale, zp := t.Quant.Params()
		return scale * float32(t.Int32s()[i]-zp)
	default:
		return 0
	}
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
