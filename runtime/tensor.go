package runtime

import (
	"github.com/x448/float16"

	"github.com/sbl8/edgeinfer/core"
)

// Tensor is a handle to a graph input or output. It is valid from the
// AllocateTensors call that produced it until the next one; after that Stale
// reports true and every data accessor returns nil.
type Tensor struct {
	engine     *Engine
	t          *core.Tensor
	index      int
	generation uint64
}

// Stale reports whether the handle predates the engine's latest allocation.
func (h *Tensor) Stale() bool {
	return h.generation != h.engine.generation
}

// Index returns the model tensor index.
func (h *Tensor) Index() int { return h.index }

func (h *Tensor) Name() string { return h.t.Name }

func (h *Tensor) Type() core.ElemType { return h.t.Type }

// Shape returns the tensor dimensions. Callers must not modify them.
func (h *Tensor) Shape() []int { return h.t.Shape }

func (h *Tensor) Quant() *core.Quantization { return h.t.Quant }

func (h *Tensor) ElementCount() int { return h.t.ElementCount() }

func (h *Tensor) ByteSize() int { return h.t.ByteSize() }

// Bytes returns the arena storage of the tensor.
func (h *Tensor) Bytes() []byte {
	if h.Stale() {
		return nil
	}
	return h.t.Data
}

// Float32s returns the storage as float32 values, or nil for other types.
func (h *Tensor) Float32s() []float32 {
	if h.Stale() || h.t.Type != core.TypeFloat32 {
		return nil
	}
	return h.t.Float32s()
}

// Float16s returns the storage as half-precision values, or nil for other types.
func (h *Tensor) Float16s() []float16.Float16 {
	if h.Stale() || h.t.Type != core.TypeFloat16 {
		return nil
	}
	return h.t.Float16s()
}

// Int8s returns the storage as int8 values, or nil for other types.
func (h *Tensor) Int8s() []int8 {
	if h.Stale() || h.t.Type != core.TypeInt8 {
		return nil
	}
	return h.t.Int8s()
}

// Float32At reads element i as a real value, dequantizing integer storage.
// A stale handle reads 0.
func (h *Tensor) Float32At(i int) float32 {
	if h.Stale() {
		return 0
	}
	return h.t.Float32At(i)
}

// SetFloat32At writes a real value to element i, quantizing or narrowing as
// the element type requires. Writes through a stale handle are dropped.
func (h *Tensor) SetFloat32At(i int, v float32) {
	if h.Stale() {
		return
	}
	switch h.t.Type {
	case core.TypeFloat32:
		h.t.Float32s()[i] = v
	case core.TypeFloat16:
		h.t.Float16s()[i] = float16.Fromfloat32(v)
	case core.TypeInt8:
		scale, zp := h.t.Quant.Params()
		h.t.Int8s()[i] = core.QuantizeValue(v, scale, zp)
	case core.TypeUint8:
		scale, zp := h.t.Quant.Params()
		h.t.Data[i] = core.QuantizeScaledUint8(float64(v)/float64(scale), zp)
	case core.TypeInt32:
		h.t.Int32s()[i] = int32(v)
	}
}
