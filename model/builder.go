package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/sbl8/edgeinfer/core"
)

// Builder assembles a model blob. It performs only the checks needed to
// encode; Load performs full validation.
type Builder struct {
	version     uint32
	description string
	tensors     []TensorInfo
	operators   []Operator
	inputs      []int
	outputs     []int
	buffers     [][]byte
}

// NewBuilder returns a builder targeting SchemaVersion.
func NewBuilder() *Builder {
	return &Builder{version: SchemaVersion}
}

// SetVersion overrides the schema version written into the header.
func (b *Builder) SetVersion(v uint32) *Builder {
	b.version = v
	return b
}

func (b *Builder) SetDescription(s string) *Builder {
	b.description = s
	return b
}

// AddTensor appends a tensor and returns its index. A non-nil data slice
// becomes the tensor's constant buffer.
func (b *Builder) AddTensor(name string, typ core.ElemType, shape []int, quant *core.Quantization, data []byte) int {
	t := TensorInfo{
		Name:   name,
		Type:   typ,
		Shape:  append([]int(nil), shape...),
		Quant:  quant.Clone(),
		Buffer: NoBuffer,
	}
	if data != nil {
		t.Buffer = len(b.buffers)
		b.buffers = append(b.buffers, append([]byte(nil), data...))
	}
	b.tensors = append(b.tensors, t)
	return len(b.tensors) - 1
}

// AddOperator appends an operator in execution order.
func (b *Builder) AddOperator(kind OpKind, inputs, outputs []int, opts Options) *Builder {
	b.operators = append(b.operators, Operator{
		Kind:    kind,
		Inputs:  append([]int(nil), inputs...),
		Outputs: append([]int(nil), outputs...),
		Options: opts,
	})
	return b
}

func (b *Builder) SetInputs(idx ...int) *Builder {
	b.inputs = append([]int(nil), idx...)
	return b
}

func (b *Builder) SetOutputs(idx ...int) *Builder {
	b.outputs = append([]int(nil), idx...)
	return b
}

// Bytes encodes the model.
func (b *Builder) Bytes() ([]byte, error) {
	var body bytes.Buffer
	w := &encoder{buf: &body}

	if len(b.description) > math.MaxUint16 {
		return nil, fmt.Errorf("description too long: %d bytes", len(b.description))
	}
	w.u16(uint16(len(b.description)))
	w.str(b.description)

	w.u32(uint32(len(b.tensors)))
	for _, t := range b.tensors {
		if len(t.Name) > math.MaxUint8 || len(t.Shape) > math.MaxUint8 {
			return nil, fmt.Errorf("tensor %q: name or rank too large", t.Name)
		}
		w.u8(uint8(len(t.Name)))
		w.str(t.Name)
		w.u8(uint8(t.Type))
		w.u8(uint8(len(t.Shape)))
		for _, d := range t.Shape {
			w.i32(int32(d))
		}
		w.i32(int32(t.Buffer))
		if t.Quant == nil {
			w.u8(0)
			w.u16(0)
			continue
		}
		if len(t.Quant.ZeroPoint) != len(t.Quant.Scale) {
			return nil, fmt.Errorf("tensor %q: %d scales but %d zero points", t.Name, len(t.Quant.Scale), len(t.Quant.ZeroPoint))
		}
		w.u8(uint8(t.Quant.Dim))
		w.u16(uint16(len(t.Quant.Scale)))
		for _, s := range t.Quant.Scale {
			w.f32(s)
		}
		for _, zp := range t.Quant.ZeroPoint {
			w.i32(zp)
		}
	}

	w.u32(uint32(len(b.operators)))
	for _, op := range b.operators {
		w.u8(uint8(op.Kind))
		w.indices(op.Inputs)
		w.indices(op.Outputs)
		o := op.Options
		for _, v := range []int{int(o.Padding), int(o.Activation), o.StrideW, o.StrideH, o.FilterW, o.FilterH} {
			if v < 0 || v > math.MaxUint8 {
				return nil, fmt.Errorf("operator %s: option value %d out of range", op.Kind, v)
			}
			w.u8(uint8(v))
		}
		w.f32(o.Beta)
	}

	w.indices(b.inputs)
	w.indices(b.outputs)

	w.u32(uint32(len(b.buffers)))
	for _, buf := range b.buffers {
		w.u32(uint32(len(buf)))
		body.Write(buf)
	}

	out := make([]byte, HeaderSize, HeaderSize+body.Len())
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint32(out[4:8], b.version)
	binary.LittleEndian.PutUint32(out[8:12], crc32.ChecksumIEEE(body.Bytes()))
	binary.LittleEndian.PutUint32(out[12:16], uint32(body.Len()))
	return append(out, body.Bytes()...), nil
}

type encoder struct {
	buf     *bytes.Buffer
	scratch [4]byte
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.scratch[:2], v)
	e.buf.Write(e.scratch[:2])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.scratch[:], v)
	e.buf.Write(e.scratch[:])
}

func (e *encoder) i32(v int32) { e.u32(uint32(v)) }

func (e *encoder) f32(v float32) { e.u32(math.Float32bits(v)) }

func (e *encoder) str(s string) { e.buf.WriteString(s) }

func (e *encoder) indices(idx []int) {
	e.u8(uint8(len(idx)))
	for _, i := range idx {
		e.i32(int32(i))
	}
}
