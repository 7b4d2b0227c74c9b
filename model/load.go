package model

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	"github.com/sbl8/edgeinfer/core"
)

// Header is the fixed prefix of every model blob.
type Header struct {
	Magic    uint32
	Version  uint32
	Checksum uint32
	BodyLen  uint32
}

// ReadHeader decodes the fixed header without looking at the body.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), HeaderSize)
	}
	return Header{
		Magic:    binary.LittleEndian.Uint32(data[0:4]),
		Version:  binary.LittleEndian.Uint32(data[4:8]),
		Checksum: binary.LittleEndian.Uint32(data[8:12]),
		BodyLen:  binary.LittleEndian.Uint32(data[12:16]),
	}, nil
}

// Load parses and validates a model blob. Constant buffers alias data, which
// must stay unmodified for the lifetime of the returned Model.
func Load(data []byte) (*Model, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	// The version is checked before anything else in the blob is trusted.
	if h.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: model is schema version %d, runtime supports %d", ErrSchemaVersion, h.Version, SchemaVersion)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}

	body := data[HeaderSize:]
	if uint64(len(body)) < uint64(h.BodyLen) {
		return nil, fmt.Errorf("%w: body is %d bytes, header declares %d", ErrTruncated, len(body), h.BodyLen)
	}
	body = body[:h.BodyLen]
	if sum := crc32.ChecksumIEEE(body); sum != h.Checksum {
		return nil, fmt.Errorf("%w: got %#08x, header declares %#08x", ErrChecksum, sum, h.Checksum)
	}

	m, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	m.version = h.Version

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFile reads and loads a model blob from disk.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// decoder reads little-endian fields and remembers the first short read.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d", ErrTruncated, n, d.off)
		return nil
	}
	b := d.buf[d.off : d.off+n : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) i32() int32 { return int32(d.u32()) }

func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }

func (d *decoder) str(n int) string { return string(d.take(n)) }

func (d *decoder) indices(n int) []int {
	out := make([]int, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, int(d.i32()))
	}
	return out
}

// count reads a u32 element count and rejects counts the remaining bytes
// cannot possibly hold.
func (d *decoder) count(minElemSize int) int {
	n := int(d.u32())
	if d.err == nil && n*minElemSize > len(d.buf)-d.off {
		d.err = fmt.Errorf("%w: count %d exceeds remaining %d bytes", ErrTruncated, n, len(d.buf)-d.off)
		return 0
	}
	return n
}

func decodeBody(body []byte) (*Model, error) {
	d := &decoder{buf: body}
	m := &Model{}

	m.description = d.str(int(d.u16()))

	nt := d.count(8)
	m.tensors = make([]TensorInfo, 0, nt)
	for i := 0; i < nt && d.err == nil; i++ {
		m.tensors = append(m.tensors, decodeTensor(d))
	}

	no := d.count(3)
	m.operators = make([]Operator, 0, no)
	for i := 0; i < no && d.err == nil; i++ {
		m.operators = append(m.operators, decodeOperator(d))
	}

	m.inputs = d.indices(int(d.u8()))
	m.outputs = d.indices(int(d.u8()))

	nb := d.count(4)
	m.buffers = make([][]byte, 0, nb)
	for i := 0; i < nb && d.err == nil; i++ {
		m.buffers = append(m.buffers, d.take(int(d.u32())))
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidModel, len(body)-d.off)
	}
	return m, nil
}

func decodeTensor(d *decoder) TensorInfo {
	var t TensorInfo
	t.Name = d.str(int(d.u8()))
	t.Type = core.ElemType(d.u8())
	rank := int(d.u8())
	t.Shape = make([]int, 0, rank)
	for j := 0; j < rank && d.err == nil; j++ {
		t.Shape = append(t.Shape, int(d.i32()))
	}
	t.Buffer = int(d.i32())

	dim := int(d.u8())
	nq := int(d.u16())
	if nq > 0 {
		q := &core.Quantization{Dim: dim, Scale: make([]float32, nq), ZeroPoint: make([]int32, nq)}
		for j := 0; j < nq && d.err == nil; j++ {
			q.Scale[j] = d.f32()
		}
		for j := 0; j < nq && d.err == nil; j++ {
			q.ZeroPoint[j] = d.i32()
		}
		t.Quant = q
	}
	return t
}

func decodeOperator(d *decoder) Operator {
	var op Operator
	op.Kind = OpKind(d.u8())
	op.Inputs = d.indices(int(d.u8()))
	op.Outputs = d.indices(int(d.u8()))
	op.Options = Options{
		Padding:    Padding(d.u8()),
		Activation: Activation(d.u8()),
		StrideW:    int(d.u8()),
		StrideH:    int(d.u8()),
		FilterW:    int(d.u8()),
		FilterH:    int(d.u8()),
		Beta:       d.f32(),
	}
	return op
}

func (m *Model) validate() error {
	for i := range m.tensors {
		if err := m.validateTensor(i); err != nil {
			return err
		}
	}

	if len(m.operators) == 0 {
		return fmt.Errorf("%w: no operators", ErrInvalidModel)
	}
	// Operators run in order, so every input must be constant, a graph
	// input or written by an earlier operator.
	written := make([]bool, len(m.tensors))
	for _, idx := range m.inputs {
		if idx >= 0 && idx < len(written) {
			written[idx] = true
		}
	}
	for i, op := range m.operators {
		if op.Kind == OpInvalid || op.Kind >= NumOpKinds {
			return fmt.Errorf("%w: operator %d has unknown kind %d", ErrInvalidModel, i, uint8(op.Kind))
		}
		for _, idx := range op.Inputs {
			if idx == OptionalInput {
				continue
			}
			if idx < 0 || idx >= len(m.tensors) {
				return fmt.Errorf("%w: operator %d (%s) input %d out of range", ErrInvalidModel, i, op.Kind, idx)
			}
			if !written[idx] && !m.tensors[idx].IsConstant() {
				return fmt.Errorf("%w: operator %d (%s) reads %q before it is written", ErrInvalidModel, i, op.Kind, m.tensors[idx].Name)
			}
		}
		if len(op.Outputs) == 0 {
			return fmt.Errorf("%w: operator %d (%s) has no outputs", ErrInvalidModel, i, op.Kind)
		}
		for _, idx := range op.Outputs {
			if idx < 0 || idx >= len(m.tensors) {
				return fmt.Errorf("%w: operator %d (%s) output %d out of range", ErrInvalidModel, i, op.Kind, idx)
			}
			if m.tensors[idx].IsConstant() {
				return fmt.Errorf("%w: operator %d (%s) writes constant tensor %q", ErrInvalidModel, i, op.Kind, m.tensors[idx].Name)
			}
			if written[idx] {
				return fmt.Errorf("%w: operator %d (%s) writes %q, which is already written", ErrInvalidModel, i, op.Kind, m.tensors[idx].Name)
			}
			written[idx] = true
		}
	}

	if len(m.inputs) == 0 || len(m.outputs) == 0 {
		return fmt.Errorf("%w: graph needs at least one input and one output", ErrInvalidModel)
	}
	for _, group := range [][]int{m.inputs, m.outputs} {
		for _, idx := range group {
			if idx < 0 || idx >= len(m.tensors) {
				return fmt.Errorf("%w: graph tensor %d out of range", ErrInvalidModel, idx)
			}
			if m.tensors[idx].IsConstant() {
				return fmt.Errorf("%w: graph input/output %q is constant", ErrInvalidModel, m.tensors[idx].Name)
			}
		}
	}
	return nil
}

func (m *Model) validateTensor(i int) error {
	t := &m.tensors[i]
	if !t.Type.Valid() {
		return fmt.Errorf("%w: tensor %d (%q) has unknown type %d", ErrInvalidModel, i, t.Name, t.Type)
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: tensor %d (%q) has non-positive dimension in %v", ErrInvalidModel, i, t.Name, t.Shape)
		}
	}
	if t.Buffer != NoBuffer {
		if t.Buffer < 0 || t.Buffer >= len(m.buffers) {
			return fmt.Errorf("%w: tensor %d (%q) buffer %d out of range", ErrInvalidModel, i, t.Name, t.Buffer)
		}
		if got, want := len(m.buffers[t.Buffer]), t.ByteSize(); got != want {
			return fmt.Errorf("%w: tensor %d (%q) buffer holds %d bytes, shape needs %d", ErrInvalidModel, i, t.Name, got, want)
		}
	}
	if q := t.Quant; q != nil {
		if q.PerChannel() {
			if q.Dim >= len(t.Shape) || t.Shape[q.Dim] != len(q.Scale) {
				return fmt.Errorf("%w: tensor %d (%q) has %d scales for dimension %d of %v", ErrInvalidModel, i, t.Name, len(q.Scale), q.Dim, t.Shape)
			}
		}
		for _, s := range q.Scale {
			if !(s > 0) {
				return fmt.Errorf("%w: tensor %d (%q) has non-positive scale %g", ErrInvalidModel, i, t.Name, s)
			}
		}
	}
	return nil
}
