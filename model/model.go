// Package model defines the serialized network format read by the edgeinfer
// runtime.
//
// A model blob is a little-endian binary container: a fixed 16-byte header
// (magic, schema version, CRC32 of the body, body length) followed by the
// description, the tensor table, the operator list, the graph inputs and
// outputs, and the constant buffers holding weights and biases.
//
// The schema version is the compatibility boundary. Load rejects any blob
// whose version differs from SchemaVersion; there are no upgrade shims.
// A loaded Model is immutable and is expected to live for the whole process.
//
// Builder produces blobs in the same format and is used by the compiler and
// by tests.
package model

import (
	"errors"
	"slices"

	"github.com/sbl8/edgeinfer/core"
)

const (
	// Magic identifies a model blob ("EDGM" little-endian).
	Magic uint32 = 0x4D474445

	// SchemaVersion is the only blob version this runtime accepts.
	SchemaVersion uint32 = 3

	// HeaderSize is the size of the fixed blob header.
	HeaderSize = 16

	// NoBuffer marks a tensor without constant data.
	NoBuffer = -1

	// OptionalInput marks an omitted optional operator input.
	OptionalInput = -1
)

var (
	ErrBadMagic      = errors.New("model: bad magic")
	ErrSchemaVersion = errors.New("model: unsupported schema version")
	ErrChecksum      = errors.New("model: checksum mismatch")
	ErrTruncated     = errors.New("model: truncated blob")
	ErrInvalidModel  = errors.New("model: invalid structure")
)

// TensorInfo is the static description of one tensor.
type TensorInfo struct {
	Name   string
	Type   core.ElemType
	Shape  []int
	Quant  *core.Quantization
	Buffer int
}

// IsConstant reports whether the tensor is backed by a constant buffer.
func (t TensorInfo) IsConstant() bool {
	return t.Buffer != NoBuffer
}

// ByteSize returns the bytes needed to store the tensor.
func (t TensorInfo) ByteSize() int {
	return core.ElementCount(t.Shape) * t.Type.Size()
}

// Model is a validated, read-only network.
type Model struct {
	version     uint32
	description string
	tensors     []TensorInfo
	operators   []Operator
	inputs      []int
	outputs     []int
	buffers     [][]byte
}

func (m *Model) Version() uint32 { return m.version }

func (m *Model) Description() string { return m.description }

func (m *Model) TensorCount() int { return len(m.tensors) }

// Tensor returns tensor i. The returned value shares shape and quantization
// slices with the model and must not be modified.
func (m *Model) Tensor(i int) TensorInfo { return m.tensors[i] }

// Operators returns the operators in execution order. Callers must not modify
// the returned slice.
func (m *Model) Operators() []Operator { return m.operators }

func (m *Model) Operator(i int) Operator { return m.operators[i] }

func (m *Model) Inputs() []int { return slices.Clone(m.inputs) }

func (m *Model) Outputs() []int { return slices.Clone(m.outputs) }

// Buffer returns constant buffer i. The bytes alias the loaded blob.
func (m *Model) Buffer(i int) []byte { return m.buffers[i] }

// Kinds returns the distinct operator kinds the model references, sorted.
func (m *Model) Kinds() []OpKind {
	var seen [256]bool
	var kinds []OpKind
	for _, op := range m.operators {
		if !seen[op.Kind] {
			seen[op.Kind] = true
			kinds = append(kinds, op.Kind)
		}
	}
	slices.Sort(kinds)
	return kinds
}

// WeightBytes returns the total size of constant buffers referenced by tensors.
func (m *Model) WeightBytes() int {
	total := 0
	for i := range m.tensors {
		if m.tensors[i].IsConstant() {
			total += len(m.buffers[m.tensors[i].Buffer])
		}
	}
	return total
}
