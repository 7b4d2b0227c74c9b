// Package core provides the low-level primitives shared by the edgeinfer
// loader, kernels and runtime.
//
// It defines the element types a tensor can hold, the Tensor view that
// reinterprets arena bytes as typed slices without copying, the fixed-point
// arithmetic used by quantized kernels, and alignment helpers for carving
// tensors out of a single pre-allocated arena.
//
// Nothing in this package allocates on the inference path. Typed views are
// produced with unsafe.Slice over existing storage, which assumes a
// little-endian host, the same assumption the model format makes.
package core

import "fmt"

// ElemType identifies the numeric type stored in a tensor.
type ElemType uint8

// Element type codes. The values are part of the model format.
const (
	TypeFloat32 ElemType = 0
	TypeFloat16 ElemType = 1
	TypeInt32   ElemType = 2
	TypeUint8   ElemType = 3
	TypeInt8    ElemType = 9
)

// Size returns the width of one element in bytes, or 0 for an unknown type.
func (t ElemType) Size() int {
	switch t {
	case TypeFloat32, TypeInt32:
		return 4
	case TypeFloat16:
		return 2
	case TypeUint8, TypeInt8:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is a known element type.
func (t ElemType) Valid() bool {
	return t.Size() != 0
}

func (t ElemType) String() string {
	switch t {
	case TypeFloat32:
		return "float32"
	case TypeFloat16:
		return "float16"
	case TypeInt32:
		return "int32"
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseElemType maps a type name as written by String back to its code.
func ParseElemType(s string) (ElemType, error) {
	for _, t := range []ElemType{TypeFloat32, TypeFloat16, TypeInt32, TypeUint8, TypeInt8} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", s)
}

// ElementCount returns the product of dims. A rank-0 shape holds one element.
func ElementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
