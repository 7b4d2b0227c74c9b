package kernels

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

// ErrUnsupported reports a shape, type or option combination a kernel does
// not handle. Prepare returns it; Eval never sees an unsupported node.
var ErrUnsupported = errors.New("kernels: unsupported configuration")

// Cost is a static estimate of the work one evaluation performs.
type Cost struct {
	Ops   int64 // arithmetic operations
	Bytes int64 // bytes read and written
}

// Node is one operator instance bound to tensor storage. The engine builds
// it before Prepare and assigns Scratch before the first Eval.
type Node struct {
	Op      *model.Operator
	Index   int
	Inputs  []*core.Tensor // nil for omitted optional inputs
	Outputs []*core.Tensor

	// ScratchSize is set by Prepare; Scratch is the arena slice of that size.
	ScratchSize int
	Scratch     []byte

	// UserData holds whatever Prepare precomputed for Eval.
	UserData any

	Cost Cost
}

// Input returns input i, or nil when it is omitted or absent.
func (n *Node) Input(i int) *core.Tensor {
	if i < 0 || i >= len(n.Inputs) {
		return nil
	}
	return n.Inputs[i]
}

// Output returns output i, or nil when absent.
func (n *Node) Output(i int) *core.Tensor {
	if i < 0 || i >= len(n.Outputs) {
		return nil
	}
	return n.Outputs[i]
}

func (n *Node) unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s #%d: %s", ErrUnsupported, n.Op.Kind, n.Index, fmt.Sprintf(format, args...))
}

// requireIO checks the minimum input count and that the first output exists.
func (n *Node) requireIO(minInputs int) (in, out *core.Tensor, err error) {
	if len(n.Inputs) < minInputs {
		return nil, nil, n.unsupported("needs %d inputs, has %d", minInputs, len(n.Inputs))
	}
	for i := 0; i < minInputs; i++ {
		if n.Inputs[i] == nil {
			return nil, nil, n.unsupported("input %d is required", i)
		}
	}
	if len(n.Outputs) < 1 || n.Outputs[0] == nil {
		return nil, nil, n.unsupported("missing output")
	}
	return n.Inputs[0], n.Outputs[0], nil
}

// bytesOf sums the storage of the given tensors, skipping nil entries.
func bytesOf(ts ...*core.Tensor) int64 {
	var total int64
	for _, t := range ts {
		if t != nil {
			total += int64(t.ByteSize())
		}
	}
	return total
}

// scratchFloat32s views the node's scratch as float32 values.
func scratchFloat32s(b []byte, n int) []float32 {
	if n == 0 || len(b) < n*4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n)
}
