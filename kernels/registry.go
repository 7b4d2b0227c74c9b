// Package kernels implements the operators the edgeinfer runtime can execute
// and the registry that restricts a build to a fixed allow-list of them.
//
// Every kernel is split in two phases. Prepare runs once while the engine
// allocates tensors: it checks shapes and types, precomputes fixed-point
// multipliers, requests scratch space and records a static cost estimate.
// Eval runs on every invocation and must not allocate; it reads and writes
// only the tensor storage and scratch the engine assigned.
//
// Supported kernels:
//   - QUANTIZE, DEQUANTIZE (float32/float16 <-> int8)
//   - CONV_2D (int8 per-channel, float32)
//   - MAX_POOL_2D, AVERAGE_POOL_2D (int8, float32)
//   - RESHAPE
//   - FULLY_CONNECTED (int8, float32)
//   - SOFTMAX (int8, float32)
//   - RELU, LOGISTIC
//
// A Registry maps operator kinds to kernels through an opcode-indexed table,
// so lookups during allocation are constant time. Registries have a fixed
// capacity and are frozen once an engine is built over them.
package kernels

import (
	"errors"
	"fmt"

	"github.com/sbl8/edgeinfer/model"
)

var (
	ErrRegistryFull   = errors.New("kernels: registry full")
	ErrDuplicateOp    = errors.New("kernels: operator already registered")
	ErrRegistryFrozen = errors.New("kernels: registry frozen")
	ErrUnknownKernel  = errors.New("kernels: no built-in kernel for operator")
)

// PrepareFn validates a node and sizes its scratch and cost.
type PrepareFn func(n *Node) error

// EvalFn executes a prepared node.
type EvalFn func(n *Node) error

// Registration binds an operator kind to its kernel.
type Registration struct {
	Kind    model.OpKind
	Prepare PrepareFn
	Eval    EvalFn
}

// builtins holds every kernel this package implements, indexed by kind.
var builtins = [256]*Registration{
	model.OpQuantize:       {Kind: model.OpQuantize, Prepare: prepareQuantize, Eval: evalQuantize},
	model.OpDequantize:     {Kind: model.OpDequantize, Prepare: prepareDequantize, Eval: evalDequantize},
	model.OpConv2D:         {Kind: model.OpConv2D, Prepare: prepareConv2D, Eval: evalConv2D},
	model.OpMaxPool2D:      {Kind: model.OpMaxPool2D, Prepare: preparePool, Eval: evalMaxPool},
	model.OpAveragePool2D:  {Kind: model.OpAveragePool2D, Prepare: preparePool, Eval: evalAveragePool},
	model.OpReshape:        {Kind: model.OpReshape, Prepare: prepareReshape, Eval: evalReshape},
	model.OpFullyConnected: {Kind: model.OpFullyConnected, Prepare: prepareFullyConnected, Eval: evalFullyConnected},
	model.OpSoftmax:        {Kind: model.OpSoftmax, Prepare: prepareSoftmax, Eval: evalSoftmax},
	model.OpRelu:           {Kind: model.OpRelu, Prepare: prepareRelu, Eval: evalRelu},
	model.OpLogistic:       {Kind: model.OpLogistic, Prepare: prepareLogistic, Eval: evalLogistic},
}

// Builtin returns the built-in kernel for kind.
func Builtin(kind model.OpKind) (Registration, bool) {
	r := builtins[kind]
	if r == nil {
		return Registration{}, false
	}
	return *r, true
}

// Registry is a fixed-capacity set of kernels. It is not safe for concurrent
// mutation; after Freeze it is read-only and may be shared.
type Registry struct {
	table    [256]*Registration
	capacity int
	count    int
	frozen   bool
}

// NewRegistry returns an empty registry that accepts up to capacity kinds.
func NewRegistry(capacity int) *Registry {
	return &Registry{capacity: capacity}
}

// Add registers reg. It fails when the registry is frozen or full, or when
// the kind is already present.
func (r *Registry) Add(reg Registration) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot add %s", ErrRegistryFrozen, reg.Kind)
	}
	if reg.Kind == model.OpInvalid || reg.Prepare == nil || reg.Eval == nil {
		return fmt.Errorf("kernels: incomplete registration for %s", reg.Kind)
	}
	if r.table[reg.Kind] != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateOp, reg.Kind)
	}
	if r.count >= r.capacity {
		return fmt.Errorf("%w: capacity %d, adding %s", ErrRegistryFull, r.capacity, reg.Kind)
	}
	r.table[reg.Kind] = &reg
	r.count++
	return nil
}

// AddBuiltin registers the package's kernel for kind.
func (r *Registry) AddBuiltin(kind model.OpKind) error {
	reg, ok := Builtin(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKernel, kind)
	}
	return r.Add(reg)
}

func (r *Registry) AddQuantize() error       { return r.AddBuiltin(model.OpQuantize) }
func (r *Registry) AddDequantize() error     { return r.AddBuiltin(model.OpDequantize) }
func (r *Registry) AddConv2D() error         { return r.AddBuiltin(model.OpConv2D) }
func (r *Registry) AddMaxPool2D() error      { return r.AddBuiltin(model.OpMaxPool2D) }
func (r *Registry) AddAveragePool2D() error  { return r.AddBuiltin(model.OpAveragePool2D) }
func (r *Registry) AddReshape() error        { return r.AddBuiltin(model.OpReshape) }
func (r *Registry) AddFullyConnected() error { return r.AddBuiltin(model.OpFullyConnected) }
func (r *Registry) AddSoftmax() error        { return r.AddBuiltin(model.OpSoftmax) }
func (r *Registry) AddRelu() error           { return r.AddBuiltin(model.OpRelu) }
func (r *Registry) AddLogistic() error       { return r.AddBuiltin(model.OpLogistic) }

// Freeze makes the registry read-only. It is idempotent.
func (r *Registry) Freeze() { r.frozen = true }

func (r *Registry) Frozen() bool { return r.frozen }

// Lookup returns the kernel registered for kind.
func (r *Registry) Lookup(kind model.OpKind) (*Registration, bool) {
	reg := r.table[kind]
	return reg, reg != nil
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return r.count }

func (r *Registry) Cap() int { return r.capacity }

// Kinds returns the registered kinds in opcode order.
func (r *Registry) Kinds() []model.OpKind {
	kinds := make([]model.OpKind, 0, r.count)
	for k, reg := range r.table {
		if reg != nil {
			kinds = append(kinds, model.OpKind(k))
		}
	}
	return kinds
}
