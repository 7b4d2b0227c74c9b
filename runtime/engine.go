// Package runtime executes a loaded edgeinfer model inside a fixed arena.
//
// An Engine binds one model, one frozen operator registry and one arena.
// AllocateTensors plans the arena once: constant tensors are copied into the
// Weights region and every activation and kernel scratch buffer is packed
// into the Planned region by lifetime. Invoke then runs the operators in
// model order on the calling goroutine without allocating.
//
// Engine lifecycle:
//
//	Unbuilt -> Built -> TensorsAllocated -> Ready
//	                 \________________________\-> Faulted
//
// Ready is reached once an input and an output handle have been taken.
// Allocation failures are terminal (Faulted); kernel failures during Invoke
// are reported per call and leave the engine usable.
//
// Engines, arenas and handles are not safe for concurrent use. One goroutine
// owns the engine for its whole life.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/kernels"
	"github.com/sbl8/edgeinfer/logutil"
	"github.com/sbl8/edgeinfer/model"
	"github.com/sbl8/edgeinfer/profiling"
)

// State is the engine lifecycle state.
type State int

const (
	StateUnbuilt State = iota
	StateBuilt
	StateTensorsAllocated
	StateReady
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilt:
		return "built"
	case StateTensorsAllocated:
		return "tensors-allocated"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrMissingOperator = errors.New("runtime: operator not registered")
	ErrNotAllocated    = errors.New("runtime: tensors not allocated")
)

// InvokeError reports the operator that failed during Invoke.
type InvokeError struct {
	Index int
	Kind  model.OpKind
	Err   error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("runtime: operator %d (%s) failed: %v", e.Index, e.Kind, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// Placement records where one buffer lives in the arena.
type Placement struct {
	Tensor int // model tensor index, or -1 for kernel scratch
	Op     int // operator index for scratch, -1 otherwise
	Name   string
	Region string
	Offset int // relative to the region
	Size   int
}

// ExecutionStats tracks invocation counts and latency.
type ExecutionStats struct {
	Invocations    int64
	Failures       int64
	LastLatency    time.Duration
	AverageLatency time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProfiler attaches per-operator counters. It has no effect in builds
// without the profile tag.
func WithProfiler(c *profiling.Counters) Option {
	return func(e *Engine) { e.prof = c }
}

// WithAlignment sets the alignment of planned buffers. Values below
// core.TensorAlign or not a power of two are ignored.
func WithAlignment(n int) Option {
	return func(e *Engine) {
		if n >= core.TensorAlign && n&(n-1) == 0 {
			e.align = n
		}
	}
}

// Engine runs one model in one arena.
type Engine struct {
	model    *model.Model
	registry *kernels.Registry
	arena    *Arena
	logger   *slog.Logger
	prof     *profiling.Counters
	align    int

	state      State
	fault      error
	generation uint64

	tensors      []core.Tensor
	nodes        []kernels.Node
	evals        []kernels.EvalFn
	placements   []Placement
	weightBytes  int
	plannedBytes int

	inputTaken  bool
	outputTaken bool

	stats ExecutionStats
}

// NewEngine binds m, reg and arena. The registry is frozen and the arena is
// claimed; an arena can back only one engine.
func NewEngine(m *model.Model, reg *kernels.Registry, arena *Arena, opts ...Option) (*Engine, error) {
	if m == nil || reg == nil || arena == nil {
		return nil, errors.New("runtime: model, registry and arena are required")
	}
	if err := arena.claim(); err != nil {
		return nil, err
	}
	reg.Freeze()

	e := &Engine{
		model:    m,
		registry: reg,
		arena:    arena,
		logger:   slog.Default(),
		align:    core.TensorAlign,
		state:    StateBuilt,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger.Debug("engine built", "operators", len(m.Operators()), "tensors", m.TensorCount(),
		"arena", arena.TotalSize(), "pool", arena.PoolName())
	return e, nil
}

func (e *Engine) State() State { return e.state }

// Err returns the fault that moved the engine to StateFaulted.
func (e *Engine) Err() error { return e.fault }

func (e *Engine) Model() *model.Model { return e.model }

func (e *Engine) Arena() *Arena { return e.arena }

// PlannedBytes returns the size of the planned region from the latest
// allocation.
func (e *Engine) PlannedBytes() int { return e.plannedBytes }

// WeightBytes returns the size of the constant data copied into the arena.
func (e *Engine) WeightBytes() int { return e.weightBytes }

// Layout returns the arena placement of every buffer from the latest
// allocation.
func (e *Engine) Layout() []Placement {
	return append([]Placement(nil), e.placements...)
}

func (e *Engine) Stats() ExecutionStats { return e.stats }

func (e *Engine) faultf(err error) error {
	e.state = StateFaulted
	e.fault = err
	e.logger.Error("engine faulted", "error", err)
	return err
}

// AllocateTensors resolves every operator, prepares the kernels and plans the
// arena. It may be repeated; the layout is identical each time and handles
// from earlier allocations become stale.
func (e *Engine) AllocateTensors() error {
	switch e.state {
	case StateFaulted:
		return e.fault
	case StateUnbuilt:
		return errors.New("runtime: engine not built")
	}

	e.generation++
	e.state = StateBuilt
	e.inputTaken, e.outputTaken = false, false

	ops := e.model.Operators()
	evals := make([]kernels.EvalFn, len(ops))
	prepares := make([]kernels.PrepareFn, len(ops))
	for i := range ops {
		reg, ok := e.registry.Lookup(ops[i].Kind)
		if !ok {
			return e.faultf(fmt.Errorf("%w: %s (operator %d)", ErrMissingOperator, ops[i].Kind, i))
		}
		evals[i], prepares[i] = reg.Eval, reg.Prepare
	}

	e.tensors = make([]core.Tensor, e.model.TensorCount())
	for i := range e.tensors {
		info := e.model.Tensor(i)
		e.tensors[i] = core.Tensor{Name: info.Name, Type: info.Type, Shape: info.Shape, Quant: info.Quant}
	}
	if err := e.placeWeights(); err != nil {
		return e.faultf(err)
	}

	e.nodes = make([]kernels.Node, len(ops))
	for i := range ops {
		n := &e.nodes[i]
		n.Op = &ops[i]
		n.Index = i
		n.Inputs = e.bind(ops[i].Inputs)
		n.Outputs = e.bind(ops[i].Outputs)
		if err := prepares[i](n); err != nil {
			return e.faultf(fmt.Errorf("runtime: prepare operator %d (%s): %w", i, ops[i].Kind, err))
		}
	}
	e.evals = evals

	if err := e.planActivations(); err != nil {
		return e.faultf(err)
	}

	e.state = StateTensorsAllocated
	e.logger.Info("tensors allocated",
		"weights", e.weightBytes,
		"planned", e.plannedBytes,
		"arena", e.arena.TotalSize(),
		"free", e.arena.RemainingSize())
	return nil
}

func (e *Engine) bind(idx []int) []*core.Tensor {
	out := make([]*core.Tensor, len(idx))
	for j, t := range idx {
		if t != model.OptionalInput {
			out[j] = &e.tensors[t]
		}
	}
	return out
}

// placeWeights copies constant tensors into the Weights region in tensor
// order.
func (e *Engine) placeWeights() error {
	e.placements = e.placements[:0]
	offsets := make([]int, e.model.TensorCount())
	total := 0
	for i := range e.tensors {
		info := e.model.Tensor(i)
		if !info.IsConstant() {
			continue
		}
		offsets[i] = total
		total = core.AlignUp(total+info.ByteSize(), e.align)
	}
	if err := e.arena.layout(total, 0); err != nil {
		return err
	}
	e.weightBytes = total

	for i := range e.tensors {
		info := e.model.Tensor(i)
		if !info.IsConstant() {
			continue
		}
		size := info.ByteSize()
		data := e.arena.slice(RegionWeights, offsets[i], size)
		copy(data, e.model.Buffer(info.Buffer))
		e.tensors[i].Data = data
		e.placements = append(e.placements, Placement{
			Tensor: i, Op: -1, Name: info.Name, Region: RegionWeights, Offset: offsets[i], Size: size,
		})
	}
	return nil
}

// planActivations packs non-constant tensors and kernel scratch into the
// Planned region. Graph inputs and outputs live for the whole invocation.
func (e *Engine) planActivations() error {
	const unused = -1
	numOps := len(e.nodes)
	first := make([]int, len(e.tensors))
	last := make([]int, len(e.tensors))
	for i := range first {
		first[i], last[i] = unused, unused
	}
	touch := func(t, op int) {
		if first[t] == unused {
			first[t] = op
		}
		last[t] = max(last[t], op)
	}
	for i, op := range e.model.Operators() {
		for _, t := range op.Inputs {
			if t != model.OptionalInput {
				touch(t, i)
			}
		}
		for _, t := range op.Outputs {
			touch(t, i)
		}
	}
	for _, group := range [][]int{e.model.Inputs(), e.model.Outputs()} {
		for _, t := range group {
			first[t], last[t] = 0, numOps-1
		}
	}

	var reqs []bufferRequest
	for i := range e.tensors {
		if e.model.Tensor(i).IsConstant() || first[i] == unused {
			continue
		}
		reqs = append(reqs, bufferRequest{id: i, size: e.tensors[i].ByteSize(), first: first[i], last: last[i]})
	}
	for i := range e.nodes {
		if s := e.nodes[i].ScratchSize; s > 0 {
			reqs = append(reqs, bufferRequest{id: len(e.tensors) + i, size: s, first: i, last: i})
		}
	}

	offsets, total := planBuffers(reqs, e.align)
	if err := e.arena.layout(e.weightBytes, total); err != nil {
		return err
	}
	e.plannedBytes = core.AlignUp(total, core.TensorAlign)
	if err := e.arena.ZeroRegion(RegionPlanned); err != nil {
		return err
	}

	for k, r := range reqs {
		data := e.arena.slice(RegionPlanned, offsets[k], r.size)
		p := Placement{Region: RegionPlanned, Offset: offsets[k], Size: r.size}
		if r.id < len(e.tensors) {
			e.tensors[r.id].Data = data
			p.Tensor, p.Op, p.Name = r.id, -1, e.tensors[r.id].Name
		} else {
			op := r.id - len(e.tensors)
			e.nodes[op].Scratch = data
			p.Tensor, p.Op, p.Name = -1, op, fmt.Sprintf("scratch/%d", op)
		}
		e.placements = append(e.placements, p)
		logutil.Trace(e.logger, "planned buffer", "name", p.Name, "offset", p.Offset, "size", p.Size)
	}
	return nil
}

func (e *Engine) handle(group []int, i int, kind string) (*Tensor, error) {
	switch e.state {
	case StateFaulted:
		return nil, e.fault
	case StateTensorsAllocated, StateReady:
	default:
		return nil, ErrNotAllocated
	}
	if i < 0 || i >= len(group) {
		return nil, fmt.Errorf("runtime: %s %d out of range (have %d)", kind, i, len(group))
	}
	idx := group[i]
	return &Tensor{engine: e, t: &e.tensors[idx], index: idx, generation: e.generation}, nil
}

// Input returns a handle to graph input i.
func (e *Engine) Input(i int) (*Tensor, error) {
	h, err := e.handle(e.model.Inputs(), i, "input")
	if err != nil {
		return nil, err
	}
	e.inputTaken = true
	e.markReady()
	return h, nil
}

// Output returns a handle to graph output i.
func (e *Engine) Output(i int) (*Tensor, error) {
	h, err := e.handle(e.model.Outputs(), i, "output")
	if err != nil {
		return nil, err
	}
	e.outputTaken = true
	e.markReady()
	return h, nil
}

func (e *Engine) markReady() {
	if e.state == StateTensorsAllocated && e.inputTaken && e.outputTaken {
		e.state = StateReady
		e.logger.Debug("engine ready")
	}
}

func (e *Engine) InputCount() int { return len(e.model.Inputs()) }

func (e *Engine) OutputCount() int { return len(e.model.Outputs()) }

// Invoke runs one forward pass. A kernel failure returns *InvokeError and
// leaves the engine in its current state.
func (e *Engine) Invoke() error {
	switch e.state {
	case StateFaulted:
		return e.fault
	case StateTensorsAllocated, StateReady:
	default:
		return ErrNotAllocated
	}

	start := time.Now()
	err := e.prof.Measure(e.run)
	e.updateStats(time.Since(start), err)
	return err
}

func (e *Engine) run() error {
	for i := range e.nodes {
		n := &e.nodes[i]
		var start time.Time
		if profiling.Enabled {
			start = time.Now()
		}
		if err := e.evals[i](n); err != nil {
			return &InvokeError{Index: i, Kind: n.Op.Kind, Err: err}
		}
		if profiling.Enabled {
			e.prof.Record(n.Op.Kind, time.Since(start), n.Cost.Ops, n.Cost.Bytes)
		}
	}
	return nil
}

func (e *Engine) updateStats(d time.Duration, err error) {
	e.stats.Invocations++
	if err != nil {
		e.stats.Failures++
	}
	e.stats.LastLatency = d
	n := e.stats.Invocations
	e.stats.AverageLatency = time.Duration((int64(e.stats.AverageLatency)*(n-1) + int64(d)) / n)
}

// Costs returns the static cost estimate of every operator, in model order.
func (e *Engine) Costs() []kernels.Cost {
	out := make([]kernels.Cost, len(e.nodes))
	for i := range e.nodes {
		out[i] = e.nodes[i].Cost
	}
	return out
}
