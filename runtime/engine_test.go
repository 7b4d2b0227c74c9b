package runtime

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/kernels"
	"github.com/sbl8/edgeinfer/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scoreModel builds float input [1,4] -> quantize -> fully connected ->
// softmax -> dequantize -> float scores [1,2].
func scoreModel(t testing.TB) *model.Model {
	t.Helper()
	b := model.NewBuilder().SetDescription("scores")
	half := &core.Quantization{Scale: []float32{0.5}, ZeroPoint: []int32{0}}
	prob := &core.Quantization{Scale: []float32{1.0 / 256}, ZeroPoint: []int32{-128}}
	in := b.AddTensor("input", core.TypeFloat32, []int{1, 4}, nil, nil)
	qin := b.AddTensor("input_q", core.TypeInt8, []int{1, 4}, half, nil)
	w := b.AddTensor("weights", core.TypeInt8, []int{2, 4}, half, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	logits := b.AddTensor("logits", core.TypeInt8, []int{1, 2}, half, nil)
	probs := b.AddTensor("probs", core.TypeInt8, []int{1, 2}, prob, nil)
	out := b.AddTensor("scores", core.TypeFloat32, []int{1, 2}, nil, nil)
	b.AddOperator(model.OpQuantize, []int{in}, []int{qin}, model.Options{})
	b.AddOperator(model.OpFullyConnected, []int{qin, w, model.OptionalInput}, []int{logits}, model.Options{})
	b.AddOperator(model.OpSoftmax, []int{logits}, []int{probs}, model.Options{Beta: 1})
	b.AddOperator(model.OpDequantize, []int{probs}, []int{out}, model.Options{})
	b.SetInputs(in).SetOutputs(out)

	data, err := b.Bytes()
	if err != nil {
		t.Fatalf("encode model: %v", err)
	}
	m, err := model.Load(data)
	if err != nil {
		t.Fatalf("load model: %v", err)
	}
	return m
}

func scoreRegistry(t testing.TB) *kernels.Registry {
	t.Helper()
	reg := kernels.NewRegistry(4)
	for _, add := range []func() error{reg.AddQuantize, reg.AddFullyConnected, reg.AddSoftmax, reg.AddDequantize} {
		if err := add(); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

func newTestEngine(t testing.TB, m *model.Model, reg *kernels.Registry, arenaSize int) *Engine {
	t.Helper()
	arena, err := NewArena(NewHeapPool("test", 1<<20), arenaSize)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	e, err := NewEngine(m, reg, arena, WithLogger(discard))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func readyEngine(t testing.TB) (*Engine, *Tensor, *Tensor) {
	t.Helper()
	e := newTestEngine(t, scoreModel(t), scoreRegistry(t), 4096)
	if err := e.AllocateTensors(); err != nil {
		t.Fatalf("AllocateTensors: %v", err)
	}
	in, err := e.Input(0)
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	out, err := e.Output(0)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	return e, in, out
}

func TestEngineLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, scoreModel(t), scoreRegistry(t), 4096)
	if e.State() != StateBuilt {
		t.Fatalf("state after NewEngine = %s", e.State())
	}
	if err := e.Invoke(); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Invoke before allocation: got %v, want ErrNotAllocated", err)
	}
	if _, err := e.Input(0); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Input before allocation: got %v, want ErrNotAllocated", err)
	}

	if err := e.AllocateTensors(); err != nil {
		t.Fatalf("AllocateTensors: %v", err)
	}
	if e.State() != StateTensorsAllocated {
		t.Fatalf("state after allocation = %s", e.State())
	}
	if _, err := e.Input(0); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if e.State() != StateTensorsAllocated {
		t.Errorf("state with only an input handle = %s", e.State())
	}
	if _, err := e.Output(0); err != nil {
		t.Fatalf("Output: %v", err)
	}
	if e.State() != StateReady {
		t.Errorf("state with both handles = %s, want ready", e.State())
	}
	if _, err := e.Input(1); err == nil {
		t.Error("out of range input accepted")
	}
}

func TestEngineInvoke(t *testing.T) {
	t.Parallel()
	e, in, out := readyEngine(t)
	if in.Type() != core.TypeFloat32 || in.ElementCount() != 4 {
		t.Fatalf("input %s with %d elements", in.Type(), in.ElementCount())
	}
	copy(in.Float32s(), []float32{1, 2, 3, 4})
	if err := e.Invoke(); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	scores := out.Float32s()
	if len(scores) != 2 {
		t.Fatalf("got %d scores", len(scores))
	}
	// logits 15 and 35: the second class takes all the mass
	if scores[1] < 0.95 || scores[0] > 0.05 {
		t.Errorf("scores = %v, want second class dominant", scores)
	}
	if sum := scores[0] + scores[1]; math.Abs(float64(sum)-1) > 0.02 {
		t.Errorf("scores sum to %v", sum)
	}

	stats := e.Stats()
	if stats.Invocations != 1 || stats.Failures != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEngineInvokeDeterministic(t *testing.T) {
	t.Parallel()
	e, in, out := readyEngine(t)
	for i := range in.ElementCount() {
		in.SetFloat32At(i, float32(i)*0.75-1)
	}
	if err := e.Invoke(); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	want := append([]byte(nil), out.Bytes()...)
	for range 10 {
		if err := e.Invoke(); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		if diff := cmp.Diff(want, out.Bytes()); diff != "" {
			t.Fatalf("output changed between invocations (-want +got):\n%s", diff)
		}
	}
}

func TestEngineReallocate(t *testing.T) {
	t.Parallel()
	e, in, _ := readyEngine(t)
	layout := e.Layout()
	planned := e.PlannedBytes()

	if err := e.AllocateTensors(); err != nil {
		t.Fatalf("second AllocateTensors: %v", err)
	}
	if diff := cmp.Diff(layout, e.Layout()); diff != "" {
		t.Errorf("layout changed (-first +second):\n%s", diff)
	}
	if e.PlannedBytes() != planned {
		t.Errorf("planned bytes %d, then %d", planned, e.PlannedBytes())
	}
	if !in.Stale() {
		t.Error("handle from first allocation is not stale")
	}
	if in.Float32s() != nil || in.Bytes() != nil {
		t.Error("stale handle still exposes data")
	}
	if e.State() != StateTensorsAllocated {
		t.Errorf("state after reallocation = %s", e.State())
	}
	fresh, err := e.Input(0)
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	if fresh.Stale() {
		t.Error("fresh handle is stale")
	}
	fresh.SetFloat32At(0, 3)
	in.SetFloat32At(0, 7)
	if got := fresh.Float32At(0); got != 3 {
		t.Errorf("write through stale handle reached the arena: fresh reads %g", got)
	}
	if got := in.Float32At(0); got != 0 {
		t.Errorf("stale handle reads %g, want 0", got)
	}
}

func TestEngineLayout(t *testing.T) {
	t.Parallel()
	e, _, _ := readyEngine(t)
	if e.WeightBytes() != 16 {
		t.Errorf("weight bytes = %d, want 16", e.WeightBytes())
	}
	var sawScratch bool
	for _, p := range e.Layout() {
		if p.Offset%core.TensorAlign != 0 {
			t.Errorf("%s at unaligned offset %d", p.Name, p.Offset)
		}
		switch p.Region {
		case RegionWeights:
			if p.Name != "weights" {
				t.Errorf("%s placed in weights region", p.Name)
			}
		case RegionPlanned:
			if p.Offset+p.Size > e.PlannedBytes() {
				t.Errorf("%s overruns planned region", p.Name)
			}
			if p.Op == 2 {
				sawScratch = true
			}
		default:
			t.Errorf("%s in region %s", p.Name, p.Region)
		}
	}
	if !sawScratch {
		t.Error("softmax scratch was not planned")
	}
	if used := e.Arena().UsedSize(); used != e.WeightBytes()+e.PlannedBytes() {
		t.Errorf("arena used %d, want %d", used, e.WeightBytes()+e.PlannedBytes())
	}
	if len(e.Costs()) != 4 || e.Costs()[1].Ops != 16 {
		t.Errorf("costs = %+v", e.Costs())
	}
}

func TestEngineMissingOperator(t *testing.T) {
	t.Parallel()
	reg := kernels.NewRegistry(2)
	if err := reg.AddQuantize(); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddFullyConnected(); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, scoreModel(t), reg, 4096)

	err := e.AllocateTensors()
	if !errors.Is(err, ErrMissingOperator) {
		t.Fatalf("got %v, want ErrMissingOperator", err)
	}
	if e.State() != StateFaulted {
		t.Errorf("state = %s, want faulted", e.State())
	}
	if _, err := e.Input(0); !errors.Is(err, ErrMissingOperator) {
		t.Errorf("Input on faulted engine: %v", err)
	}
	if err := e.Invoke(); !errors.Is(err, ErrMissingOperator) {
		t.Errorf("Invoke on faulted engine: %v", err)
	}
	if err := e.AllocateTensors(); !errors.Is(err, ErrMissingOperator) {
		t.Errorf("faulted engine reallocated: %v", err)
	}
}

func TestEngineArenaTooSmall(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, scoreModel(t), scoreRegistry(t), 64)
	if err := e.AllocateTensors(); !errors.Is(err, ErrArenaExhausted) {
		t.Fatalf("got %v, want ErrArenaExhausted", err)
	}
	if e.State() != StateFaulted || !errors.Is(e.Err(), ErrArenaExhausted) {
		t.Errorf("state %s, err %v", e.State(), e.Err())
	}
	if h, err := e.Output(0); h != nil || err == nil {
		t.Error("faulted engine handed out an output handle")
	}
}

func TestEngineKernelFailure(t *testing.T) {
	t.Parallel()
	errBoom := errors.New("boom")
	reg := kernels.NewRegistry(4)
	for _, add := range []func() error{reg.AddQuantize, reg.AddFullyConnected, reg.AddSoftmax} {
		if err := add(); err != nil {
			t.Fatal(err)
		}
	}
	err := reg.Add(kernels.Registration{
		Kind:    model.OpDequantize,
		Prepare: func(*kernels.Node) error { return nil },
		Eval:    func(*kernels.Node) error { return errBoom },
	})
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, scoreModel(t), reg, 4096)
	if err := e.AllocateTensors(); err != nil {
		t.Fatalf("AllocateTensors: %v", err)
	}

	err = e.Invoke()
	var ie *InvokeError
	if !errors.As(err, &ie) {
		t.Fatalf("got %v, want *InvokeError", err)
	}
	if ie.Index != 3 || ie.Kind != model.OpDequantize || !errors.Is(err, errBoom) {
		t.Errorf("invoke error = %v", ie)
	}
	if e.State() == StateFaulted {
		t.Error("kernel failure faulted the engine")
	}
	if s := e.Stats(); s.Invocations != 1 || s.Failures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestEnginePrepareFailureFaults(t *testing.T) {
	t.Parallel()
	b := model.NewBuilder()
	in := b.AddTensor("in", core.TypeFloat32, []int{1, 4}, nil, nil)
	out := b.AddTensor("out", core.TypeFloat32, []int{1, 3}, nil, nil)
	b.AddOperator(model.OpReshape, []int{in}, []int{out}, model.Options{})
	b.SetInputs(in).SetOutputs(out)
	data, err := b.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	m, err := model.Load(data)
	if err != nil {
		t.Fatal(err)
	}
	reg := kernels.NewRegistry(1)
	if err := reg.AddReshape(); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t, m, reg, 1024)
	if err := e.AllocateTensors(); !errors.Is(err, kernels.ErrUnsupported) {
		t.Fatalf("got %v, want ErrUnsupported", err)
	}
	if e.State() != StateFaulted {
		t.Errorf("state = %s", e.State())
	}
}

func TestEngineArenaClaimedOnce(t *testing.T) {
	t.Parallel()
	m := scoreModel(t)
	arena, err := NewArena(NewHeapPool("test", 8192), 4096)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(m, scoreRegistry(t), arena, WithLogger(discard)); err != nil {
		t.Fatalf("first engine: %v", err)
	}
	if _, err := NewEngine(m, scoreRegistry(t), arena, WithLogger(discard)); err == nil {
		t.Error("second engine claimed the same arena")
	}
	if _, err := NewEngine(nil, scoreRegistry(t), arena); err == nil {
		t.Error("nil model accepted")
	}
}

func TestEngineFreezesRegistry(t *testing.T) {
	t.Parallel()
	reg := scoreRegistry(t)
	newTestEngine(t, scoreModel(t), reg, 4096)
	if !reg.Frozen() {
		t.Fatal("registry not frozen")
	}
	if err := reg.AddReshape(); !errors.Is(err, kernels.ErrRegistryFrozen) {
		t.Errorf("add after freeze: %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateUnbuilt:          "unbuilt",
		StateBuilt:            "built",
		StateTensorsAllocated: "tensors-allocated",
		StateReady:            "ready",
		StateFaulted:          "faulted",
		State(42):             "state(42)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func BenchmarkEngineInvoke(b *testing.B) {
	e, in, _ := readyEngine(b)
	copy(in.Float32s(), []float32{1, -2, 3, -4})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Invoke(); err != nil {
			b.Fatal(err)
		}
	}
}
