package kernels

import (
	"math/rand"
	"testing"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

func randomInt8(rng *rand.Rand, t *core.Tensor) {
	for i := range t.Int8s() {
		t.Int8s()[i] = int8(rng.Intn(256) - 128)
	}
}

func benchNode(b *testing.B, kind model.OpKind, opts model.Options, inputs, outputs []*core.Tensor) {
	n, err := prepareNode(b, kind, opts, inputs, outputs)
	if err != nil {
		b.Fatal(err)
	}
	reg, _ := Builtin(kind)
	b.SetBytes(n.Cost.Bytes)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := reg.Eval(n); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark the first classifier convolution: 96x96x1 input, 8 filters.
func BenchmarkConv2D_Int8_96x96(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := newTensor(core.TypeInt8, []int{1, 96, 96, 1}, perTensor(1.0/128, 0))
	filter := newTensor(core.TypeInt8, []int{8, 3, 3, 1}, perTensor(1.0/64, 0))
	randomInt8(rng, in)
	randomInt8(rng, filter)
	bias := newTensor(core.TypeInt32, []int{8}, nil)
	out := newTensor(core.TypeInt8, []int{1, 96, 96, 8}, perTensor(1.0/32, 0))
	benchNode(b, model.OpConv2D, model.Options{Activation: model.ActRelu}, []*core.Tensor{in, filter, bias}, []*core.Tensor{out})
}

func BenchmarkConv2D_Float32_32x32(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := newTensor(core.TypeFloat32, []int{1, 32, 32, 4}, nil)
	copy(in.Float32s(), randomSlice(rng, in.ElementCount()))
	filter := newTensor(core.TypeFloat32, []int{8, 3, 3, 4}, nil)
	copy(filter.Float32s(), randomSlice(rng, filter.ElementCount()))
	out := newTensor(core.TypeFloat32, []int{1, 32, 32, 8}, nil)
	benchNode(b, model.OpConv2D, model.Options{}, []*core.Tensor{in, filter}, []*core.Tensor{out})
}

func BenchmarkMaxPool_Int8_96x96(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	q := perTensor(1.0/32, 0)
	in := newTensor(core.TypeInt8, []int{1, 96, 96, 8}, q)
	randomInt8(rng, in)
	out := newTensor(core.TypeInt8, []int{1, 48, 48, 8}, q)
	opts := model.Options{FilterW: 2, FilterH: 2, StrideW: 2, StrideH: 2}
	benchNode(b, model.OpMaxPool2D, opts, []*core.Tensor{in}, []*core.Tensor{out})
}

func BenchmarkFullyConnected_Int8_18432x2(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := newTensor(core.TypeInt8, []int{1, 18432}, perTensor(1.0/32, 0))
	w := newTensor(core.TypeInt8, []int{2, 18432}, perTensor(1.0/128, 0))
	randomInt8(rng, in)
	randomInt8(rng, w)
	out := newTensor(core.TypeInt8, []int{1, 2}, perTensor(0.25, 0))
	benchNode(b, model.OpFullyConnected, model.Options{}, []*core.Tensor{in, w}, []*core.Tensor{out})
}

func BenchmarkSoftmax_Int8(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := newTensor(core.TypeInt8, []int{1, 1000}, perTensor(0.1, 0))
	randomInt8(rng, in)
	out := newTensor(core.TypeInt8, []int{1, 1000}, perTensor(1.0/256, -128))
	benchNode(b, model.OpSoftmax, model.Options{}, []*core.Tensor{in}, []*core.Tensor{out})
}

func BenchmarkQuantize_9216(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	in := newTensor(core.TypeFloat32, []int{1, 96, 96, 1}, nil)
	copy(in.Float32s(), randomSlice(rng, in.ElementCount()))
	out := newTensor(core.TypeInt8, []int{1, 96, 96, 1}, perTensor(1.0/128, 0))
	benchNode(b, model.OpQuantize, model.Options{}, []*core.Tensor{in}, []*core.Tensor{out})
}

func BenchmarkDotInt8_1K(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x := make([]int8, 1024)
	y := make([]int8, 1024)
	for i := range x {
		x[i], y[i] = int8(rng.Intn(256)-128), int8(rng.Intn(256)-128)
	}
	b.ResetTimer()
	var sink int32
	for i := 0; i < b.N; i++ {
		sink += dotInt8(x, y, 3)
	}
	_ = sink
}
