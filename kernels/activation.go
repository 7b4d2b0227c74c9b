package kernels

import (
	"math"

	"github.com/sbl8/edgeinfer/core"
)

// prepareRelu accepts float32, or int8 with identical input and output
// quantization.
func prepareRelu(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if !core.SameShape(in.Shape, out.Shape) || in.Type != out.Type {
		return n.unsupported("%s%v -> %s%v", in.Type, in.Shape, out.Type, out.Shape)
	}
	switch in.Type {
	case core.TypeFloat32:
	case core.TypeInt8:
		if !checkInt8Quant(in) || !checkInt8Quant(out) {
			return n.unsupported("int8 relu needs quantized input and output")
		}
		is, iz := in.Quant.Params()
		os, oz := out.Quant.Params()
		if is != os || iz != oz {
			return n.unsupported("int8 relu cannot requantize")
		}
		n.UserData = oz
	default:
		return n.unsupported("type %s", in.Type)
	}
	n.Cost = Cost{Ops: int64(in.ElementCount()), Bytes: bytesOf(in, out)}
	return nil
}

func evalRelu(n *Node) error {
	if n.Inputs[0].Type == core.TypeInt8 {
		zp := int8(n.UserData.(int32))
		out := n.Outputs[0].Int8s()
		for i, q := range n.Inputs[0].Int8s() {
			out[i] = max(q, zp)
		}
		return nil
	}
	out := n.Outputs[0].Float32s()
	for i, v := range n.Inputs[0].Float32s() {
		out[i] = max(v, 0)
	}
	return nil
}

func prepareLogistic(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if in.Type != core.TypeFloat32 || out.Type != core.TypeFloat32 {
		return n.unsupported("logistic supports float32 only, got %s -> %s", in.Type, out.Type)
	}
	if in.ElementCount() != out.ElementCount() {
		return n.unsupported("element count %d -> %d", in.ElementCount(), out.ElementCount())
	}
	n.Cost = Cost{Ops: 3 * int64(in.ElementCount()), Bytes: bytesOf(in, out)}
	return nil
}

func evalLogistic(n *Node) error {
	out := n.Outputs[0].Float32s()
	for i, v := range n.Inputs[0].Float32s() {
		out[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
	return nil
}
