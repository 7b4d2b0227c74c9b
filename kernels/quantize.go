package kernels

import (
	"github.com/x448/float16"

	"github.com/sbl8/edgeinfer/core"
)

type affine struct {
	scale float32
	zp    int32
}

func prepareQuantize(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if in.Type != core.TypeFloat32 && in.Type != core.TypeFloat16 {
		return n.unsupported("input type %s", in.Type)
	}
	if !checkInt8Quant(out) || out.Quant.PerChannel() {
		return n.unsupported("output must be per-tensor int8, got %s", out.Type)
	}
	if in.ElementCount() != out.ElementCount() {
		return n.unsupported("element count %d -> %d", in.ElementCount(), out.ElementCount())
	}
	scale, zp := out.Quant.Params()
	n.UserData = affine{scale: scale, zp: zp}
	n.Cost = Cost{Ops: 2 * int64(in.ElementCount()), Bytes: bytesOf(in, out)}
	return nil
}

func evalQuantize(n *Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	p := n.UserData.(affine)
	inv := 1 / float64(p.scale)
	dst := out.Int8s()
	switch in.Type {
	case core.TypeFloat32:
		for i, v := range in.Float32s() {
			dst[i] = core.QuantizeScaled(float64(v)*inv, p.zp)
		}
	case core.TypeFloat16:
		for i, v := range in.Float16s() {
			dst[i] = core.QuantizeScaled(float64(v.Float32())*inv, p.zp)
		}
	}
	return nil
}

func prepareDequantize(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if !checkInt8Quant(in) || in.Quant.PerChannel() {
		return n.unsupported("input must be per-tensor int8, got %s", in.Type)
	}
	if out.Type != core.TypeFloat32 && out.Type != core.TypeFloat16 {
		return n.unsupported("output type %s", out.Type)
	}
	if in.ElementCount() != out.ElementCount() {
		return n.unsupported("element count %d -> %d", in.ElementCount(), out.ElementCount())
	}
	scale, zp := in.Quant.Params()
	n.UserData = affine{scale: scale, zp: zp}
	n.Cost = Cost{Ops: 2 * int64(in.ElementCount()), Bytes: bytesOf(in, out)}
	return nil
}

func evalDequantize(n *Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	p := n.UserData.(affine)
	src := in.Int8s()
	switch out.Type {
	case core.TypeFloat32:
		dst := out.Float32s()
		for i, q := range src {
			dst[i] = core.DequantizeValue(q, p.scale, p.zp)
		}
	case core.TypeFloat16:
		dst := out.Float16s()
		for i, q := range src {
			dst[i] = float16.Fromfloat32(core.DequantizeValue(q, p.scale, p.zp))
		}
	}
	return nil
}
