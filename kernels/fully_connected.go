package kernels

import (
	"github.com/sbl8/edgeinfer/core"
)

type fcData struct {
	batches, depth, units int
	rq                    requantizer
	actLo, actHi          float32
}

// Inputs: input (any shape, batches*depth elements), weights [units, depth],
// optional bias [units]. Output holds batches*units elements.
func prepareFullyConnected(n *Node) error {
	in, out, err := n.requireIO(2)
	if err != nil {
		return err
	}
	weights, bias := n.Inputs[1], n.Input(2)
	if len(weights.Shape) != 2 {
		return n.unsupported("weights must be rank 2, got %v", weights.Shape)
	}
	if weights.Data == nil {
		return n.unsupported("weights must be constant")
	}
	d := &fcData{units: weights.Shape[0], depth: weights.Shape[1]}
	if in.ElementCount()%d.depth != 0 {
		return n.unsupported("input of %d elements is not a multiple of depth %d", in.ElementCount(), d.depth)
	}
	d.batches = in.ElementCount() / d.depth
	if out.ElementCount() != d.batches*d.units {
		return n.unsupported("output has %d elements, want %d", out.ElementCount(), d.batches*d.units)
	}
	if bias != nil && bias.ElementCount() != d.units {
		return n.unsupported("bias has %d elements for %d units", bias.ElementCount(), d.units)
	}

	act := n.Op.Options.Activation
	switch in.Type {
	case core.TypeInt8:
		if !checkInt8Quant(in) || !checkInt8Quant(weights) || !checkInt8Quant(out) {
			return n.unsupported("int8 fully connected needs quantized input, weights and output")
		}
		if weights.Quant.PerChannel() && len(weights.Quant.Scale) != d.units {
			return n.unsupported("weights have %d scales for %d units", len(weights.Quant.Scale), d.units)
		}
		if bias != nil && bias.Type != core.TypeInt32 {
			return n.unsupported("int8 fully connected needs int32 bias, got %s", bias.Type)
		}
		d.rq = newRequantizer(in, weights, out, d.units, act)
	case core.TypeFloat32:
		if weights.Type != core.TypeFloat32 || out.Type != core.TypeFloat32 {
			return n.unsupported("float fully connected needs float32 weights and output")
		}
		if bias != nil && bias.Type != core.TypeFloat32 {
			return n.unsupported("float fully connected needs float32 bias, got %s", bias.Type)
		}
		d.actLo, d.actHi = activationRangeFloat(act)
	default:
		return n.unsupported("input type %s", in.Type)
	}

	n.UserData = d
	n.Cost = Cost{
		Ops:   2 * int64(d.batches) * int64(d.units) * int64(d.depth),
		Bytes: bytesOf(in, weights, bias, out),
	}
	return nil
}

func evalFullyConnected(n *Node) error {
	d := n.UserData.(*fcData)
	if n.Inputs[0].Type == core.TypeInt8 {
		in, w, out := n.Inputs[0].Int8s(), n.Inputs[1].Int8s(), n.Outputs[0].Int8s()
		var bias []int32
		if b := n.Input(2); b != nil {
			bias = b.Int32s()
		}
		for b := 0; b < d.batches; b++ {
			row := in[b*d.depth : (b+1)*d.depth]
			for u := 0; u < d.units; u++ {
				acc := dotInt8(row, w[u*d.depth:(u+1)*d.depth], d.rq.inputOffset)
				if bias != nil {
					acc += bias[u]
				}
				out[b*d.units+u] = d.rq.apply(acc, u)
			}
		}
		return nil
	}

	in, w, out := n.Inputs[0].Float32s(), n.Inputs[1].Float32s(), n.Outputs[0].Float32s()
	var bias []float32
	if b := n.Input(2); b != nil {
		bias = b.Float32s()
	}
	for b := 0; b < d.batches; b++ {
		row := in[b*d.depth : (b+1)*d.depth]
		for u := 0; u < d.units; u++ {
			acc := dotFloat32(row, w[u*d.depth:(u+1)*d.depth])
			if bias != nil {
				acc += bias[u]
			}
			out[b*d.units+u] = clampFloat(acc, d.actLo, d.actHi)
		}
	}
	return nil
}
