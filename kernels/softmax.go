package kernels

import (
	"fmt"
	"math"

	"github.com/sbl8/edgeinfer/core"
)

type softmaxData struct {
	rows, depth int
	beta        float32
	in, out     affine
}

// prepareSoftmax normalizes along the last dimension. Beta defaults to 1.
// The int8 variant stages exponentials in scratch.
func prepareSoftmax(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if !core.SameShape(in.Shape, out.Shape) || in.Type != out.Type {
		return n.unsupported("%s%v -> %s%v", in.Type, in.Shape, out.Type, out.Shape)
	}
	depth := in.Dim(-1)
	if depth <= 0 {
		return n.unsupported("empty last dimension")
	}
	d := &softmaxData{depth: depth, rows: in.ElementCount() / depth, beta: n.Op.Options.Beta}
	if d.beta == 0 {
		d.beta = 1
	}

	switch in.Type {
	case core.TypeFloat32:
	case core.TypeInt8:
		if !checkInt8Quant(in) || !checkInt8Quant(out) {
			return n.unsupported("int8 softmax needs quantized input and output")
		}
		d.in.scale, d.in.zp = in.Quant.Params()
		d.out.scale, d.out.zp = out.Quant.Params()
		n.ScratchSize = depth * 4
	default:
		return n.unsupported("type %s", in.Type)
	}

	n.UserData = d
	n.Cost = Cost{Ops: 4 * int64(in.ElementCount()), Bytes: bytesOf(in, out)}
	return nil
}

func evalSoftmax(n *Node) error {
	d := n.UserData.(*softmaxData)
	if n.Inputs[0].Type == core.TypeFloat32 {
		in, out := n.Inputs[0].Float32s(), n.Outputs[0].Float32s()
		for r := 0; r < d.rows; r++ {
			softmaxRow(in[r*d.depth:(r+1)*d.depth], out[r*d.depth:(r+1)*d.depth], d.beta)
		}
		return nil
	}

	in, out := n.Inputs[0].Int8s(), n.Outputs[0].Int8s()
	exps := scratchFloat32s(n.Scratch, d.depth)
	if exps == nil {
		return fmt.Errorf("softmax #%d: scratch of %d bytes not assigned", n.Index, n.ScratchSize)
	}
	for r := 0; r < d.rows; r++ {
		row := in[r*d.depth : (r+1)*d.depth]
		for i, q := range row {
			exps[i] = core.DequantizeValue(q, d.in.scale, d.in.zp)
		}
		softmaxRow(exps, exps, d.beta)
		dst := out[r*d.depth : (r+1)*d.depth]
		for i, p := range exps {
			dst[i] = core.QuantizeValue(p, d.out.scale, d.out.zp)
		}
	}
	return nil
}

// softmaxRow writes a numerically stable softmax of src into dst. dst may
// alias src.
func softmaxRow(src, dst []float32, beta float32) {
	maxVal := float32(math.Inf(-1))
	for _, v := range src {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range src {
		e := float32(math.Exp(float64(beta * (v - maxVal))))
		dst[i] = e
		sum += e
	}
	inv := 1 / sum
	for i := range dst {
		dst[i] *= inv
	}
}
