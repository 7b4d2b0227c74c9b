package kernels

import (
	"math"

	"github.com/sbl8/edgeinfer/core"
)

type poolData struct {
	geo            convGeometry
	actLoQ, actHiQ int32
	actLo, actHi   float32
}

// preparePool serves both max and average pooling. The window comes from
// FilterW/FilterH; int8 pooling requires matching input and output
// quantization.
func preparePool(n *Node) error {
	in, out, err := n.requireIO(1)
	if err != nil {
		return err
	}
	if len(in.Shape) != 4 || len(out.Shape) != 4 {
		return n.unsupported("input and output must be rank 4")
	}
	if in.Type != out.Type {
		return n.unsupported("type %s -> %s", in.Type, out.Type)
	}
	opts := n.Op.Options
	if opts.FilterW <= 0 || opts.FilterH <= 0 {
		return n.unsupported("window %dx%d", opts.FilterW, opts.FilterH)
	}
	sw, sh := strides(opts)
	g := convGeometry{
		batches: in.Shape[0], inH: in.Shape[1], inW: in.Shape[2], inC: in.Shape[3],
		outC: in.Shape[3], kH: opts.FilterH, kW: opts.FilterW,
		strideH: sh, strideW: sw,
	}
	g.outH = outputSize(opts.Padding, g.inH, g.kH, sh)
	g.outW = outputSize(opts.Padding, g.inW, g.kW, sw)
	if want := []int{g.batches, g.outH, g.outW, g.outC}; !core.SameShape(out.Shape, want) {
		return n.unsupported("output shape %v, computed %v", out.Shape, want)
	}
	g.padH = paddingBefore(opts.Padding, g.inH, g.kH, sh, g.outH)
	g.padW = paddingBefore(opts.Padding, g.inW, g.kW, sw, g.outW)

	d := &poolData{geo: g}
	switch in.Type {
	case core.TypeInt8:
		if !checkInt8Quant(in) || !checkInt8Quant(out) {
			return n.unsupported("int8 pooling needs quantized input and output")
		}
		is, iz := in.Quant.Params()
		os, oz := out.Quant.Params()
		if is != os || iz != oz {
			return n.unsupported("int8 pooling cannot requantize (%g,%d) -> (%g,%d)", is, iz, os, oz)
		}
		d.actLoQ, d.actHiQ = activationRangeInt8(opts.Activation, os, oz)
	case core.TypeFloat32:
		d.actLo, d.actHi = activationRangeFloat(opts.Activation)
	default:
		return n.unsupported("type %s", in.Type)
	}

	n.UserData = d
	n.Cost = Cost{
		Ops:   int64(g.batches) * int64(g.outH*g.outW*g.outC) * int64(g.kH*g.kW),
		Bytes: bytesOf(in, out),
	}
	return nil
}

// window clips the pooling window for output (oy, ox) to the input.
func (g *convGeometry) window(oy, ox int) (y0, y1, x0, x1 int) {
	y0 = oy*g.strideH - g.padH
	x0 = ox*g.strideW - g.padW
	y1 = min(y0+g.kH, g.inH)
	x1 = min(x0+g.kW, g.inW)
	return max(y0, 0), y1, max(x0, 0), x1
}

func evalMaxPool(n *Node) error {
	d := n.UserData.(*poolData)
	g := &d.geo
	if n.Inputs[0].Type == core.TypeInt8 {
		in, out := n.Inputs[0].Int8s(), n.Outputs[0].Int8s()
		o := 0
		for b := 0; b < g.batches; b++ {
			for oy := 0; oy < g.outH; oy++ {
				for ox := 0; ox < g.outW; ox++ {
					y0, y1, x0, x1 := g.window(oy, ox)
					for c := 0; c < g.outC; c++ {
						m := int32(math.MinInt8)
						for y := y0; y < y1; y++ {
							for x := x0; x < x1; x++ {
								m = max(m, int32(in[((b*g.inH+y)*g.inW+x)*g.inC+c]))
							}
						}
						out[o] = int8(clampInt32(m, d.actLoQ, d.actHiQ))
						o++
					}
				}
			}
		}
		return nil
	}

	in, out := n.Inputs[0].Float32s(), n.Outputs[0].Float32s()
	o := 0
	for b := 0; b < g.batches; b++ {
		for oy := 0; oy < g.outH; oy++ {
			for ox := 0; ox < g.outW; ox++ {
				y0, y1, x0, x1 := g.window(oy, ox)
				for c := 0; c < g.outC; c++ {
					m := float32(-math.MaxFloat32)
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							m = max(m, in[((b*g.inH+y)*g.inW+x)*g.inC+c])
						}
					}
					out[o] = clampFloat(m, d.actLo, d.actHi)
					o++
				}
			}
		}
	}
	return nil
}

func evalAveragePool(n *Node) error {
	d := n.UserData.(*poolData)
	g := &d.geo
	if n.Inputs[0].Type == core.TypeInt8 {
		in, out := n.Inputs[0].Int8s(), n.Outputs[0].Int8s()
		o := 0
		for b := 0; b < g.batches; b++ {
			for oy := 0; oy < g.outH; oy++ {
				for ox := 0; ox < g.outW; ox++ {
					y0, y1, x0, x1 := g.window(oy, ox)
					count := int32((y1 - y0) * (x1 - x0))
					for c := 0; c < g.outC; c++ {
						var sum int32
						for y := y0; y < y1; y++ {
							for x := x0; x < x1; x++ {
								sum += int32(in[((b*g.inH+y)*g.inW+x)*g.inC+c])
							}
						}
						// round half away from zero
						if sum >= 0 {
							sum = (sum + count/2) / count
						} else {
							sum = (sum - count/2) / count
						}
						out[o] = int8(clampInt32(sum, d.actLoQ, d.actHiQ))
						o++
					}
				}
			}
		}
		return nil
	}

	in, out := n.Inputs[0].Float32s(), n.Outputs[0].Float32s()
	o := 0
	for b := 0; b < g.batches; b++ {
		for oy := 0; oy < g.outH; oy++ {
			for ox := 0; ox < g.outW; ox++ {
				y0, y1, x0, x1 := g.window(oy, ox)
				count := float32((y1 - y0) * (x1 - x0))
				for c := 0; c < g.outC; c++ {
					var sum float32
					for y := y0; y < y1; y++ {
						for x := x0; x < x1; x++ {
							sum += in[((b*g.inH+y)*g.inW+x)*g.inC+c]
						}
					}
					out[o] = clampFloat(sum/count, d.actLo, d.actHi)
					o++
				}
			}
		}
	}
	return nil
}
