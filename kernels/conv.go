package kernels

import (
	"github.com/sbl8/edgeinfer/core"
)

// convGeometry is the NHWC layout of a 2-D convolution or pooling window.
type convGeometry struct {
	batches          int
	inH, inW, inC    int
	outH, outW, outC int
	kH, kW           int
	strideH, strideW int
	padH, padW       int
}

type convData struct {
	geo   convGeometry
	rq    requantizer // int8 only
	actLo float32     // float32 only
	actHi float32
}

// Inputs: input [N,H,W,C], filter [OC,KH,KW,C], optional bias [OC].
func prepareConv2D(n *Node) error {
	in, out, err := n.requireIO(2)
	if err != nil {
		return err
	}
	filter, bias := n.Inputs[1], n.Input(2)
	if len(in.Shape) != 4 || len(filter.Shape) != 4 || len(out.Shape) != 4 {
		return n.unsupported("input, filter and output must be rank 4")
	}
	if filter.Data == nil {
		return n.unsupported("filter must be constant")
	}

	opts := n.Op.Options
	sw, sh := strides(opts)
	g := convGeometry{
		batches: in.Shape[0], inH: in.Shape[1], inW: in.Shape[2], inC: in.Shape[3],
		outC: filter.Shape[0], kH: filter.Shape[1], kW: filter.Shape[2],
		strideH: sh, strideW: sw,
	}
	if filter.Shape[3] != g.inC {
		return n.unsupported("filter depth %d, input depth %d", filter.Shape[3], g.inC)
	}
	g.outH = outputSize(opts.Padding, g.inH, g.kH, sh)
	g.outW = outputSize(opts.Padding, g.inW, g.kW, sw)
	if want := []int{g.batches, g.outH, g.outW, g.outC}; !core.SameShape(out.Shape, want) {
		return n.unsupported("output shape %v, computed %v", out.Shape, want)
	}
	g.padH = paddingBefore(opts.Padding, g.inH, g.kH, sh, g.outH)
	g.padW = paddingBefore(opts.Padding, g.inW, g.kW, sw, g.outW)
	if bias != nil && bias.ElementCount() != g.outC {
		return n.unsupported("bias has %d elements for %d channels", bias.ElementCount(), g.outC)
	}

	d := &convData{geo: g}
	switch in.Type {
	case core.TypeInt8:
		if !checkInt8Quant(in) || !checkInt8Quant(filter) || !checkInt8Quant(out) {
			return n.unsupported("int8 convolution needs quantized input, filter and output")
		}
		if filter.Quant.PerChannel() && len(filter.Quant.Scale) != g.outC {
			return n.unsupported("filter has %d scales for %d channels", len(filter.Quant.Scale), g.outC)
		}
		if bias != nil && bias.Type != core.TypeInt32 {
			return n.unsupported("int8 convolution needs int32 bias, got %s", bias.Type)
		}
		d.rq = newRequantizer(in, filter, out, g.outC, opts.Activation)
	case core.TypeFloat32:
		if filter.Type != core.TypeFloat32 || out.Type != core.TypeFloat32 {
			return n.unsupported("float convolution needs float32 filter and output")
		}
		if bias != nil && bias.Type != core.TypeFloat32 {
			return n.unsupported("float convolution needs float32 bias, got %s", bias.Type)
		}
		d.actLo, d.actHi = activationRangeFloat(opts.Activation)
	default:
		return n.unsupported("input type %s", in.Type)
	}

	n.UserData = d
	macs := int64(g.batches) * int64(g.outH*g.outW*g.outC) * int64(g.kH*g.kW*g.inC)
	n.Cost = Cost{Ops: 2 * macs, Bytes: bytesOf(in, filter, bias, out)}
	return nil
}

func evalConv2D(n *Node) error {
	d := n.UserData.(*convData)
	if n.Inputs[0].Type == core.TypeInt8 {
		convInt8(n, d)
	} else {
		convFloat32(n, d)
	}
	return nil
}

func convInt8(n *Node, d *convData) {
	g := &d.geo
	in, filter := n.Inputs[0].Int8s(), n.Inputs[1].Int8s()
	out := n.Outputs[0].Int8s()
	var bias []int32
	if b := n.Input(2); b != nil {
		bias = b.Int32s()
	}

	filterStride := g.kH * g.kW * g.inC
	o := 0
	for b := 0; b < g.batches; b++ {
		for oy := 0; oy < g.outH; oy++ {
			y0 := oy*g.strideH - g.padH
			for ox := 0; ox < g.outW; ox++ {
				x0 := ox*g.strideW - g.padW
				for oc := 0; oc < g.outC; oc++ {
					f := filter[oc*filterStride:]
					var acc int32
					for ky := 0; ky < g.kH; ky++ {
						iy := y0 + ky
						if iy < 0 || iy >= g.inH {
							continue
						}
						for kx := 0; kx < g.kW; kx++ {
							ix := x0 + kx
							if ix < 0 || ix >= g.inW {
								continue
							}
							base := ((b*g.inH+iy)*g.inW + ix) * g.inC
							fbase := (ky*g.kW + kx) * g.inC
							acc += dotInt8(in[base:base+g.inC], f[fbase:fbase+g.inC], d.rq.inputOffset)
						}
					}
					if bias != nil {
						acc += bias[oc]
					}
					out[o] = d.rq.apply(acc, oc)
					o++
				}
			}
		}
	}
}

func convFloat32(n *Node, d *convData) {
	g := &d.geo
	in, filter := n.Inputs[0].Float32s(), n.Inputs[1].Float32s()
	out := n.Outputs[0].Float32s()
	var bias []float32
	if b := n.Input(2); b != nil {
		bias = b.Float32s()
	}

	filterStride := g.kH * g.kW * g.inC
	o := 0
	for b := 0; b < g.batches; b++ {
		for oy := 0; oy < g.outH; oy++ {
			y0 := oy*g.strideH - g.padH
			for ox := 0; ox < g.outW; ox++ {
				x0 := ox*g.strideW - g.padW
				for oc := 0; oc < g.outC; oc++ {
					f := filter[oc*filterStride:]
					var acc float32
					for ky := 0; ky < g.kH; ky++ {
						iy := y0 + ky
						if iy < 0 || iy >= g.inH {
							continue
						}
						for kx := 0; kx < g.kW; kx++ {
							ix := x0 + kx
							if ix < 0 || ix >= g.inW {
								continue
							}
							base := ((b*g.inH+iy)*g.inW + ix) * g.inC
							fbase := (ky*g.kW + kx) * g.inC
							acc += dotFloat32(in[base:base+g.inC], f[fbase:fbase+g.inC])
						}
					}
					if bias != nil {
						acc += bias[oc]
					}
					out[o] = clampFloat(acc, d.actLo, d.actHi)
					o++
				}
			}
		}
	}
}
