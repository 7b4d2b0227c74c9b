package compiler

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/x448/float16"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

// Description is the YAML form of a model. Tensors are referenced by name;
// an empty name or "-" in an operator's inputs omits an optional operand.
//
//	description: fruit classifier
//	tensors:
//	  - {name: input, type: float32, shape: [1, 96, 96, 1]}
//	  - name: weights
//	    type: int8
//	    shape: [2, 18432]
//	    quant: {scale: [0.002], zero_point: [0]}
//	    data: {random: {seed: 7, min: -127, max: 127}}
//	operators:
//	  - {op: FULLY_CONNECTED, inputs: [flat, weights, "-"], outputs: [logits]}
//	inputs: [input]
//	outputs: [scores]
type Description struct {
	Version     uint32       `yaml:"version,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Tensors     []TensorDesc `yaml:"tensors"`
	Operators   []OpDesc     `yaml:"operators"`
	Inputs      []string     `yaml:"inputs"`
	Outputs     []string     `yaml:"outputs"`
}

type TensorDesc struct {
	Name  string     `yaml:"name"`
	Type  string     `yaml:"type"`
	Shape []int      `yaml:"shape"`
	Quant *QuantDesc `yaml:"quant,omitempty"`
	Data  *DataDesc  `yaml:"data,omitempty"`
}

type QuantDesc struct {
	Scale     []float32 `yaml:"scale"`
	ZeroPoint []int32   `yaml:"zero_point,omitempty"`
	Dim       int       `yaml:"dim,omitempty"`
}

// DataDesc gives the contents of a constant tensor. Exactly one source is
// set: literal values, little-endian hex bytes, a uniform fill or seeded
// random integers.
type DataDesc struct {
	Values []float64   `yaml:"values,omitempty"`
	Hex    string      `yaml:"hex,omitempty"`
	Fill   *float64    `yaml:"fill,omitempty"`
	Random *RandomDesc `yaml:"random,omitempty"`
}

// RandomDesc draws integers uniformly from [Min, Max] with a PCG generator,
// so the same seed always yields the same weights.
type RandomDesc struct {
	Seed uint64 `yaml:"seed"`
	Min  int    `yaml:"min"`
	Max  int    `yaml:"max"`
}

type OpDesc struct {
	Op      string     `yaml:"op"`
	Inputs  []string   `yaml:"inputs"`
	Outputs []string   `yaml:"outputs"`
	Options OptionDesc `yaml:"options,omitempty"`
}

type OptionDesc struct {
	Padding    string  `yaml:"padding,omitempty"`
	Activation string  `yaml:"activation,omitempty"`
	Stride     []int   `yaml:"stride,omitempty"` // [h, w]
	Filter     []int   `yaml:"filter,omitempty"` // [h, w]
	Beta       float32 `yaml:"beta,omitempty"`
}

// Parse decodes a YAML description. Unknown fields are rejected.
func Parse(src []byte) (*Description, error) {
	var d Description
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &d, nil
}

// Marshal encodes d as YAML.
func (d *Description) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func (o OptionDesc) options() (model.Options, error) {
	var opts model.Options
	switch strings.ToLower(o.Padding) {
	case "", "same":
		opts.Padding = model.PaddingSame
	case "valid":
		opts.Padding = model.PaddingValid
	default:
		return opts, fmt.Errorf("unknown padding %q", o.Padding)
	}
	if o.Activation != "" {
		act, err := model.ParseActivation(o.Activation)
		if err != nil {
			return opts, err
		}
		opts.Activation = act
	}
	pair := func(v []int, what string) (int, int, error) {
		switch len(v) {
		case 0:
			return 0, 0, nil
		case 1:
			return v[0], v[0], nil
		case 2:
			return v[0], v[1], nil
		}
		return 0, 0, fmt.Errorf("%s takes one or two values, got %v", what, v)
	}
	var err error
	if opts.StrideH, opts.StrideW, err = pair(o.Stride, "stride"); err != nil {
		return opts, err
	}
	if opts.FilterH, opts.FilterW, err = pair(o.Filter, "filter"); err != nil {
		return opts, err
	}
	opts.Beta = o.Beta
	return opts, nil
}

func (q *QuantDesc) quantization() *core.Quantization {
	if q == nil {
		return nil
	}
	zp := q.ZeroPoint
	if len(zp) == 0 {
		zp = make([]int32, len(q.Scale))
	}
	return &core.Quantization{Scale: q.Scale, ZeroPoint: zp, Dim: q.Dim}
}

// encode renders the data of a constant tensor of type typ with n elements.
func (d *DataDesc) encode(typ core.ElemType, n int) ([]byte, error) {
	sources := 0
	for _, set := range []bool{d.Values != nil, d.Hex != "", d.Fill != nil, d.Random != nil} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return nil, fmt.Errorf("data needs exactly one of values, hex, fill or random")
	}

	if d.Hex != "" {
		b, err := hex.DecodeString(strings.Join(strings.Fields(d.Hex), ""))
		if err != nil {
			return nil, fmt.Errorf("hex data: %w", err)
		}
		if len(b) != n*typ.Size() {
			return nil, fmt.Errorf("hex data has %d bytes, tensor needs %d", len(b), n*typ.Size())
		}
		return b, nil
	}

	values := d.Values
	switch {
	case d.Fill != nil:
		values = make([]float64, n)
		for i := range values {
			values[i] = *d.Fill
		}
	case d.Random != nil:
		if d.Random.Min > d.Random.Max {
			return nil, fmt.Errorf("random range [%d, %d] is empty", d.Random.Min, d.Random.Max)
		}
		rng := rand.New(rand.NewPCG(d.Random.Seed, d.Random.Seed^0x9e3779b97f4a7c15))
		span := d.Random.Max - d.Random.Min + 1
		values = make([]float64, n)
		for i := range values {
			values[i] = float64(d.Random.Min + rng.IntN(span))
		}
	}
	if len(values) != n {
		return nil, fmt.Errorf("data has %d values, tensor has %d elements", len(values), n)
	}
	return encodeValues(typ, values)
}

func encodeValues(typ core.ElemType, values []float64) ([]byte, error) {
	buf := make([]byte, len(values)*typ.Size())
	for i, v := range values {
		switch typ {
		case core.TypeFloat32:
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		case core.TypeFloat16:
			binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(float32(v)).Bits())
		case core.TypeInt32:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("value %v at %d overflows int32", v, i)
			}
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(int32(v)))
		case core.TypeInt8:
			if v < math.MinInt8 || v > math.MaxInt8 {
				return nil, fmt.Errorf("value %v at %d overflows int8", v, i)
			}
			buf[i] = byte(int8(v))
		case core.TypeUint8:
			if v < 0 || v > math.MaxUint8 {
				return nil, fmt.Errorf("value %v at %d overflows uint8", v, i)
			}
			buf[i] = byte(v)
		default:
			return nil, fmt.Errorf("cannot encode %s", typ)
		}
	}
	return buf, nil
}
