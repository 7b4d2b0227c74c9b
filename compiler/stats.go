package compiler

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sbl8/edgeinfer/core"
	"github.com/sbl8/edgeinfer/model"
)

// TensorStats summarizes the real (dequantized) values of a constant tensor.
type TensorStats struct {
	Name     string
	Type     core.ElemType
	Elements int
	Bytes    int
	Min      float64
	Max      float64
	Mean     float64
	StdDev   float64
}

// Summarize returns statistics for every constant tensor of m in tensor
// order.
func Summarize(m *model.Model) []TensorStats {
	var out []TensorStats
	for i := range m.TensorCount() {
		info := m.Tensor(i)
		if !info.IsConstant() {
			continue
		}
		t := core.Tensor{Type: info.Type, Shape: info.Shape, Quant: info.Quant}
		t.Data = core.AlignedBytes(info.ByteSize())
		copy(t.Data, m.Buffer(info.Buffer))

		vals := make([]float64, t.ElementCount())
		for j := range vals {
			vals[j] = float64(t.Float32At(j))
		}
		s := TensorStats{Name: info.Name, Type: info.Type, Elements: len(vals), Bytes: info.ByteSize()}
		if len(vals) > 0 {
			s.Min, s.Max = floats.Min(vals), floats.Max(vals)
			s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
			if len(vals) == 1 {
				s.StdDev = 0
			}
		}
		out = append(out, s)
	}
	return out
}
