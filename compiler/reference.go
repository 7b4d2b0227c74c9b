package compiler

import (
	"fmt"
	"math"
)

// ReferenceConfig sizes the reference classifier.
type ReferenceConfig struct {
	Width, Height, Channels int
	Filters                 int
	Categories              int
	Seed                    uint64
}

// DefaultReferenceConfig matches the deployed fruit detector: a 96x96
// grayscale frame and two categories.
func DefaultReferenceConfig() ReferenceConfig {
	return ReferenceConfig{Width: 96, Height: 96, Channels: 1, Filters: 8, Categories: 2, Seed: 1}
}

// ReferenceDescription describes the classifier the runtime is built for:
//
//	float input -> QUANTIZE -> CONV_2D 3x3 (relu) -> MAX_POOL_2D 2x2 ->
//	RESHAPE -> FULLY_CONNECTED -> SOFTMAX -> DEQUANTIZE -> float scores
//
// Weights are seeded random integers scaled so that activations stay inside
// the int8 range for raw 0-255 pixel input. A zero input yields equal scores.
func ReferenceDescription(c ReferenceConfig) *Description {
	h, w, ch, f, k := c.Height, c.Width, c.Channels, c.Filters, c.Categories
	ph, pw := (h+1)/2, (w+1)/2
	flat := ph * pw * f

	// Raw pixels 0..255 map to q = v - 128.
	pixel := &QuantDesc{Scale: []float32{1}, ZeroPoint: []int32{-128}}
	filterScales := make([]float32, f)
	for i := range filterScales {
		filterScales[i] = float32(1 / (127.0 * 9 * float64(ch)))
	}
	fcScale := float32(1 / (127.0 * 16 * math.Sqrt(float64(flat))))
	logit := &QuantDesc{Scale: []float32{0.125}}
	prob := &QuantDesc{Scale: []float32{1.0 / 256}, ZeroPoint: []int32{-128}}
	zero := 0.0

	return &Description{
		Description: fmt.Sprintf("reference classifier %dx%dx%d, %d categories", w, h, ch, k),
		Tensors: []TensorDesc{
			{Name: "input", Type: "float32", Shape: []int{1, h, w, ch}},
			{Name: "input_q", Type: "int8", Shape: []int{1, h, w, ch}, Quant: pixel},
			{
				Name: "conv_filter", Type: "int8", Shape: []int{f, 3, 3, ch},
				Quant: &QuantDesc{Scale: filterScales, ZeroPoint: make([]int32, f), Dim: 0},
				Data:  &DataDesc{Random: &RandomDesc{Seed: c.Seed, Min: -127, Max: 127}},
			},
			{Name: "conv_bias", Type: "int32", Shape: []int{f}, Data: &DataDesc{Fill: &zero}},
			{Name: "conv", Type: "int8", Shape: []int{1, h, w, f}, Quant: pixel},
			{Name: "pool", Type: "int8", Shape: []int{1, ph, pw, f}, Quant: pixel},
			{Name: "flat", Type: "int8", Shape: []int{1, flat}, Quant: pixel},
			{
				Name: "fc_weights", Type: "int8", Shape: []int{k, flat},
				Quant: &QuantDesc{Scale: []float32{fcScale}},
				Data:  &DataDesc{Random: &RandomDesc{Seed: c.Seed + 1, Min: -127, Max: 127}},
			},
			{Name: "logits", Type: "int8", Shape: []int{1, k}, Quant: logit},
			{Name: "probs", Type: "int8", Shape: []int{1, k}, Quant: prob},
			{Name: "scores", Type: "float32", Shape: []int{1, k}},
		},
		Operators: []OpDesc{
			{Op: "QUANTIZE", Inputs: []string{"input"}, Outputs: []string{"input_q"}},
			{
				Op: "CONV_2D", Inputs: []string{"input_q", "conv_filter", "conv_bias"}, Outputs: []string{"conv"},
				Options: OptionDesc{Padding: "same", Stride: []int{1}, Activation: "relu"},
			},
			{
				Op: "MAX_POOL_2D", Inputs: []string{"conv"}, Outputs: []string{"pool"},
				Options: OptionDesc{Padding: "same", Stride: []int{2}, Filter: []int{2}},
			},
			{Op: "RESHAPE", Inputs: []string{"pool"}, Outputs: []string{"flat"}},
			{Op: "FULLY_CONNECTED", Inputs: []string{"flat", "fc_weights", "-"}, Outputs: []string{"logits"}},
			{Op: "SOFTMAX", Inputs: []string{"logits"}, Outputs: []string{"probs"}, Options: OptionDesc{Beta: 1}},
			{Op: "DEQUANTIZE", Inputs: []string{"probs"}, Outputs: []string{"scores"}},
		},
		Inputs:  []string{"input"},
		Outputs: []string{"scores"},
	}
}

// ReferenceClassifier compiles the reference description.
func ReferenceClassifier(c ReferenceConfig) ([]byte, error) {
	if c.Width <= 0 || c.Height <= 0 || c.Filters <= 0 || c.Categories <= 0 || (c.Channels != 1 && c.Channels != 3) {
		return nil, fmt.Errorf("invalid reference config %+v", c)
	}
	return Build(ReferenceDescription(c), DefaultOptions())
}
