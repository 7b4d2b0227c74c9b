package model

import (
	"fmt"
	"strings"
)

// OpKind identifies a primitive operator. Codes are part of the model format.
type OpKind uint8

const (
	OpInvalid OpKind = iota
	OpQuantize
	OpConv2D
	OpMaxPool2D
	OpReshape
	OpFullyConnected
	OpSoftmax
	OpDequantize
	OpAveragePool2D
	OpDepthwiseConv2D
	OpAdd
	OpLogistic
	OpRelu

	// NumOpKinds bounds every opcode-indexed table.
	NumOpKinds
)

var opNames = [NumOpKinds]string{
	OpInvalid:         "INVALID",
	OpQuantize:        "QUANTIZE",
	OpConv2D:          "CONV_2D",
	OpMaxPool2D:       "MAX_POOL_2D",
	OpReshape:         "RESHAPE",
	OpFullyConnected:  "FULLY_CONNECTED",
	OpSoftmax:         "SOFTMAX",
	OpDequantize:      "DEQUANTIZE",
	OpAveragePool2D:   "AVERAGE_POOL_2D",
	OpDepthwiseConv2D: "DEPTHWISE_CONV_2D",
	OpAdd:             "ADD",
	OpLogistic:        "LOGISTIC",
	OpRelu:            "RELU",
}

func (k OpKind) String() string {
	if k < NumOpKinds {
		return opNames[k]
	}
	return fmt.Sprintf("OP(%d)", uint8(k))
}

// ParseOpKind accepts the upper-case operator names used by String.
func ParseOpKind(s string) (OpKind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for k := OpQuantize; k < NumOpKinds; k++ {
		if opNames[k] == s {
			return k, nil
		}
	}
	return OpInvalid, fmt.Errorf("unknown operator %q", s)
}

// Padding selects how spatial operators treat borders.
type Padding uint8

const (
	PaddingSame Padding = iota
	PaddingValid
)

func (p Padding) String() string {
	if p == PaddingValid {
		return "valid"
	}
	return "same"
}

// Activation is an activation fused into an operator's output.
type Activation uint8

const (
	ActNone Activation = iota
	ActRelu
	ActRelu6
	ActReluN1To1
)

func (a Activation) String() string {
	switch a {
	case ActRelu:
		return "relu"
	case ActRelu6:
		return "relu6"
	case ActReluN1To1:
		return "relu_n1_to_1"
	default:
		return "none"
	}
}

// ParseActivation accepts the names produced by Activation.String.
func ParseActivation(s string) (Activation, error) {
	for _, a := range []Activation{ActNone, ActRelu, ActRelu6, ActReluN1To1} {
		if a.String() == strings.ToLower(s) {
			return a, nil
		}
	}
	return ActNone, fmt.Errorf("unknown activation %q", s)
}

// Options carries the parameters of every operator kind in one fixed record.
// Fields an operator does not use are zero.
type Options struct {
	Padding    Padding
	Activation Activation
	StrideW    int
	StrideH    int
	FilterW    int
	FilterH    int
	Beta       float32
}

// Operator is one step of the graph. Inputs may contain -1 for an omitted
// optional operand (for example a fully-connected layer without bias).
type Operator struct {
	Kind    OpKind
	Inputs  []int
	Outputs []int
	Options Options
}
