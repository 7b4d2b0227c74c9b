package pipeline

import (
	"github.com/sbl8/edgeinfer/kernels"
	"github.com/sbl8/edgeinfer/model"
)

// ClassifierKinds are the operators the classifier needs, in registration
// order.
var ClassifierKinds = []model.OpKind{
	model.OpQuantize,
	model.OpConv2D,
	model.OpMaxPool2D,
	model.OpReshape,
	model.OpFullyConnected,
	model.OpSoftmax,
	model.OpDequantize,
}

// ClassifierRegistry registers exactly the classifier's seven kernels in a
// registry with room for no others.
func ClassifierRegistry() (*kernels.Registry, error) {
	reg := kernels.NewRegistry(len(ClassifierKinds))
	for _, add := range []func() error{
		reg.AddQuantize,
		reg.AddConv2D,
		reg.AddMaxPool2D,
		reg.AddReshape,
		reg.AddFullyConnected,
		reg.AddSoftmax,
		reg.AddDequantize,
	} {
		if err := add(); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
