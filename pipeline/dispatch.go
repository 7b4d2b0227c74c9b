package pipeline

import (
	"context"

	"github.com/sbl8/edgeinfer/respond"
	"github.com/sbl8/edgeinfer/runtime"
)

// Dispatcher reads the score vector after a successful invocation and hands
// it to the responder. The vector is reused across cycles.
type Dispatcher struct {
	out       *runtime.Tensor
	scores    []float32
	labels    []string
	responder respond.Responder
}

func NewDispatcher(out *runtime.Tensor, categories int, labels []string, r respond.Responder) *Dispatcher {
	return &Dispatcher{out: out, scores: make([]float32, categories), labels: labels, responder: r}
}

// Dispatch copies the first CategoryCount output values, dequantizing
// integer and half-precision outputs, and calls the responder.
func (d *Dispatcher) Dispatch(ctx context.Context) error {
	for i := range d.scores {
		d.scores[i] = d.out.Float32At(i)
	}
	return d.responder.Respond(ctx, d.scores, d.labels)
}

// Scores returns the scores of the latest dispatch.
func (d *Dispatcher) Scores() []float32 { return d.scores }
