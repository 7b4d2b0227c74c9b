package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// JSONResponder writes one JSON object per result.
type JSONResponder struct {
	enc *json.Encoder
}

func NewJSONResponder(w io.Writer) *JSONResponder {
	return &JSONResponder{enc: json.NewEncoder(w)}
}

func (j *JSONResponder) Respond(_ context.Context, scores []float32, labels []string) error {
	if err := j.enc.Encode(NewResult(scores, labels)); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}
