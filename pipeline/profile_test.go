//go:build profile

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileCoversOneInvocation(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, InputModePush, nil)
	for range 3 {
		require.NoError(t, p.RunInference(context.Background(), make([]float32, 96*96)))
	}

	report := p.Profile()
	assert.Equal(t, int64(1), report.Invocations)
	require.Len(t, report.Kinds, len(ClassifierKinds))
	for _, k := range report.Kinds {
		assert.Equal(t, int64(1), k.Calls, k.Kind.String())
	}
}
