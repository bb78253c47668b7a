package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/config"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Complete(context.Context, string, int, float64) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", fmt.Errorf("%w: connection refused", ErrProviderUnavailable)
	}
	return "an answer", nil
}

func newTestRegistry(p Provider) *Registry {
	return &Registry{
		providers: map[string]Provider{"m1": p},
		models:    map[string]config.ModelDescriptor{"m1": {CostPer1KTokens: 0.001}},
		retryBase: time.Millisecond,
		logger:    zap.NewNop(),
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	provider := &flakyProvider{failures: 2}
	r := newTestRegistry(provider)

	result, err := r.Generate(context.Background(), "m1", "prompt", 100, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "an answer", result.Answer)
	assert.Equal(t, 3, provider.calls)
}

func TestGenerateExhaustsRetries(t *testing.T) {
	provider := &flakyProvider{failures: 100}
	r := newTestRegistry(provider)

	_, err := r.Generate(context.Background(), "m1", "prompt", 100, 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, 3, provider.calls, "bounded at three attempts")
}

func TestGenerateUnknownModel(t *testing.T) {
	r := newTestRegistry(&flakyProvider{})

	_, err := r.Generate(context.Background(), "ghost", "prompt", 100, 0.3)
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestGenerateAccounting(t *testing.T) {
	r := newTestRegistry(&flakyProvider{})

	result, err := r.Generate(context.Background(), "m1", "a prompt of forty characters exactly ok!", 100, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 10, result.InputTokens)
	assert.Equal(t, len("an answer")/4, result.OutputTokens)
	assert.InDelta(t, float64(10+len("an answer")/4)/1000.0*0.001, result.CostUSD, 1e-9)
}
