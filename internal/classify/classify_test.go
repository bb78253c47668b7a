package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClassifier() *Classifier {
	return New(0.3, 0.6, map[string]string{
		"simple":  "small-model",
		"medium":  "mid-model",
		"complex": "big-model",
	})
}

func TestClassifySimpleQuery(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("capital of France")

	assert.Equal(t, "simple", result.Difficulty)
	assert.Equal(t, "small-model", result.PreferredModel)
	assert.False(t, result.RequiresReasoning)
	assert.Equal(t, "general", result.Domain)
	assert.Equal(t, 100, result.EstimatedTokensOut)
}

func TestClassifyReasoningQuery(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("Why does this happen and how can we explain it?")

	assert.True(t, result.RequiresReasoning)
	// why + how + explain saturates the reasoning component at 0.3.
	assert.GreaterOrEqual(t, result.ComplexityScore, 0.3)
}

func TestClassifyTechnicalDomain(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("debug this function")

	assert.Equal(t, "technical", result.Domain)
	assert.GreaterOrEqual(t, result.ComplexityScore, 0.1)
}

func TestClassifyComplexQuery(t *testing.T) {
	c := newTestClassifier()

	query := "Explain why the API returns an error and compare how the function behaves when we debug it, " +
		strings.Repeat("with many more words to push the length component to its cap ", 5)
	result := c.Classify(query)

	assert.Equal(t, "complex", result.Difficulty)
	assert.Equal(t, "big-model", result.PreferredModel)
	assert.True(t, result.RequiresReasoning)
	assert.Equal(t, "technical", result.Domain)
}

func TestClassifyLengthComponentCapped(t *testing.T) {
	c := newTestClassifier()

	// 200 neutral words: only the length component contributes, capped at 0.3.
	result := c.Classify(strings.Repeat("word ", 200))

	assert.InDelta(t, 0.3, result.ComplexityScore, 0.001)
}

func TestClassifyEstimatedTokens(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify(strings.Repeat("word ", 40))

	assert.Equal(t, 200, result.EstimatedTokensOut)
}

func TestClassifyDeterministic(t *testing.T) {
	c := newTestClassifier()

	a := c.Classify("How do I configure the cache?")
	b := c.Classify("How do I configure the cache?")

	assert.Equal(t, a, b)
}
