package llm

import "context"

// Bound adapts the registry to a single-model completion capability, for
// callers (judge, pipeline generation) that are pinned to one model.
type Bound struct {
	registry *Registry
	model    string
}

// Bind returns a completion capability pinned to the named model.
func Bind(registry *Registry, model string) *Bound {
	return &Bound{registry: registry, model: model}
}

// Model returns the bound model name.
func (b *Bound) Model() string {
	return b.model
}

// Complete invokes the bound model and returns the raw answer text.
func (b *Bound) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	result, err := b.registry.Generate(ctx, b.model, prompt, maxTokens, temperature)
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

// Generate invokes the bound model and returns the full accounting result.
func (b *Bound) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*Result, error) {
	return b.registry.Generate(ctx, b.model, prompt, maxTokens, temperature)
}
