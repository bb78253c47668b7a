// Package judge scores generated answers against their query and retrieved
// context using a backing LLM. The LLM's structured output is parsed
// defensively: a broken response degrades to a fixed default evaluation,
// never an error.
package judge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
)

const (
	judgeMaxTokens   = 500
	judgeTemperature = 0.3

	maxContextDocs   = 3
	docCharBudget    = 500
	defaultScore     = 0.5
	defaultCriterion = 5.0
)

// Evaluation is the judge's verdict on one generation attempt. Immutable
// after creation.
type Evaluation struct {
	Score    float64            `json:"score"`
	Reasons  string             `json:"reasons"`
	Criteria map[string]float64 `json:"criteria"`
}

// DefaultEvaluation is the fixed verdict substituted when the judge cannot
// produce one: a mid score with the failure named in the reasons.
func DefaultEvaluation(reason string) *Evaluation {
	return &Evaluation{
		Score:   defaultScore,
		Reasons: reason,
		Criteria: map[string]float64{
			"correctness":  defaultCriterion,
			"relevance":    defaultCriterion,
			"completeness": defaultCriterion,
			"clarity":      defaultCriterion,
			"citations":    defaultCriterion,
		},
	}
}

// Completer is the LLM capability the judge needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Judge evaluates answers with a backing LLM.
type Judge struct {
	llm    Completer
	logger *zap.Logger
}

// New creates a judge over the given completion backend.
func New(completer Completer, logger *zap.Logger) *Judge {
	return &Judge{llm: completer, logger: logger}
}

// Evaluate scores an answer for the query against the retrieved documents.
// The completion backend already retries transport failures with bounded
// backoff; once those are exhausted the error is returned and the caller
// decides the policy. A response that arrives but cannot be parsed is
// repaired or defaulted, never surfaced as an error.
func (j *Judge) Evaluate(ctx context.Context, query, answer string, docs []retrieval.Document) (*Evaluation, error) {
	contextText := contextBlock(docs)
	prompt := llm.JudgePrompt(query, contextText, answer)

	raw, err := j.llm.Complete(ctx, prompt, judgeMaxTokens, judgeTemperature)
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	eval := ParseEvaluation(raw)
	j.logger.Info("answer judged",
		zap.Float64("score", eval.Score),
		zap.Int("answer_chars", len(answer)))
	return eval, nil
}

func contextBlock(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return "No context available"
	}
	if len(docs) > maxContextDocs {
		docs = docs[:maxContextDocs]
	}
	block := ""
	for i, doc := range docs {
		content := doc.Content
		if len(content) > docCharBudget {
			content = content[:docCharBudget]
		}
		if i > 0 {
			block += "\n\n"
		}
		block += content
	}
	return block
}
