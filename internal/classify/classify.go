// Package classify estimates query difficulty with pure string heuristics.
// It exists so routing never has to pay for an LLM call just to pick a model;
// classification runs in microseconds.
package classify

import (
	"fmt"
	"strings"
)

const (
	lengthCap       = 0.3
	wordsPerUnit    = 50.0
	reasoningStep   = 0.15
	reasoningCap    = 0.3
	technicalStep   = 0.1
	minEstimatedOut = 100
	tokensPerWord   = 5
)

var reasoningKeywords = []string{"why", "how", "explain", "reason", "analyze", "compare"}

var technicalKeywords = []string{"code", "debug", "function", "api", "error"}

// Classification is the heuristic difficulty estimate for one query.
type Classification struct {
	ComplexityScore    float64 `json:"complexity_score"`
	Difficulty         string  `json:"difficulty"`
	RequiresReasoning  bool    `json:"requires_reasoning"`
	EstimatedTokensOut int     `json:"estimated_tokens_out"`
	Domain             string  `json:"domain"`
	PreferredModel     string  `json:"preferred_model"`
	Reasoning          string  `json:"reasoning"`
}

// Classifier maps complexity scores to difficulty tiers and preferred models.
type Classifier struct {
	simpleThreshold float64
	mediumThreshold float64
	tierModels      map[string]string
}

// New creates a classifier. tierModels maps "simple"/"medium"/"complex" to
// the model preferred for that tier.
func New(simpleThreshold, mediumThreshold float64, tierModels map[string]string) *Classifier {
	return &Classifier{
		simpleThreshold: simpleThreshold,
		mediumThreshold: mediumThreshold,
		tierModels:      tierModels,
	}
}

// Classify scores a query's complexity in [0,1] from three components:
// length (capped at 0.3), reasoning keywords (0.15 each, capped at 0.3),
// and a flat technical bump (0.1).
func (c *Classifier) Classify(query string) Classification {
	lower := strings.ToLower(query)
	wordCount := len(strings.Fields(query))

	lengthScore := float64(wordCount) / wordsPerUnit
	if lengthScore > lengthCap {
		lengthScore = lengthCap
	}

	reasoningScore := 0.0
	for _, kw := range reasoningKeywords {
		if strings.Contains(lower, kw) {
			reasoningScore += reasoningStep
		}
	}
	if reasoningScore > reasoningCap {
		reasoningScore = reasoningCap
	}

	technicalScore := 0.0
	for _, kw := range technicalKeywords {
		if strings.Contains(lower, kw) {
			technicalScore = technicalStep
			break
		}
	}

	complexity := lengthScore + reasoningScore + technicalScore
	if complexity > 1 {
		complexity = 1
	}

	var difficulty string
	switch {
	case complexity < c.simpleThreshold:
		difficulty = "simple"
	case complexity < c.mediumThreshold:
		difficulty = "medium"
	default:
		difficulty = "complex"
	}

	domain := "general"
	if technicalScore > 0 {
		domain = "technical"
	}

	estimatedOut := wordCount * tokensPerWord
	if estimatedOut < minEstimatedOut {
		estimatedOut = minEstimatedOut
	}

	return Classification{
		ComplexityScore:    complexity,
		Difficulty:         difficulty,
		RequiresReasoning:  reasoningScore > 0,
		EstimatedTokensOut: estimatedOut,
		Domain:             domain,
		PreferredModel:     c.tierModels[difficulty],
		Reasoning:          fmt.Sprintf("Complexity: %.2f (%s)", complexity, difficulty),
	}
}
