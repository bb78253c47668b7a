// Package router picks a generation model for each query and walks a
// fallback chain until an answer clears the quality bar. Model selection is
// driven by the query classifier and the caller's optimization preference;
// quality gating is driven by the judge.
package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/classify"
	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
)

// ErrModelsExhausted is returned when every model in the chain either failed
// or produced an answer below the minimum quality score.
var ErrModelsExhausted = errors.New("all models exhausted without an acceptable answer")

// Optimization preferences accepted by Route.
const (
	OptimizeCost     = "cost"
	OptimizeSpeed    = "speed"
	OptimizeQuality  = "quality"
	OptimizeBalanced = "balanced"
)

const (
	routeMaxTokens = 1024
	// Low temperature matches the strict-context contract: the model is
	// restating the documents, not composing.
	routeTemperature   = 0.3
	routeContextBudget = 4000

	// Below this complexity a speed-optimized route takes the cheapest model;
	// the latency difference between tiers does not matter for trivial queries.
	speedCheapCutoff = 0.3
)

// Generator is the model-invocation capability the router needs.
type Generator interface {
	Available(model string) bool
	Descriptor(model string) (config.ModelDescriptor, bool)
	Generate(ctx context.Context, model, prompt string, maxTokens int, temperature float64) (*llm.Result, error)
}

// Scorer is the quality-gating capability the router needs.
type Scorer interface {
	Evaluate(ctx context.Context, query, answer string, docs []retrieval.Document) (*judge.Evaluation, error)
}

// Attempt records one model invocation during routing.
type Attempt struct {
	Model     string  `json:"model"`
	Score     float64 `json:"score"`
	CostUSD   float64 `json:"cost_usd"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Result is the outcome of a routed generation.
type Result struct {
	Answer         string                  `json:"answer"`
	ModelUsed      string                  `json:"model_used"`
	Score          float64                 `json:"score"`
	Attempts       []Attempt               `json:"attempts"`
	Classification classify.Classification `json:"classification"`
	TotalCostUSD   float64                 `json:"total_cost_usd"`
	TotalLatencyMS float64                 `json:"total_latency_ms"`
}

// Router selects models and gates their answers.
type Router struct {
	classifier      *classify.Classifier
	generator       Generator
	scorer          Scorer
	fallbackChain   []string
	minQualityScore float64
	logger          *zap.Logger
}

// New creates a router. fallbackChain is appended after the selected primary
// model, in order, with duplicates removed.
func New(classifier *classify.Classifier, generator Generator, scorer Scorer, fallbackChain []string, minQualityScore float64, logger *zap.Logger) *Router {
	return &Router{
		classifier:      classifier,
		generator:       generator,
		scorer:          scorer,
		fallbackChain:   fallbackChain,
		minQualityScore: minQualityScore,
		logger:          logger,
	}
}

// Route classifies the query, builds a model chain for the given
// optimization preference, and tries each model in order. An answer is
// accepted when the judge scores it at or above the minimum quality score.
// An answer that declines due to missing context is accepted immediately;
// escalating to a bigger model cannot conjure context that does not exist.
// A generation or judge failure counts the attempt as errored and advances
// to the next model in the chain.
func (r *Router) Route(ctx context.Context, query, optimizeFor string, docs []retrieval.Document) (*Result, error) {
	classification := r.classifier.Classify(query)
	chain := r.buildChain(classification, optimizeFor)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models available for routing")
	}

	result := &Result{Classification: classification}
	prompt := llm.StrictContextPrompt(docsToContext(docs), query, routeContextBudget)

	for _, model := range chain {
		gen, err := r.generator.Generate(ctx, model, prompt, routeMaxTokens, routeTemperature)
		if err != nil {
			r.logger.Warn("model failed, trying next in chain",
				zap.String("model", model), zap.Error(err))
			result.Attempts = append(result.Attempts, Attempt{Model: model, Error: err.Error()})
			continue
		}
		result.TotalCostUSD += gen.CostUSD
		result.TotalLatencyMS += gen.LatencyMS

		var score float64
		if llm.IsRefusal(gen.Answer) {
			// Escalating cannot conjure context that does not exist.
			score = 1.0
		} else {
			eval, evalErr := r.scorer.Evaluate(ctx, query, gen.Answer, docs)
			if evalErr != nil {
				// An unjudged answer is an unaccepted answer.
				r.logger.Warn("judge failed, trying next in chain",
					zap.String("model", model), zap.Error(evalErr))
				result.Attempts = append(result.Attempts, Attempt{
					Model:     model,
					CostUSD:   gen.CostUSD,
					LatencyMS: gen.LatencyMS,
					Error:     fmt.Sprintf("judge: %v", evalErr),
				})
				continue
			}
			score = eval.Score
		}
		result.Attempts = append(result.Attempts, Attempt{
			Model:     model,
			Score:     score,
			CostUSD:   gen.CostUSD,
			LatencyMS: gen.LatencyMS,
		})

		if score >= r.minQualityScore {
			result.Answer = gen.Answer
			result.ModelUsed = model
			result.Score = score
			r.logger.Info("routed query",
				zap.String("model", model),
				zap.Float64("score", score),
				zap.Int("attempts", len(result.Attempts)))
			return result, nil
		}
		r.logger.Info("answer below quality bar, escalating",
			zap.String("model", model),
			zap.Float64("score", score),
			zap.Float64("min_score", r.minQualityScore))
	}

	return result, ErrModelsExhausted
}

// buildChain returns the primary model for the optimization preference
// followed by the configured fallback chain, deduplicated and filtered to
// models whose providers initialized. Quality routing is the exception: the
// primary is already the best model available, so there is nothing to
// escalate to and the chain is that single attempt.
func (r *Router) buildChain(classification classify.Classification, optimizeFor string) []string {
	primary := r.selectPrimary(classification, optimizeFor)

	candidates := []string{primary}
	if optimizeFor != OptimizeQuality {
		candidates = append(candidates, r.fallbackChain...)
	}

	var chain []string
	seen := make(map[string]bool)
	for _, model := range candidates {
		if model == "" || seen[model] || !r.generator.Available(model) {
			continue
		}
		seen[model] = true
		chain = append(chain, model)
	}
	return chain
}

func (r *Router) selectPrimary(classification classify.Classification, optimizeFor string) string {
	switch optimizeFor {
	case OptimizeCost:
		return r.cheapest()
	case OptimizeSpeed:
		if classification.ComplexityScore < speedCheapCutoff {
			return r.cheapest()
		}
		return r.fastest()
	case OptimizeQuality:
		return r.highestTier()
	default:
		return classification.PreferredModel
	}
}

func (r *Router) cheapest() string {
	best := ""
	bestCost := 0.0
	r.eachAvailable(func(name string, desc config.ModelDescriptor) {
		if best == "" || desc.CostPer1KTokens < bestCost {
			best, bestCost = name, desc.CostPer1KTokens
		}
	})
	return best
}

func (r *Router) fastest() string {
	best := ""
	bestLatency := 0
	r.eachAvailable(func(name string, desc config.ModelDescriptor) {
		if best == "" || desc.LatencyEstimate < bestLatency {
			best, bestLatency = name, desc.LatencyEstimate
		}
	})
	return best
}

func (r *Router) highestTier() string {
	best := ""
	bestRank := -1
	r.eachAvailable(func(name string, desc config.ModelDescriptor) {
		if rank := tierRank(desc.QualityTier); rank > bestRank {
			best, bestRank = name, rank
		}
	})
	return best
}

// eachAvailable visits candidate models in chain order so ties resolve
// deterministically.
func (r *Router) eachAvailable(fn func(name string, desc config.ModelDescriptor)) {
	seen := make(map[string]bool)
	for _, name := range r.fallbackChain {
		if seen[name] || !r.generator.Available(name) {
			continue
		}
		seen[name] = true
		if desc, ok := r.generator.Descriptor(name); ok {
			fn(name, desc)
		}
	}
}

func tierRank(tier string) int {
	switch tier {
	case "high":
		return 3
	case "medium":
		return 2
	case "low":
		return 1
	default:
		return 0
	}
}

func docsToContext(docs []retrieval.Document) string {
	if len(docs) == 0 {
		return "No context available"
	}
	out := ""
	for i, doc := range docs {
		if i > 0 {
			out += "\n\n"
		}
		out += doc.Content
	}
	return out
}
