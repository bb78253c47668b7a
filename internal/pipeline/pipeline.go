// Package pipeline orchestrates the staged query flow: cache check,
// retrieval, generation, quality judging, fallback, and memory update.
// Every stage is isolated behind a typed state update and a panic guard, so
// one broken collaborator degrades that stage instead of killing the query.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/cache"
	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/memory"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
)

// AnswerCache is the caching capability the pipeline needs.
type AnswerCache interface {
	Get(ctx context.Context, query, userID, sessionID string) (*cache.Entry, bool)
	Set(ctx context.Context, query, userID, sessionID, answer string, judgeScore float64, metadata map[string]string) error
}

// Generator is the single-model generation capability of the generation
// stage.
type Generator interface {
	Model() string
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (*llm.Result, error)
}

// Scorer is the quality-gating capability of the judge stage.
type Scorer interface {
	Evaluate(ctx context.Context, query, answer string, docs []retrieval.Document) (*judge.Evaluation, error)
}

// EvalLog records per-query evaluation outcomes. Best effort.
type EvalLog interface {
	Record(s *State)
}

// Result is what Process returns to callers.
type Result struct {
	Answer           string               `json:"answer"`
	RetrievedDocs    []retrieval.Document `json:"retrieved_docs"`
	Evaluation       *judge.Evaluation    `json:"evaluation,omitempty"`
	ModelUsed        string               `json:"model_used,omitempty"`
	CacheHit         bool                 `json:"cache_hit"`
	CacheTier        string               `json:"cache_tier,omitempty"`
	QualityPassed    bool                 `json:"quality_passed"`
	UsedFallback     bool                 `json:"used_fallback"`
	ProcessingTimeMS float64              `json:"processing_time_ms"`
	CostUSD          float64              `json:"cost_usd"`
	Errors           []string             `json:"errors,omitempty"`
}

// Pipeline runs queries through the staged flow.
type Pipeline struct {
	cache     AnswerCache
	retriever retrieval.Retriever
	generator Generator
	scorer    Scorer
	shortTerm *memory.ShortTerm
	longTerm  *memory.LongTerm
	evalLog   EvalLog

	topK             int
	maxTokens        int
	qualityThreshold float64
	enableFallback   bool
	judgeFailure     config.JudgeFailureMode

	logger *zap.Logger
}

// Options carries the pipeline's tuning knobs out of config.
type Options struct {
	TopK             int
	MaxTokens        int
	QualityThreshold float64
	EnableFallback   bool
	JudgeFailure     config.JudgeFailureMode
}

// New wires the pipeline from its collaborators.
func New(answerCache AnswerCache, retriever retrieval.Retriever, generator Generator, scorer Scorer,
	shortTerm *memory.ShortTerm, longTerm *memory.LongTerm, evalLog EvalLog,
	opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cache:            answerCache,
		retriever:        retriever,
		generator:        generator,
		scorer:           scorer,
		shortTerm:        shortTerm,
		longTerm:         longTerm,
		evalLog:          evalLog,
		topK:             opts.TopK,
		maxTokens:        opts.MaxTokens,
		qualityThreshold: opts.QualityThreshold,
		enableFallback:   opts.EnableFallback,
		judgeFailure:     opts.JudgeFailure,
		logger:           logger,
	}
}

type stage struct {
	name string
	run  func(ctx context.Context, s *State) stateUpdate
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"cache_check", p.checkCache},
		{"retrieval", p.retrieve},
		{"generation", p.generate},
		{"judge", p.judgeAnswer},
		{"fallback", p.applyFallback},
		{"memory_update", p.updateMemory},
	}
}

// Process runs a query through every stage and always returns a usable
// result: whatever happens inside the stages, the caller gets an answer
// (the fallback message in the worst case) and the list of errors that
// occurred along the way.
func (p *Pipeline) Process(ctx context.Context, query, userID, sessionID string) *Result {
	s := newState(query, userID, sessionID)

	for _, st := range p.stages() {
		update := p.runStage(ctx, st, s)
		update.apply(s)
	}

	if s.Answer == "" {
		s.Answer = llm.FallbackMessage
		s.UsedFallback = true
	}

	result := &Result{
		Answer:           s.Answer,
		RetrievedDocs:    s.RetrievedDocs,
		Evaluation:       s.Evaluation,
		ModelUsed:        s.ModelUsed,
		CacheHit:         s.CacheHit,
		CacheTier:        s.CacheTier,
		QualityPassed:    s.QualityPassed,
		UsedFallback:     s.UsedFallback,
		ProcessingTimeMS: float64(time.Since(s.StartedAt).Microseconds()) / 1000.0,
		CostUSD:          s.CostUSD,
		Errors:           s.Errors,
	}

	p.logger.Info("query processed",
		zap.Bool("cache_hit", result.CacheHit),
		zap.Bool("quality_passed", result.QualityPassed),
		zap.Bool("used_fallback", result.UsedFallback),
		zap.Float64("processing_ms", result.ProcessingTimeMS),
		zap.Int("errors", len(result.Errors)))

	return result
}

// runStage executes one stage under a panic guard. A panicking stage yields
// a no-op update plus an error entry; the remaining stages still run.
func (p *Pipeline) runStage(ctx context.Context, st stage, s *State) (update stateUpdate) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("stage panicked",
				zap.String("stage", st.name),
				zap.Any("panic", r))
			s.Errors = append(s.Errors, fmt.Sprintf("%s: panic: %v", st.name, r))
			update = noopUpdate{}
		}
	}()
	return st.run(ctx, s)
}
