package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/memory"
)

const (
	// Per-document character budget in the generation prompt. Documents are
	// chunks already, so the head carries the signal.
	docPromptBudget = 300

	// History window rendered into the generation prompt.
	historyTurns      = 4
	historyCharBudget = 100

	generationTemperature = 0.7
)

// checkCache serves an answer from the two-tier cache when one exists. A
// cache failure is indistinguishable from a miss by construction, so this
// stage cannot fail.
func (p *Pipeline) checkCache(ctx context.Context, s *State) stateUpdate {
	entry, found := p.cache.Get(ctx, s.Query, s.UserID, s.SessionID)
	if !found {
		return cacheCheckUpdate{}
	}
	return cacheCheckUpdate{
		hit:    true,
		tier:   string(entry.Tier),
		answer: entry.Answer,
	}
}

// retrieve fetches the top-k documents. On failure the pipeline continues
// with no documents; generation then refuses or the judge scores the answer
// down, which is strictly better than aborting the query.
func (p *Pipeline) retrieve(ctx context.Context, s *State) stateUpdate {
	if s.CacheHit {
		return noopUpdate{}
	}
	docs, err := p.retriever.Retrieve(ctx, s.Query, p.topK)
	if err != nil {
		p.logger.Warn("retrieval failed, continuing without documents", zap.Error(err))
		return retrievalUpdate{err: fmt.Sprintf("retrieval: %v", err)}
	}
	return retrievalUpdate{docs: docs}
}

// generate produces an answer from the retrieved documents and recent
// conversation history.
func (p *Pipeline) generate(ctx context.Context, s *State) stateUpdate {
	if s.CacheHit {
		return noopUpdate{}
	}

	prompt := llm.RAGPrompt(p.contextBlock(s), s.Query, p.historyBlock(s.SessionID))
	result, err := p.generator.Generate(ctx, prompt, p.maxTokens, generationTemperature)
	if err != nil {
		p.logger.Error("generation failed", zap.Error(err))
		return generationUpdate{err: fmt.Sprintf("generation: %v", err)}
	}
	return generationUpdate{
		answer:    result.Answer,
		model:     p.generator.Model(),
		latencyMS: result.LatencyMS,
		costUSD:   result.CostUSD,
	}
}

// judgeAnswer scores the answer. Cached answers were judged before they were
// cached and pass at full score; an empty answer fails outright. When the
// judge itself is down, the configured failure mode decides between a
// mid-score pass and a hard fail.
func (p *Pipeline) judgeAnswer(ctx context.Context, s *State) stateUpdate {
	if s.CacheHit {
		return judgeUpdate{
			evaluation: &judge.Evaluation{Score: 1.0, Reasons: "Cached answer", Criteria: map[string]float64{}},
			passed:     true,
		}
	}
	if strings.TrimSpace(s.Answer) == "" {
		return judgeUpdate{
			evaluation: &judge.Evaluation{Score: 0.0, Reasons: "No answer generated", Criteria: map[string]float64{}},
			passed:     false,
		}
	}

	eval, err := p.scorer.Evaluate(ctx, s.Query, s.Answer, s.RetrievedDocs)
	if err != nil {
		if p.judgeFailure == config.JudgeFailureStrict {
			p.logger.Error("judge unavailable, failing quality gate", zap.Error(err))
			return judgeUpdate{
				evaluation: &judge.Evaluation{Score: 0.0, Reasons: "Judge unavailable", Criteria: map[string]float64{}},
				passed:     false,
				err:        fmt.Sprintf("judge: %v", err),
			}
		}
		p.logger.Warn("judge unavailable, passing leniently", zap.Error(err))
		return judgeUpdate{
			evaluation: judge.DefaultEvaluation("Judge unavailable"),
			passed:     true,
			err:        fmt.Sprintf("judge: %v", err),
		}
	}
	return judgeUpdate{
		evaluation: eval,
		passed:     eval.Score >= p.qualityThreshold,
	}
}

// applyFallback swaps in the fixed fallback message when the quality gate
// failed and fallback is enabled.
func (p *Pipeline) applyFallback(_ context.Context, s *State) stateUpdate {
	if s.QualityPassed || !p.enableFallback {
		return fallbackUpdate{}
	}
	p.logger.Info("quality gate failed, using fallback answer",
		zap.Float64("score", evalScore(s)))
	return fallbackUpdate{answer: llm.FallbackMessage, usedFallback: true}
}

// updateMemory records the exchange. Everything here is best effort: memory
// writes never change the answer the caller already has, so failures are
// collected and logged, not raised.
func (p *Pipeline) updateMemory(ctx context.Context, s *State) stateUpdate {
	var errs []string
	record := func(what string, err error) {
		if err != nil {
			p.logger.Warn("memory update failed", zap.String("op", what), zap.Error(err))
			errs = append(errs, fmt.Sprintf("memory %s: %v", what, err))
		}
	}

	p.shortTerm.Add(s.SessionID, memory.Message{Role: "user", Content: s.Query})
	p.shortTerm.Add(s.SessionID, memory.Message{Role: "assistant", Content: s.Answer})

	// Only answers that earned their score are worth remembering durably or
	// serving again from cache.
	if s.QualityPassed && !s.UsedFallback {
		record("history", p.longTerm.AddQAPair(s.SessionID, s.Query, s.Answer))
		_, err := p.longTerm.RecordInteraction(s.UserID, s.SessionID, s.Query, s.Answer, map[string]string{
			"model": s.ModelUsed,
		})
		record("interaction", err)

		if !s.CacheHit {
			record("cache", p.cache.Set(ctx, s.Query, s.UserID, s.SessionID, s.Answer, evalScore(s), map[string]string{
				"model": s.ModelUsed,
			}))
		}
	}

	p.evalLog.Record(s)

	return memoryUpdate{errs: errs}
}

// contextBlock renders retrieved documents for the generation prompt with
// numbered headers and source attribution.
func (p *Pipeline) contextBlock(s *State) string {
	if len(s.RetrievedDocs) == 0 {
		return "No context available"
	}
	var b strings.Builder
	for i, doc := range s.RetrievedDocs {
		content := doc.Content
		if len(content) > docPromptBudget {
			content = content[:docPromptBudget]
		}
		source := doc.Metadata["source"]
		if source == "" {
			source = "unknown"
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Document %d: %s (Source: %s)", i+1, content, source)
	}
	return b.String()
}

// historyBlock renders the most recent short-term turns for the prompt.
func (p *Pipeline) historyBlock(sessionID string) string {
	msgs := p.shortTerm.Recent(sessionID, historyTurns)
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, msg := range msgs {
		content := msg.Content
		if len(content) > historyCharBudget {
			content = content[:historyCharBudget]
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", msg.Role, content)
	}
	return b.String()
}

func evalScore(s *State) float64 {
	if s.Evaluation == nil {
		return 0
	}
	return s.Evaluation.Score
}
