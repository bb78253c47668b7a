// Package eval emits one structured record per processed query, suitable for
// offline quality analysis. Recording is best effort and never affects the
// query path.
package eval

import (
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/pipeline"
)

// Logger writes evaluation records through the structured logging pipeline.
// Pointed at a JSON log file, the records form a line-delimited evaluation
// dataset.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates an evaluation logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("eval")}
}

// Record logs the outcome of one processed query.
func (l *Logger) Record(s *pipeline.State) {
	fields := []zap.Field{
		zap.String("session_id", s.SessionID),
		zap.String("user_id", s.UserID),
		zap.Int("query_chars", len(s.Query)),
		zap.Int("answer_chars", len(s.Answer)),
		zap.Int("docs_retrieved", len(s.RetrievedDocs)),
		zap.Bool("cache_hit", s.CacheHit),
		zap.Bool("quality_passed", s.QualityPassed),
		zap.Bool("used_fallback", s.UsedFallback),
		zap.Float64("cost_usd", s.CostUSD),
		zap.Float64("generation_ms", s.GenerationMS),
	}
	if s.ModelUsed != "" {
		fields = append(fields, zap.String("model", s.ModelUsed))
	}
	if s.Evaluation != nil {
		fields = append(fields,
			zap.Float64("judge_score", s.Evaluation.Score),
			zap.String("judge_reasons", s.Evaluation.Reasons))
	}
	if len(s.Errors) > 0 {
		fields = append(fields, zap.Strings("errors", s.Errors))
	}
	l.logger.Info("query evaluated", fields...)
}
