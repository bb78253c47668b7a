package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/cache"
	"github.com/a-marczewski/ragpipe/internal/config"
	"github.com/a-marczewski/ragpipe/internal/judge"
	"github.com/a-marczewski/ragpipe/internal/llm"
	"github.com/a-marczewski/ragpipe/internal/memory"
	"github.com/a-marczewski/ragpipe/internal/retrieval"
	"github.com/a-marczewski/ragpipe/internal/storage"
)

type fakeCache struct {
	entries map[string]*cache.Entry
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*cache.Entry)}
}

func (f *fakeCache) key(query, userID, sessionID string) string {
	return cache.DeriveKey(query, userID, sessionID, "v1")
}

func (f *fakeCache) Get(_ context.Context, query, userID, sessionID string) (*cache.Entry, bool) {
	entry, ok := f.entries[f.key(query, userID, sessionID)]
	if !ok {
		return nil, false
	}
	hit := *entry
	hit.Tier = cache.TierHot
	return &hit, true
}

func (f *fakeCache) Set(_ context.Context, query, userID, sessionID, answer string, judgeScore float64, metadata map[string]string) error {
	f.sets++
	f.entries[f.key(query, userID, sessionID)] = &cache.Entry{
		Query: query, Answer: answer, JudgeScore: judgeScore,
		UserID: userID, SessionID: sessionID, Metadata: metadata,
	}
	return nil
}

type fakeRetriever struct {
	docs  []retrieval.Document
	err   error
	calls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]retrieval.Document, error) {
	f.calls++
	return f.docs, f.err
}

type fakeGenerator struct {
	answer string
	err    error
	calls  int
}

func (f *fakeGenerator) Model() string { return "test-model" }

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ int, _ float64) (*llm.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Answer: f.answer, LatencyMS: 5, CostUSD: 0.0001}, nil
}

type fakeScorer struct {
	score float64
	err   error
	calls int
}

func (f *fakeScorer) Evaluate(_ context.Context, _, _ string, _ []retrieval.Document) (*judge.Evaluation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &judge.Evaluation{Score: f.score, Reasons: "scored", Criteria: map[string]float64{}}, nil
}

type fakeEvalLog struct {
	records int
}

func (f *fakeEvalLog) Record(*State) { f.records++ }

type fixture struct {
	pipeline  *Pipeline
	cache     *fakeCache
	retriever *fakeRetriever
	generator *fakeGenerator
	scorer    *fakeScorer
	evalLog   *fakeEvalLog
	longTerm  *memory.LongTerm
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "pipeline_test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		cache: newFakeCache(),
		retriever: &fakeRetriever{docs: []retrieval.Document{
			{Content: "RAG combines retrieval with generation.", Metadata: map[string]string{"source": "docs/rag.md"}},
		}},
		generator: &fakeGenerator{answer: "According to Document 1, RAG combines retrieval with generation."},
		scorer:    &fakeScorer{score: 0.9},
		evalLog:   &fakeEvalLog{},
		longTerm:  memory.NewLongTerm(db, zap.NewNop()),
	}
	f.pipeline = New(f.cache, f.retriever, f.generator, f.scorer,
		memory.NewShortTerm(20), f.longTerm, f.evalLog, opts, zap.NewNop())
	return f
}

func defaultOptions() Options {
	return Options{
		TopK:             2,
		MaxTokens:        512,
		QualityThreshold: 0.7,
		EnableFallback:   true,
		JudgeFailure:     config.JudgeFailureLenient,
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, defaultOptions())

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	require.NotNil(t, result)
	assert.Equal(t, f.generator.answer, result.Answer)
	assert.False(t, result.CacheHit)
	assert.True(t, result.QualityPassed)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, "test-model", result.ModelUsed)
	assert.Len(t, result.RetrievedDocs, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, f.cache.sets, "passing answers are cached")
	assert.Equal(t, 1, f.evalLog.records)

	msgs, err := f.longTerm.GetSessionMessages("s1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "passing answers land in long-term history")
}

func TestProcessCacheHitSkipsGenerationAndRetrieval(t *testing.T) {
	f := newFixture(t, defaultOptions())
	ctx := context.Background()

	first := f.pipeline.Process(ctx, "What is RAG?", "u1", "s1")
	require.False(t, first.CacheHit)

	second := f.pipeline.Process(ctx, "what is   rag?", "u1", "s1")
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)
	assert.True(t, second.QualityPassed)
	require.NotNil(t, second.Evaluation)
	assert.Equal(t, 1.0, second.Evaluation.Score)
	assert.Equal(t, "Cached answer", second.Evaluation.Reasons)
	assert.Equal(t, 1, f.generator.calls, "cached answers skip generation")
	assert.Equal(t, 1, f.retriever.calls, "cached answers skip retrieval")
	assert.Equal(t, 1, f.cache.sets, "cache hits are not rewritten")
}

func TestProcessQualityFailureUsesFallback(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.scorer.score = 0.3

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.False(t, result.QualityPassed)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, llm.FallbackMessage, result.Answer)
	assert.Equal(t, 0, f.cache.sets, "failed answers are never cached")

	msgs, err := f.longTerm.GetSessionMessages("s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "fallback answers stay out of long-term history")
}

func TestProcessFallbackDisabledKeepsAnswer(t *testing.T) {
	opts := defaultOptions()
	opts.EnableFallback = false
	f := newFixture(t, opts)
	f.scorer.score = 0.3

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.False(t, result.QualityPassed)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, f.generator.answer, result.Answer)
}

func TestProcessRetrievalFailureContinues(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.retriever.err = errors.New("search service down")

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.NotEmpty(t, result.Answer)
	assert.Equal(t, 1, f.generator.calls, "generation still runs without documents")
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "retrieval")
}

func TestProcessGenerationFailureFallsBack(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.generator.err = errors.New("all backends down")

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.True(t, result.UsedFallback)
	assert.Equal(t, llm.FallbackMessage, result.Answer)
	assert.False(t, result.QualityPassed)
	require.NotNil(t, result.Evaluation)
	assert.Equal(t, 0.0, result.Evaluation.Score)
	assert.Equal(t, "No answer generated", result.Evaluation.Reasons)
}

func TestProcessJudgeFailureLenient(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.scorer.err = errors.New("judge backend down")

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.True(t, result.QualityPassed)
	assert.False(t, result.UsedFallback)
	assert.Equal(t, f.generator.answer, result.Answer)
	require.NotNil(t, result.Evaluation)
	assert.Equal(t, 0.5, result.Evaluation.Score)
	assert.NotEmpty(t, result.Errors)
}

func TestProcessJudgeFailureStrict(t *testing.T) {
	opts := defaultOptions()
	opts.JudgeFailure = config.JudgeFailureStrict
	f := newFixture(t, opts)
	f.scorer.err = errors.New("judge backend down")

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	assert.False(t, result.QualityPassed)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, llm.FallbackMessage, result.Answer)
}

func TestProcessNeverReturnsEmptyAnswer(t *testing.T) {
	opts := defaultOptions()
	opts.EnableFallback = false
	f := newFixture(t, opts)
	f.generator.err = errors.New("down")
	f.retriever.err = errors.New("down")
	f.scorer.err = errors.New("down")

	result := f.pipeline.Process(context.Background(), "What is RAG?", "u1", "s1")

	require.NotNil(t, result)
	assert.NotEmpty(t, result.Answer)
	assert.True(t, result.UsedFallback)
}

func TestProcessHistoryFlowsIntoFollowUp(t *testing.T) {
	f := newFixture(t, defaultOptions())
	ctx := context.Background()

	f.pipeline.Process(ctx, "What is RAG?", "u1", "s1")
	f.pipeline.Process(ctx, "Tell me more about it", "u1", "s1")

	assert.Equal(t, 2, f.generator.calls)
}
