package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/storage"
)

func TestDeriveKeyNormalization(t *testing.T) {
	a := DeriveKey("  What is   RAG? ", "u1", "s1", "v1")
	b := DeriveKey("what is rag?", "u1", "s1", "v1")
	assert.Equal(t, a, b)
}

func TestDeriveKeyScoping(t *testing.T) {
	base := DeriveKey("what is rag?", "u1", "s1", "v1")

	assert.NotEqual(t, base, DeriveKey("what is rag?", "u2", "s1", "v1"), "user scopes the key")
	assert.NotEqual(t, base, DeriveKey("what is rag?", "u1", "s2", "v1"), "session scopes the key")
	assert.NotEqual(t, base, DeriveKey("what is rag?", "u1", "s1", "v2"), "doc-set version scopes the key")
	assert.Len(t, base, 64)
}

func newTestCache(t *testing.T) (*Cache, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache_test.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := New(db, 100, time.Hour, "v1", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, db
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "What is RAG?", "u1", "s1", "Retrieval augmented generation.", 0.9, map[string]string{"model": "m1"}))
	c.Wait()

	entry, found := c.Get(ctx, "what is   rag?", "u1", "s1")
	require.True(t, found)
	assert.Equal(t, "Retrieval augmented generation.", entry.Answer)
	assert.Equal(t, 0.9, entry.JudgeScore)
	assert.Equal(t, TierHot, entry.Tier)
	assert.Equal(t, "m1", entry.Metadata["model"])
}

func TestCacheMissOnDifferentSession(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "q", "u1", "s1", "a", 0.8, nil))
	c.Wait()

	_, found := c.Get(ctx, "q", "u1", "other-session")
	assert.False(t, found)
}

func TestCacheDurableTierSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache_test.sqlite3"))
	require.NoError(t, err)
	defer db.Close()

	first, err := New(db, 100, time.Hour, "v1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "q", "u1", "s1", "a", 0.8, nil))
	first.Close()

	// A fresh cache instance has an empty hot tier; the durable tier answers.
	second, err := New(db, 100, time.Hour, "v1", zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	entry, found := second.Get(ctx, "q", "u1", "s1")
	require.True(t, found)
	assert.Equal(t, TierDurable, entry.Tier)
	assert.Equal(t, "a", entry.Answer)
}

func TestCacheClear(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "q", "u1", "s1", "a", 0.8, nil))
	c.Wait()
	require.NoError(t, c.Clear(ctx))

	_, found := c.Get(ctx, "q", "u1", "s1")
	assert.False(t, found)
	assert.Equal(t, int64(0), c.Stats(ctx).EntryCount)
}

func TestCacheStats(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "q1", "u1", "s1", "a1", 0.8, nil))
	require.NoError(t, c.Set(ctx, "q2", "u1", "s1", "a2", 1.0, nil))
	c.Wait()

	c.Get(ctx, "q1", "u1", "s1")
	c.Get(ctx, "missing", "u1", "s1")

	stats := c.Stats(ctx)
	assert.Equal(t, int64(2), stats.EntryCount)
	assert.InDelta(t, 0.9, stats.AvgJudgeScore, 0.001)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}
