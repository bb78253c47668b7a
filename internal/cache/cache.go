// Package cache implements the two-tier answer cache: a hot in-process tier
// with a bounded TTL in front of a durable sqlite tier. Every failure path
// degrades to a miss or a no-op; the cache never raises into the pipeline.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragpipe/internal/storage"
)

// Tier identifies which cache tier served a hit.
type Tier string

const (
	TierHot     Tier = "hot"
	TierDurable Tier = "durable"
)

// Entry is a cached answer plus its provenance.
type Entry struct {
	Query       string
	Answer      string
	JudgeScore  float64
	UserID      string
	SessionID   string
	Metadata    map[string]string
	CachedAt    time.Time
	AccessCount int64
	Tier        Tier
}

// Stats summarizes cache state for the admin surface.
type Stats struct {
	EntryCount    int64   `json:"entry_count"`
	AvgJudgeScore float64 `json:"avg_judge_score"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	HotKeysAdded  uint64  `json:"hot_keys_added"`
}

// Cache is the two-tier answer cache.
type Cache struct {
	hot           *ristretto.Cache[string, *Entry]
	db            *storage.DB
	l1TTL         time.Duration
	docSetVersion string
	logger        *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a two-tier cache over the given database. maxEntries bounds the
// hot tier; the durable tier grows until explicitly cleared.
func New(db *storage.DB, maxEntries int64, l1TTL time.Duration, docSetVersion string, logger *zap.Logger) (*Cache, error) {
	hot, err := ristretto.NewCache(&ristretto.Config[string, *Entry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		hot:           hot,
		db:            db,
		l1TTL:         l1TTL,
		docSetVersion: docSetVersion,
		logger:        logger,
	}, nil
}

// Get looks up the cached answer for a query. The hot tier is checked first,
// then the durable tier. A durable hit is not promoted into the hot tier: the
// hot tier fills only on writes, so one cold lookup cannot evict entries that
// are being actively re-asked. Returns the entry and the tier that served it.
func (c *Cache) Get(ctx context.Context, query, userID, sessionID string) (*Entry, bool) {
	key := DeriveKey(query, userID, sessionID, c.docSetVersion)

	if entry, found := c.hot.Get(key); found {
		c.hits.Add(1)
		c.logger.Info("cache hit", zap.String("tier", string(TierHot)), zap.String("key", key[:12]))
		hit := *entry
		hit.Tier = TierHot
		return &hit, true
	}

	entry, err := c.getDurable(ctx, key)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("durable tier lookup failed", zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	c.logger.Info("cache hit", zap.String("tier", string(TierDurable)), zap.String("key", key[:12]))
	entry.Tier = TierDurable
	return entry, true
}

func (c *Cache) getDurable(ctx context.Context, key string) (*Entry, error) {
	row := c.db.Conn().QueryRowContext(ctx, `
		SELECT query, answer, judge_score, user_id, session_id, metadata, created_at, access_count
		FROM answer_cache WHERE cache_key = ?
	`, key)

	var entry Entry
	var metadataJSON string
	var createdAt int64
	if err := row.Scan(
		&entry.Query, &entry.Answer, &entry.JudgeScore,
		&entry.UserID, &entry.SessionID, &metadataJSON,
		&createdAt, &entry.AccessCount,
	); err != nil {
		return nil, err
	}
	entry.CachedAt = time.Unix(createdAt, 0)
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			entry.Metadata = nil
		}
	}

	// Best-effort access bookkeeping.
	if _, err := c.db.Conn().ExecContext(ctx, `
		UPDATE answer_cache SET accessed_at = ?, access_count = access_count + 1
		WHERE cache_key = ?
	`, time.Now().Unix(), key); err != nil {
		c.logger.Warn("failed to update access metadata", zap.Error(err))
	}

	return &entry, nil
}

// Set stores a judged answer in both tiers. The durable write is the one that
// matters; a hot-tier write failure only costs freshness, never correctness,
// so it is not treated as an error.
func (c *Cache) Set(ctx context.Context, query, userID, sessionID, answer string, judgeScore float64, metadata map[string]string) error {
	key := DeriveKey(query, userID, sessionID, c.docSetVersion)
	now := time.Now()

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	if _, err := c.db.Conn().ExecContext(ctx, `
		INSERT OR REPLACE INTO answer_cache
		(cache_key, query, answer, judge_score, user_id, session_id, metadata, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, key, query, answer, judgeScore, userID, sessionID, string(metadataJSON), now.Unix(), now.Unix()); err != nil {
		c.logger.Error("durable tier write failed", zap.Error(err))
		return err
	}

	entry := &Entry{
		Query:      query,
		Answer:     answer,
		JudgeScore: judgeScore,
		UserID:     userID,
		SessionID:  sessionID,
		Metadata:   metadata,
		CachedAt:   now,
	}
	if !c.hot.SetWithTTL(key, entry, 1, c.l1TTL) {
		c.logger.Debug("hot tier rejected entry", zap.String("key", key[:12]))
	}

	return nil
}

// Clear empties both tiers. A failure in one tier is logged and does not stop
// the other from being cleared.
func (c *Cache) Clear(ctx context.Context) error {
	c.hot.Clear()

	if _, err := c.db.Conn().ExecContext(ctx, "DELETE FROM answer_cache"); err != nil {
		c.logger.Error("failed to clear durable tier", zap.Error(err))
		return err
	}
	c.logger.Info("cache cleared")
	return nil
}

// Stats reports durable-tier counts plus hit/miss accounting for this process.
func (c *Cache) Stats(ctx context.Context) Stats {
	stats := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	if metrics := c.hot.Metrics; metrics != nil {
		stats.HotKeysAdded = metrics.KeysAdded()
	}

	if err := c.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(judge_score), 0) FROM answer_cache",
	).Scan(&stats.EntryCount, &stats.AvgJudgeScore); err != nil {
		c.logger.Warn("failed to read cache stats", zap.Error(err))
	}
	return stats
}

// Wait flushes pending hot-tier writes. Intended for tests and shutdown.
func (c *Cache) Wait() {
	c.hot.Wait()
}

// Close releases hot-tier resources. The database is owned by the caller.
func (c *Cache) Close() {
	c.hot.Close()
}
