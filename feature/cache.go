package feature

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/mmrec/core"
	"github.com/rushteam/mmrec/metrics"
)

// CachedSource 在一个 EmbeddingSource 之外加一层进程内缓存，按过期时间与 LRU 淘汰。
// 帖子 embedding 发布后不再变化，适合较长的 TTL。
type CachedSource struct {
	inner      core.EmbeddingSource
	maxSize    int
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[int64]*cacheEntry

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	emb        *core.Embedding
	expireTime time.Time
	accessTime time.Time
}

// NewCachedSource 创建缓存，并启动每分钟一次的过期清理。用完需 Close。
func NewCachedSource(inner core.EmbeddingSource, maxSize int, ttl time.Duration) *CachedSource {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &CachedSource{
		inner:      inner,
		maxSize:    maxSize,
		defaultTTL: ttl,
		entries:    make(map[int64]*cacheEntry),
		stop:       make(chan struct{}),
	}
	go c.cleanup(time.Minute)
	return c
}

func (c *CachedSource) Name() string { return "cached." + c.inner.Name() }

func (c *CachedSource) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *CachedSource) cleanExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.After(e.expireTime) {
			delete(c.entries, id)
		}
	}
}

// Close 停止清理协程。
func (c *CachedSource) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Len 返回当前缓存条目数。
func (c *CachedSource) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedSource) lookup(id int64, now time.Time) (*core.Embedding, bool) {
	e, ok := c.entries[id]
	if !ok || now.After(e.expireTime) {
		return nil, false
	}
	e.accessTime = now
	return e.emb, true
}

func (c *CachedSource) store(id int64, emb *core.Embedding, now time.Time) {
	if _, ok := c.entries[id]; !ok && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}
	c.entries[id] = &cacheEntry{emb: emb, expireTime: now.Add(c.defaultTTL), accessTime: now}
}

// evictLRU 删除最久未访问的条目。
func (c *CachedSource) evictLRU() {
	var (
		oldestKey  int64
		oldestTime time.Time
		first      = true
	)
	for key, e := range c.entries {
		if first || e.accessTime.Before(oldestTime) {
			oldestKey, oldestTime, first = key, e.accessTime, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

func (c *CachedSource) GetEmbedding(ctx context.Context, itemID int64) (*core.Embedding, error) {
	c.mu.Lock()
	emb, ok := c.lookup(itemID, time.Now())
	c.mu.Unlock()
	if ok {
		metrics.EmbeddingCacheHits.Inc()
		return emb, nil
	}
	metrics.EmbeddingCacheMisses.Inc()

	emb, err := c.inner.GetEmbedding(ctx, itemID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store(itemID, emb, time.Now())
	c.mu.Unlock()
	return emb, nil
}

// BatchGetEmbeddings 只把缓存未命中的帖子交给下层来源查询。
func (c *CachedSource) BatchGetEmbeddings(ctx context.Context, itemIDs []int64) (map[int64]*core.Embedding, error) {
	out := make(map[int64]*core.Embedding, len(itemIDs))
	var missing []int64

	now := time.Now()
	c.mu.Lock()
	for _, id := range itemIDs {
		if emb, ok := c.lookup(id, now); ok {
			out[id] = emb
			continue
		}
		missing = append(missing, id)
	}
	c.mu.Unlock()
	metrics.EmbeddingCacheHits.Add(float64(len(out)))
	metrics.EmbeddingCacheMisses.Add(float64(len(missing)))

	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.inner.BatchGetEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}

	now = time.Now()
	c.mu.Lock()
	for id, emb := range fetched {
		c.store(id, emb, now)
		out[id] = emb
	}
	c.mu.Unlock()
	return out, nil
}

var _ core.EmbeddingSource = (*CachedSource)(nil)
