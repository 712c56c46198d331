package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"conflux-trader/internal/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SeriesCache 缓存原始行情序列，未命中时返回 (nil, false, nil)
type SeriesCache interface {
	Get(ctx context.Context, key string) ([]model.Bar, bool, error)
	Set(ctx context.Context, key string, bars []model.Bar, ttl time.Duration) error
}

// RedisCache 以 JSON 字符串存储序列
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]model.Bar, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var bars []model.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, false, fmt.Errorf("decode cached series %s: %w", key, err)
	}
	return bars, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, bars []model.Bar, ttl time.Duration) error {
	encoded, err := json.Marshal(bars)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

type memoryEntry struct {
	bars    []model.Bar
	expires time.Time
}

// MemoryCache 进程内缓存，未启用 Redis 时使用
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]model.Bar, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		return nil, false, nil
	}
	return append([]model.Bar(nil), e.bars...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, bars []model.Bar, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{bars: append([]model.Bar(nil), bars...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// CachedProvider 先查缓存再访问下游；缓存故障只记录日志
type CachedProvider struct {
	Next   Provider
	Cache  SeriesCache
	TTL    time.Duration
	Logger *zap.Logger
}

func cacheKey(q Query) string {
	return fmt.Sprintf("market-chart-%s-%s-%d", q.Coin, q.VsCurrency, q.Days)
}

func (p *CachedProvider) Fetch(ctx context.Context, q Query) ([]model.Bar, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	key := cacheKey(q)

	bars, ok, err := p.Cache.Get(ctx, key)
	switch {
	case err != nil:
		logger.Warn("Series cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		logger.Debug("Series cache hit", zap.String("key", key), zap.Int("bars", len(bars)))
		return bars, nil
	}

	bars, err = p.Next.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := p.Cache.Set(ctx, key, bars, p.TTL); err != nil {
		logger.Warn("Series cache write failed", zap.String("key", key), zap.Error(err))
	}
	return bars, nil
}
