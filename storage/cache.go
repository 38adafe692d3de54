package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type backend interface {
	Get(ctx context.Context, id string) (domain.Board, error)
	Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error)
	Put(ctx context.Context, b domain.Board) (domain.Board, error)
	Delete(ctx context.Context, id string) (string, error)
}

// Cache wraps a board store with a Redis read-through cache for single
// board reads. Writes go to the store and then evict the cached copy; the
// next Get repopulates it. Redis failures never fail a call.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, id string) (domain.Board, error) {
	if b, ok := c.load(ctx, id); ok {
		return b, nil
	}
	b, err := c.base.Get(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, b)
	return b, nil
}

// Query always reads from the store; filtered lists are not cached.
func (c *Cache) Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	return c.base.Query(ctx, f)
}

func (c *Cache) Put(ctx context.Context, b domain.Board) (domain.Board, error) {
	saved, err := c.base.Put(ctx, b)
	if err != nil {
		c.evict(ctx, b.ID)
		return domain.Board{}, err
	}
	c.evict(ctx, saved.ID)
	return saved, nil
}

func (c *Cache) Delete(ctx context.Context, id string) (string, error) {
	removed, err := c.base.Delete(ctx, id)
	c.evict(ctx, id)
	if err != nil {
		return "", err
	}
	return removed, nil
}

func (c *Cache) load(ctx context.Context, id string) (domain.Board, bool) {
	if c.redis == nil {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(id)).Err()
		}
		return domain.Board{}, false
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(id)).Err()
		return domain.Board{}, false
	}
	b.Normalize()
	return b, true
}

func (c *Cache) store(ctx context.Context, b domain.Board) {
	if c.redis == nil || c.ttl == 0 || b.ID == "" {
		return
	}
	data, err := sonic.Marshal(b)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(b.ID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, id string) {
	if c.redis == nil || id == "" {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(id)).Result()
}

func boardCacheKey(id string) string {
	return "board:" + id
}
