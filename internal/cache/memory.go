package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

// MemoryCache 进程内缓存，单实例部署或 Redis 不可用时使用
// 复合操作（SetNX、SetMax）由互斥锁保证原子性
type MemoryCache struct {
	mu    sync.Mutex
	store gcache.Cache
}

// NewMemory 创建容量为 size 的 LRU 缓存
func NewMemory(size int) *MemoryCache {
	return &MemoryCache{store: gcache.New(size).LRU().Build()}
}

// NewMemoryWithClock 使用指定时钟，测试中用于推进过期时间
func NewMemoryWithClock(size int, clock gcache.Clock) *MemoryCache {
	return &MemoryCache{store: gcache.New(size).LRU().Clock(clock).Build()}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.get(key)
}

func (c *MemoryCache) get(key string) ([]byte, error) {
	v, err := c.store.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}

func (c *MemoryCache) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		b, err := c.get(key)
		if errors.Is(err, ErrMiss) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(key, value, ttl)
}

func (c *MemoryCache) set(key string, value []byte, ttl time.Duration) error {
	v := append([]byte(nil), value...)
	if ttl <= 0 {
		return c.store.Set(key, v)
	}
	return c.store.SetWithExpire(key, v, ttl)
}

func (c *MemoryCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store.Has(key) {
		return false, nil
	}
	if err := c.set(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryCache) SetMax(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := int64(-1)
	if b, err := c.get(key); err == nil {
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			current = n
		}
	}

	result := current
	if value > current {
		result = value
	}
	if err := c.set(key, []byte(strconv.FormatInt(result, 10)), ttl); err != nil {
		return 0, err
	}
	return result, nil
}

func (c *MemoryCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.store.Remove(key)
	}
	return nil
}

func (c *MemoryCache) Ping(ctx context.Context) error {
	return nil
}

func (c *MemoryCache) Close() error {
	c.store.Purge()
	return nil
}
