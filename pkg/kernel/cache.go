package kernel

import (
	"context"
	"sync"
	"time"
)

// Cache 为 AccessToken / Ticket 使用的键值缓存能力。
type Cache interface {
	// Get 返回缓存值；未命中或已过期时 ok 为 false。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set 写入缓存值，ttl <= 0 表示不过期。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete 删除缓存值。
	Delete(ctx context.Context, key string) error
}

type memoryItem struct {
	value    string
	expireAt time.Time
}

// MemoryCache 为进程内缓存实现，适合单实例部署与测试。
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryCache 创建进程内缓存。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get 实现 Cache 接口。
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !item.expireAt.IsZero() && !c.now().Before(item.expireAt) {
		// 过期项惰性清理。
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expireAt.Equal(item.expireAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}
	return item.value, true, nil
}

// Set 实现 Cache 接口。
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expireAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = item
	c.mu.Unlock()
	return nil
}

// Delete 实现 Cache 接口。
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}
