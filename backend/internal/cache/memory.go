package cache

import (
	"sync"
	"time"
)

type MemoryCache struct {
	store sync.Map
	stop  chan struct{}
	once  sync.Once
}

type cacheItem struct {
	value      interface{}
	expiration time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithInterval(time.Minute)
}

// NewMemoryCacheWithInterval starts a cache whose expired entries are swept
// every interval.
func NewMemoryCacheWithInterval(interval time.Duration) *MemoryCache {
	cache := &MemoryCache{stop: make(chan struct{})}

	go cache.cleanup(interval)

	return cache
}

func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.store.Store(key, &cacheItem{
		value:      value,
		expiration: time.Now().Add(ttl),
	})
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	item, exists := c.store.Load(key)
	if !exists {
		return nil, false
	}

	cacheItem := item.(*cacheItem)

	if time.Now().After(cacheItem.expiration) {
		c.store.Delete(key)
		return nil, false
	}

	return cacheItem.value, true
}

func (c *MemoryCache) Delete(key string) {
	c.store.Delete(key)
}

func (c *MemoryCache) DeletePattern(pattern string) int {
	deleted := 0
	c.store.Range(func(key, _ interface{}) bool {
		if matchPattern(key.(string), pattern) {
			c.store.Delete(key)
			deleted++
		}
		return true
	})
	return deleted
}

func (c *MemoryCache) Clear() {
	c.store.Range(func(key, _ interface{}) bool {
		c.store.Delete(key)
		return true
	})
}

func (c *MemoryCache) Len() int {
	count := 0
	c.store.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

func (c *MemoryCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"items": c.Len(),
		"type":  "memory",
	}
}

func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.store.Range(func(key, value interface{}) bool {
				if now.After(value.(*cacheItem).expiration) {
					c.store.Delete(key)
				}
				return true
			})
		}
	}
}

// Close stops the sweeper and drops every entry.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	c.Clear()
	return nil
}

// matchPattern supports an exact key or a trailing "*" prefix match.
func matchPattern(text, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if len(pattern) > 0 && pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(text) >= len(prefix) && text[:len(prefix)] == prefix
	}

	return text == pattern
}
