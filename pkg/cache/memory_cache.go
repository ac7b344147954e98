package cache

import (
	"sync"
	"time"
)

type item struct {
	value      interface{}
	expiration int64
}

// MemoryCache is a small TTL cache. Venue adapters use it to short-circuit
// repeated snapshot fetches against the same symbol.
type MemoryCache struct {
	items sync.Map
}

func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{}
	go c.cleanupExpired()
	return c
}

// Set stores a value with the given TTL. A zero TTL never expires.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	expiration := int64(0)
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	c.items.Store(key, &item{value: value, expiration: expiration})
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	v, exists := c.items.Load(key)
	if !exists {
		return nil, false
	}

	it := v.(*item)
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		c.items.Delete(key)
		return nil, false
	}
	return it.value, true
}

func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UnixNano()
		c.items.Range(func(key, value interface{}) bool {
			it := value.(*item)
			if it.expiration > 0 && now > it.expiration {
				c.items.Delete(key)
			}
			return true
		})
	}
}
