package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a process-wide TTL cache with explicit invalidation.
// Values are shared between requests and must be treated as read-only.
type Cache struct {
	store *gocache.Cache
}

// New creates a cache whose entries expire after ttl
func New(ttl time.Duration) *Cache {
	return &Cache{store: gocache.New(ttl, 2*ttl)}
}

// Get returns the value stored under key, if any
func (c *Cache) Get(key string) (interface{}, bool) {
	return c.store.Get(key)
}

// Set stores a value with the default TTL
func (c *Cache) Set(key string, value interface{}) {
	c.store.SetDefault(key, value)
}

// Invalidate drops a single key
func (c *Cache) Invalidate(key string) {
	c.store.Delete(key)
}

// InvalidatePrefix drops every key starting with prefix
func (c *Cache) InvalidatePrefix(prefix string) {
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}

// GetOrLoad returns the cached value or stores the result of load.
// Errors from load are returned and nothing is cached.
func GetOrLoad[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	c.Set(key, value)
	return value, nil
}

// Key helpers keep the key layout in one place
const (
	ServerConfigKey = "server-config"
	favoritesPrefix = "favorites:"
)

// FavoritesKey is the cache key of a user's favorite model list
func FavoritesKey(userID string) string {
	return favoritesPrefix + userID
}
