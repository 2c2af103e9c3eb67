// Package cache provides the interpretation result stores: in memory, SQLite
// and Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

// InMemoryCache provides a simple thread-safe in-memory cache.
type InMemoryCache struct {
	store  map[string]cacheItem
	mutex  sync.RWMutex
	ttl    time.Duration
	logger *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	value      []byte
	expiration int64
}

// NewInMemoryCache creates a new in-memory cache with a default TTL. Close
// stops its background cleanup.
func NewInMemoryCache(defaultTTL time.Duration, logger *zap.Logger) *InMemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &InMemoryCache{
		store:  make(map[string]cacheItem),
		ttl:    defaultTTL,
		logger: logger,
		stop:   make(chan struct{}),
	}
	go c.cleanupLoop(10 * time.Minute)
	return c
}

func miss(reason string) error {
	return errbuilder.NotFoundErr(errbuilder.GenericErr(reason, nil))
}

// Get retrieves an item from the cache.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errbuilder.WrapIfContextDone(ctx, err)
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, found := c.store[key]
	if !found {
		return nil, miss("cache item not found")
	}

	if time.Now().UnixNano() > item.expiration {
		// Expired items are removed lazily by the cleanup loop.
		c.logger.Debug("cache item expired", zap.String("key", key))
		return nil, miss("cache item expired")
	}

	return append([]byte(nil), item.value...), nil
}

// Set adds or updates an item in the cache.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return errbuilder.WrapIfContextDone(ctx, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.store[key] = cacheItem{
		value:      append([]byte(nil), value...),
		expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.logger.Debug("cache item set", zap.String("key", key))
	return nil
}

// Len reports the number of stored items, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.store)
}

// Close stops the cleanup loop. It is safe to call more than once.
func (c *InMemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *InMemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.purgeExpired()
		}
	}
}

func (c *InMemoryCache) purgeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := time.Now().UnixNano()
	for key, item := range c.store {
		if now > item.expiration {
			delete(c.store, key)
		}
	}
}
