package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quantumflow/finassist/internal/models"
)

type cachedResult struct {
	result   models.RetrievalResult
	cachedAt time.Time
}

// CachedIndex memoizes search results for a TTL.
// Valid because the index does not change after load.
type CachedIndex struct {
	next  Searcher
	ttl   time.Duration
	cache map[string]*cachedResult
	mu    sync.RWMutex
	stop  chan struct{}
	once  sync.Once
}

// NewCachedIndex wraps next with a TTL cache and starts background cleanup
func NewCachedIndex(next Searcher, ttl time.Duration) *CachedIndex {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &CachedIndex{
		next:  next,
		ttl:   ttl,
		cache: make(map[string]*cachedResult),
		stop:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Search serves from cache when a fresh entry exists. Errors are never cached.
func (c *CachedIndex) Search(ctx context.Context, query string, k int) (models.RetrievalResult, error) {
	key := cacheKey(query, k)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < c.ttl {
		return entry.result, nil
	}

	result, err := c.next.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = &cachedResult{result: result, cachedAt: time.Now()}
	c.mu.Unlock()

	return result, nil
}

// Len returns the number of cached entries, fresh or not
func (c *CachedIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Close stops the cleanup goroutine
func (c *CachedIndex) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanup removes expired entries periodically
func (c *CachedIndex) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.cache {
				if now.Sub(entry.cachedAt) > c.ttl {
					delete(c.cache, key)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func cacheKey(query string, k int) string {
	return fmt.Sprintf("%d|%s", k, strings.Join(strings.Fields(strings.ToLower(query)), " "))
}
