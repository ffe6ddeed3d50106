package pagecache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/wudi/pdfview/observability"
)

// PageCache maps Key to rendered buffers, bounded by the summed byte size of
// the resident buffers. Least-recently-used entries are evicted first and
// their buffers handed to the pool for reuse.
//
// The byte ceiling is supplied by the embedder; this package never queries
// platform memory.
//
// Safe for concurrent use.
type PageCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[Key, *Buffer]
	pool     *BufferPool
	maxBytes int64
	size     int64
	log      observability.Logger
}

// NewPageCache creates a cache bounded to maxBytes. The pool receives every
// evicted buffer; it may be nil, in which case evicted buffers are dropped.
func NewPageCache(maxBytes int64, pool *BufferPool, log observability.Logger) *PageCache {
	c := &PageCache{
		pool:     pool,
		maxBytes: maxBytes,
		log:      observability.OrNop(log),
	}
	// The LRU bounds entry count; the byte bound is enforced in Put. MaxInt
	// keeps the count bound out of the way.
	lru, err := simplelru.NewLRU[Key, *Buffer](math.MaxInt, c.onEvict)
	if err != nil {
		panic(err) // only fails for size <= 0
	}
	c.lru = lru
	return c
}

// onEvict runs under c.mu for every entry leaving the LRU, whether by
// eviction, Remove or Purge.
func (c *PageCache) onEvict(key Key, buf *Buffer) {
	c.size -= buf.SizeBytes()
	if c.pool != nil {
		c.pool.Put(buf)
	}
}

// Get returns the buffer cached under key, if any, marking it recently used.
func (c *PageCache) Get(key Key) (*Buffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put inserts buf under key, taking ownership of it, then evicts
// least-recently-used entries until the total resident size fits maxBytes.
// A buffer larger than the whole budget is inserted and evicted again
// immediately; callers see the same "absent next time" behavior as any
// other eviction.
func (c *PageCache) Put(key Key, buf *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing an entry releases the old buffer through onEvict first so
	// size accounting stays exact.
	if c.lru.Contains(key) {
		c.lru.Remove(key)
	}

	c.lru.Add(key, buf)
	c.size += buf.SizeBytes()

	for c.size > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// ClearPage removes every cached resolution of the given page. A page can be
// resident at several zoom levels at once, so this walks all keys.
func (c *PageCache) ClearPage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.Page == page {
			c.lru.Remove(key)
		}
	}
}

// Clear evicts everything, returning all buffers to the pool.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len reports the number of resident entries.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// SizeBytes reports the summed size of resident buffers.
func (c *PageCache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxBytes reports the configured byte ceiling.
func (c *PageCache) MaxBytes() int64 { return c.maxBytes }
