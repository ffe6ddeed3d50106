package pagecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func key(page int, zoom float64, w, h int) Key {
	return Key{Page: page, Zoom: zoom, Width: w, Height: h}
}

func TestCachePutGet(t *testing.T) {
	c := NewPageCache(1<<20, nil, nil)
	buf := NewBuffer(10, 10, FormatRGBA8888)
	c.Put(key(0, 1.0, 10, 10), buf)

	got, ok := c.Get(key(0, 1.0, 10, 10))
	require.True(t, ok)
	require.Same(t, buf, got)

	_, ok = c.Get(key(1, 1.0, 10, 10))
	require.False(t, ok)
}

func TestCacheMultiResolutionCoexists(t *testing.T) {
	c := NewPageCache(1<<20, nil, nil)
	lo := NewBuffer(10, 10, FormatRGBA8888)
	hi := NewBuffer(20, 20, FormatRGBA8888)
	c.Put(key(3, 1.0, 10, 10), lo)
	c.Put(key(3, 2.0, 20, 20), hi)

	got, ok := c.Get(key(3, 1.0, 10, 10))
	require.True(t, ok)
	require.Same(t, lo, got)
	got, ok = c.Get(key(3, 2.0, 20, 20))
	require.True(t, ok)
	require.Same(t, hi, got)
}

func TestCacheEvictsLRUFirstAndStaysUnderBudget(t *testing.T) {
	// Each 10x10 RGBA buffer is 400 bytes; budget fits two.
	c := NewPageCache(800, nil, nil)
	for page := 0; page < 2; page++ {
		c.Put(key(page, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))
	}
	require.Equal(t, int64(800), c.SizeBytes())

	// Touch page 0 so page 1 is least recently used.
	_, ok := c.Get(key(0, 1.0, 10, 10))
	require.True(t, ok)

	c.Put(key(2, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))

	require.LessOrEqual(t, c.SizeBytes(), c.MaxBytes())
	_, ok = c.Get(key(1, 1.0, 10, 10))
	require.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(key(0, 1.0, 10, 10))
	require.True(t, ok)
	_, ok = c.Get(key(2, 1.0, 10, 10))
	require.True(t, ok)
}

func TestCacheEvictionFeedsPool(t *testing.T) {
	pool := NewBufferPool(4)
	c := NewPageCache(400, pool, nil)

	evictee := NewBuffer(10, 10, FormatRGBA8888)
	c.Put(key(0, 1.0, 10, 10), evictee)
	c.Put(key(1, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))

	require.Same(t, evictee, pool.Get(10, 10, FormatRGBA8888))
}

func TestCacheReplaceReleasesOldBuffer(t *testing.T) {
	pool := NewBufferPool(4)
	c := NewPageCache(1<<20, pool, nil)

	old := NewBuffer(10, 10, FormatRGBA8888)
	c.Put(key(0, 1.0, 10, 10), old)
	c.Put(key(0, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))

	require.Equal(t, int64(400), c.SizeBytes())
	require.Same(t, old, pool.Get(10, 10, FormatRGBA8888))
}

func TestCacheClearPageDropsAllResolutions(t *testing.T) {
	c := NewPageCache(1<<20, nil, nil)
	c.Put(key(5, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))
	c.Put(key(5, 2.0, 20, 20), NewBuffer(20, 20, FormatRGBA8888))
	c.Put(key(6, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))

	c.ClearPage(5)

	_, ok := c.Get(key(5, 1.0, 10, 10))
	require.False(t, ok)
	_, ok = c.Get(key(5, 2.0, 20, 20))
	require.False(t, ok)
	_, ok = c.Get(key(6, 1.0, 10, 10))
	require.True(t, ok)
	require.Equal(t, int64(400), c.SizeBytes())
}

func TestCacheClear(t *testing.T) {
	pool := NewBufferPool(10)
	c := NewPageCache(1<<20, pool, nil)
	for page := 0; page < 3; page++ {
		c.Put(key(page, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888))
	}

	c.Clear()

	require.Zero(t, c.Len())
	require.Zero(t, c.SizeBytes())
	require.Equal(t, 3, pool.Len(), "cleared buffers should return to the pool")
}

func TestCacheOversizedEntryIsEvictedImmediately(t *testing.T) {
	c := NewPageCache(100, nil, nil)
	c.Put(key(0, 1.0, 10, 10), NewBuffer(10, 10, FormatRGBA8888)) // 400 bytes > budget
	require.Zero(t, c.Len())
	require.Zero(t, c.SizeBytes())
}
