package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/pagecache"
)

// fakeDoc is a cooperative decode backend: RenderPage can be made to block
// until released or its context is cancelled.
type fakeDoc struct {
	pages int
	block chan struct{} // nil means decode completes immediately

	mu      sync.Mutex
	decodes map[int]int
	failing map[int]bool
}

func newFakeDoc(pages int) *fakeDoc {
	return &fakeDoc{pages: pages, decodes: make(map[int]int), failing: make(map[int]bool)}
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= d.pages {
		return 0, 0, errors.New("page out of range")
	}
	return 100, 100, nil
}

func (d *fakeDoc) RenderPage(ctx context.Context, index int, tf document.Transform, dst *pagecache.Buffer) error {
	d.mu.Lock()
	d.decodes[index]++
	fail := d.failing[index]
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("decode blew up")
	}
	dst.Pix[0] = byte(index + 1) // marker
	return nil
}

func (d *fakeDoc) Close() error { return nil }

func (d *fakeDoc) decodeCount(page int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decodes[page]
}

func (d *fakeDoc) totalDecodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.decodes {
		n += c
	}
	return n
}

type fakeBackend struct{ doc *fakeDoc }

func (b *fakeBackend) Open(string) (document.Document, error) { return b.doc, nil }

func newTestScheduler(t *testing.T, doc *fakeDoc, cfg SchedulerConfig) (*Scheduler, *pagecache.PageCache, *pagecache.BufferPool) {
	t.Helper()
	handle := document.NewHandle(nil)
	require.NoError(t, handle.Open(&fakeBackend{doc: doc}, "fake.pdf"))
	t.Cleanup(handle.Close)

	pool := pagecache.NewBufferPool(16)
	cache := pagecache.NewPageCache(64<<20, pool, nil)
	return NewScheduler(handle, cache, pool, cfg), cache, pool
}

func waitResolved(t *testing.T, s *Scheduler, pages ...int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		for _, p := range pages {
			if snap[p] == nil {
				return false
			}
		}
		return len(s.PendingPages()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRequestRenderResolvesVisibleAndPrefetch(t *testing.T) {
	doc := newFakeDoc(10)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 2})

	s.RequestRender(context.Background(), 4, 5, DefaultConfig())
	waitResolved(t, s, 2, 3, 4, 5, 6, 7)

	snap := s.Snapshot()
	require.Len(t, snap, 6, "exactly visible range plus prefetch on both sides")
	require.Equal(t, byte(5), snap[4].Pix[0], "buffer carries page 4's decode marker")
}

func TestRequestRenderClampsToDocument(t *testing.T) {
	doc := newFakeDoc(3)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 2})

	s.RequestRender(context.Background(), 0, 2, DefaultConfig())
	waitResolved(t, s, 0, 1, 2)
	require.Len(t, s.Snapshot(), 3)
}

func TestRequestRenderEmptyRangeIsNoop(t *testing.T) {
	doc := newFakeDoc(3)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{})

	s.RequestRender(context.Background(), 1, 0, DefaultConfig())
	require.Empty(t, s.PendingPages())
	require.Empty(t, s.Snapshot())
	require.Zero(t, doc.totalDecodes())
}

func TestOutOfRangePendingJobsAreCancelled(t *testing.T) {
	doc := newFakeDoc(12)
	doc.block = make(chan struct{})
	s, cache, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 0, 0, DefaultConfig())
	require.Eventually(t, func() bool { return doc.decodeCount(0) > 0 }, time.Second, time.Millisecond)

	// Jump far away; pages 0..1 fall out of the new target set [7,9].
	s.RequestRender(context.Background(), 8, 8, DefaultConfig())

	for _, p := range s.PendingPages() {
		require.GreaterOrEqual(t, p, 7)
		require.LessOrEqual(t, p, 9)
	}

	close(doc.block)
	waitResolved(t, s, 7, 8, 9)

	snap := s.Snapshot()
	require.Nil(t, snap[0], "cancelled job must not publish a result")
	require.Nil(t, snap[1])
	_, ok := cache.Get(pagecache.Key{Page: 0, Zoom: 1, Width: 100, Height: 100})
	require.False(t, ok, "cancelled job must not insert into the cache")
}

func TestInFlightJobsAreNotDuplicated(t *testing.T) {
	doc := newFakeDoc(4)
	doc.block = make(chan struct{})
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 0, 0, DefaultConfig())
	require.Eventually(t, func() bool { return doc.decodeCount(0) > 0 }, time.Second, time.Millisecond)
	require.Len(t, s.PendingPages(), 2)

	s.RequestRender(context.Background(), 0, 0, DefaultConfig())
	require.Len(t, s.PendingPages(), 2, "re-request must leave running jobs alone")

	close(doc.block)
	waitResolved(t, s, 0, 1)
	require.Equal(t, 1, doc.decodeCount(0))
	require.Equal(t, 1, doc.decodeCount(1))
}

func TestCacheHitsSkipDecode(t *testing.T) {
	doc := newFakeDoc(4)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 1, 1, DefaultConfig())
	waitResolved(t, s, 0, 1, 2)
	before := doc.totalDecodes()

	s.RequestRender(context.Background(), 1, 1, DefaultConfig())
	require.Empty(t, s.PendingPages())
	require.Equal(t, before, doc.totalDecodes(), "cached pages must not decode again")
}

func TestInvalidateAllForcesFreshDecodes(t *testing.T) {
	doc := newFakeDoc(4)
	s, cache, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 0, 0, DefaultConfig())
	waitResolved(t, s, 0, 1)
	before := doc.totalDecodes()

	s.InvalidateAll()
	require.Zero(t, cache.Len(), "page cache must be empty right after InvalidateAll")
	require.Empty(t, s.Snapshot())

	s.RequestRender(context.Background(), 0, 0, DefaultConfig())
	waitResolved(t, s, 0, 1)
	require.Equal(t, before+2, doc.totalDecodes(), "all pages decode fresh after invalidation")
}

func TestInvalidatePage(t *testing.T) {
	doc := newFakeDoc(4)
	s, cache, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 1, 1, DefaultConfig())
	waitResolved(t, s, 0, 1, 2)

	s.InvalidatePage(1)
	require.Nil(t, s.Snapshot()[1])
	_, ok := cache.Get(pagecache.Key{Page: 1, Zoom: 1, Width: 100, Height: 100})
	require.False(t, ok)

	s.RequestRender(context.Background(), 1, 1, DefaultConfig())
	waitResolved(t, s, 0, 1, 2)
	require.Equal(t, 2, doc.decodeCount(1))
	require.Equal(t, 1, doc.decodeCount(0), "other pages stay cached")
}

func TestCancellingContextLeavesNoDanglingState(t *testing.T) {
	doc := newFakeDoc(4)
	doc.block = make(chan struct{})
	s, cache, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	ctx, cancel := context.WithCancel(context.Background())
	s.RequestRender(ctx, 0, 0, DefaultConfig())
	require.Eventually(t, func() bool { return doc.decodeCount(0) > 0 }, time.Second, time.Millisecond)

	cancel()

	require.Eventually(t, func() bool { return len(s.PendingPages()) == 0 }, 2*time.Second, time.Millisecond)
	require.Zero(t, cache.Len(), "cancelled jobs must not commit partial results")
	require.Empty(t, s.Snapshot())
}

func TestDecodeFailureIsDroppedAndRetried(t *testing.T) {
	doc := newFakeDoc(2)
	doc.failing[0] = true
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 0, 1, DefaultConfig())
	waitResolved(t, s, 1)
	require.Nil(t, s.Snapshot()[0], "failed page stays unresolved")

	// The failure self-heals on the next request once decoding works again.
	doc.mu.Lock()
	doc.failing[0] = false
	doc.mu.Unlock()
	s.RequestRender(context.Background(), 0, 1, DefaultConfig())
	waitResolved(t, s, 0, 1)
	require.Equal(t, 2, doc.decodeCount(0))
}

func TestMultiResolutionEntriesCoexist(t *testing.T) {
	doc := newFakeDoc(2)
	s, cache, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	s.RequestRender(context.Background(), 0, 0, Config{Zoom: 1, Quality: 1})
	waitResolved(t, s, 0, 1)
	s.RequestRender(context.Background(), 0, 0, Config{Zoom: 2, Quality: 1})
	waitResolved(t, s, 0, 1)

	_, ok := cache.Get(pagecache.Key{Page: 0, Zoom: 1, Width: 100, Height: 100})
	require.True(t, ok)
	_, ok = cache.Get(pagecache.Key{Page: 0, Zoom: 2, Width: 200, Height: 200})
	require.True(t, ok)
}

func TestSnapshotsArePublishedOnChange(t *testing.T) {
	doc := newFakeDoc(3)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	var mu sync.Mutex
	var last map[int]*pagecache.Buffer
	s.OnUpdate(func(snap map[int]*pagecache.Buffer) {
		mu.Lock()
		last = snap
		mu.Unlock()
	})

	s.RequestRender(context.Background(), 0, 2, DefaultConfig())
	waitResolved(t, s, 0, 1, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 3)

	// Published snapshots are copies; mutating one must not affect the
	// scheduler's own state.
	delete(last, 0)
	require.Len(t, s.Snapshot(), 3)
}

func TestNightModeInvertsPixels(t *testing.T) {
	doc := newFakeDoc(1)
	s, _, _ := newTestScheduler(t, doc, SchedulerConfig{PrefetchWindow: 1})

	cfg := DefaultConfig()
	cfg.NightMode = true
	s.RequestRender(context.Background(), 0, 0, cfg)
	waitResolved(t, s, 0)

	buf := s.Snapshot()[0]
	// Marker byte(1) inverted, over an inverted white background.
	require.Equal(t, byte(254), buf.Pix[0])
	require.Equal(t, byte(0), buf.Pix[4], "background red channel inverted from 255")
	require.Equal(t, byte(255), buf.Pix[7], "alpha untouched")
}
