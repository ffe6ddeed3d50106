package render

import (
	"context"
	"errors"
	"sync"

	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/observability"
	"github.com/wudi/pdfview/pagecache"
)

// DefaultPrefetchWindow is how many pages beyond the visible range are
// rendered on each side to mask scroll latency.
const DefaultPrefetchWindow = 2

// DefaultWorkers bounds concurrently running decode jobs. Decode work is
// serialized at the document handle anyway; the bound keeps goroutine and
// scratch-buffer pressure predictable.
const DefaultWorkers = 4

// SchedulerConfig carries the scheduler's policy knobs. Zero values select
// the defaults; the "right" values are an embedder tuning decision.
type SchedulerConfig struct {
	PrefetchWindow int
	Workers        int
	Logger         observability.Logger
}

type pendingJob struct {
	page   int
	cancel context.CancelFunc
}

// Scheduler turns a visible-page range plus render configuration into a
// prioritized, cancellable set of decode jobs, deduplicated against the page
// cache and the in-flight set. Resolved pages are published as immutable
// page-to-buffer snapshots.
//
// RequestRender, InvalidateAll and InvalidatePage serialize on one mutex so
// the pending-job set and cache stay consistent; decode jobs themselves run
// concurrently with each other and with the caller.
type Scheduler struct {
	handle *document.Handle
	cache  *pagecache.PageCache
	pool   *pagecache.BufferPool

	prefetch int
	sem      chan struct{}
	log      observability.Logger

	mu       sync.Mutex
	pending  map[int]*pendingJob
	results  map[int]*pagecache.Buffer
	onUpdate func(map[int]*pagecache.Buffer)
}

// NewScheduler wires a scheduler to its document handle, cache and pool.
func NewScheduler(handle *document.Handle, cache *pagecache.PageCache, pool *pagecache.BufferPool, cfg SchedulerConfig) *Scheduler {
	if cfg.PrefetchWindow <= 0 {
		cfg.PrefetchWindow = DefaultPrefetchWindow
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	return &Scheduler{
		handle:   handle,
		cache:    cache,
		pool:     pool,
		prefetch: cfg.PrefetchWindow,
		sem:      make(chan struct{}, cfg.Workers),
		log:      observability.OrNop(cfg.Logger),
		pending:  make(map[int]*pendingJob),
		results:  make(map[int]*pagecache.Buffer),
	}
}

// OnUpdate registers fn to receive a fresh snapshot whenever the result map
// changes. The snapshot is a copy; fn may retain it. fn is called without the
// scheduler lock held.
func (s *Scheduler) OnUpdate(fn func(map[int]*pagecache.Buffer)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current page-to-buffer result map.
func (s *Scheduler) Snapshot() map[int]*pagecache.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() map[int]*pagecache.Buffer {
	out := make(map[int]*pagecache.Buffer, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// publishLocked captures a snapshot for the observer; the returned closure
// must be invoked after releasing s.mu.
func (s *Scheduler) publishLocked() func() {
	if s.onUpdate == nil {
		return nil
	}
	snap := s.snapshotLocked()
	fn := s.onUpdate
	return func() { fn(snap) }
}

// RequestRender computes the target page set for the inclusive visible range
// [first, last] extended by the prefetch window, cancels pending jobs that
// fell outside it, publishes cache hits immediately and launches decode jobs
// for the rest in ascending page order. first > last means an empty document
// and is a no-op.
func (s *Scheduler) RequestRender(ctx context.Context, first, last int, cfg Config) {
	if first > last {
		return
	}
	pageCount := s.handle.PageCount()
	if pageCount == 0 {
		return
	}

	lo := first - s.prefetch
	if lo < 0 {
		lo = 0
	}
	hi := last + s.prefetch
	if hi > pageCount-1 {
		hi = pageCount - 1
	}

	s.mu.Lock()

	// Out-of-range jobs are cancelled strictly before new ones launch so
	// old and new renders of one page never run concurrently.
	for page, job := range s.pending {
		if page < lo || page > hi {
			job.cancel()
			delete(s.pending, page)
		}
	}

	changed := false
	for page := lo; page <= hi; page++ {
		natW, natH, err := s.pageSizeLocked(page)
		if err != nil {
			s.log.Warn("page size unavailable",
				observability.Int("page", page), observability.Error("err", err))
			continue
		}
		key := cfg.KeyFor(page, natW, natH)

		if buf, ok := s.cache.Get(key); ok {
			if s.results[page] != buf {
				s.results[page] = buf
				changed = true
			}
			continue
		}
		if _, inflight := s.pending[page]; inflight {
			continue
		}

		jobCtx, cancel := context.WithCancel(ctx)
		job := &pendingJob{page: page, cancel: cancel}
		s.pending[page] = job
		go s.run(jobCtx, job, key, cfg)
	}

	var notify func()
	if changed {
		notify = s.publishLocked()
	}
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// pageSizeLocked is called with s.mu held; the handle has its own lock and
// never calls back into the scheduler, so the order scheduler -> handle is
// safe.
func (s *Scheduler) pageSizeLocked(page int) (float64, float64, error) {
	return s.handle.PageSize(page)
}

func (s *Scheduler) run(ctx context.Context, job *pendingJob, key pagecache.Key, cfg Config) {
	defer job.cancel()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finish(job, key, nil, ctx.Err())
		return
	}

	buf, err := decodePage(ctx, s.handle, job.page, cfg, key, s.pool)
	s.finish(job, key, buf, err)
}

// finish commits or discards a job's result. A job that was superseded or
// cancelled never inserts into the cache and returns its scratch buffer to
// the pool.
func (s *Scheduler) finish(job *pendingJob, key pagecache.Key, buf *pagecache.Buffer, err error) {
	s.mu.Lock()

	if s.pending[job.page] != job {
		// Cancelled by a later RequestRender/Invalidate; bookkeeping for
		// this page is no longer ours.
		s.mu.Unlock()
		if buf != nil {
			s.pool.Put(buf)
		}
		return
	}
	delete(s.pending, job.page)

	if err != nil {
		s.mu.Unlock()
		if buf != nil {
			s.pool.Put(buf)
		}
		if !errors.Is(err, context.Canceled) {
			// Dropped silently; the page stays unresolved and is retried
			// on the next RequestRender that still covers it.
			s.log.Warn("page render failed",
				observability.Int("page", job.page), observability.Error("err", err))
		}
		return
	}

	s.cache.Put(key, buf)
	s.results[job.page] = buf
	notify := s.publishLocked()
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// InvalidateAll cancels every pending job, clears the page cache and empties
// the published result map. Used when zoom changed enough that previously
// rendered resolutions are stale.
func (s *Scheduler) InvalidateAll() {
	s.mu.Lock()
	for page, job := range s.pending {
		job.cancel()
		delete(s.pending, page)
	}
	s.cache.Clear()
	s.results = make(map[int]*pagecache.Buffer)
	notify := s.publishLocked()
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// InvalidatePage cancels page's pending job if any, drops all of its cached
// resolutions and removes it from the result map.
func (s *Scheduler) InvalidatePage(page int) {
	s.mu.Lock()
	if job, ok := s.pending[page]; ok {
		job.cancel()
		delete(s.pending, page)
	}
	s.cache.ClearPage(page)
	delete(s.results, page)
	notify := s.publishLocked()
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// PendingPages reports the page indices with in-flight decode jobs.
func (s *Scheduler) PendingPages() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.pending))
	for page := range s.pending {
		out = append(out, page)
	}
	return out
}
