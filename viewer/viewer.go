// Package viewer is the coordination facade: it owns one document handle,
// one render scheduler wired to the page cache and buffer pool, and one
// remote loader, and translates UI intents (load source, scroll, zoom) into
// calls on them.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/wudi/pdfview/diskcache"
	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/fetch"
	"github.com/wudi/pdfview/observability"
	"github.com/wudi/pdfview/pagecache"
	"github.com/wudi/pdfview/remote"
	"github.com/wudi/pdfview/render"
)

// DefaultZoomThreshold is how far zoom must drift from the last rendered
// zoom before cached resolutions are considered stale.
const DefaultZoomThreshold = 0.1

// pageCacheShare is the fraction of the embedder's memory budget given to
// the rendered-page cache.
const pageCacheShare = 4

// Options configures a Controller. Backend, CacheDir and MemoryBudgetBytes
// are required; everything else defaults.
type Options struct {
	// Backend decodes documents. Required.
	Backend document.Backend
	// CacheDir is the remote-document disk cache root. Required for
	// OpenURL; optional when only local files are viewed.
	CacheDir string
	// MemoryBudgetBytes is the embedder-supplied memory budget; the page
	// cache is bounded to a quarter of it. Required.
	MemoryBudgetBytes int64

	// Policy knobs; zero values select the defaults.
	PrefetchWindow int
	ZoomThreshold  float64
	PoolCapacity   int
	Workers        int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	Logger observability.Logger
}

// Controller coordinates the render pipeline for one viewport.
//
// Controller methods are safe for concurrent use; rendering work happens on
// background goroutines owned by the scheduler.
type Controller struct {
	opts   Options
	log    observability.Logger
	handle *document.Handle
	pool   *pagecache.BufferPool
	cache  *pagecache.PageCache
	sched  *render.Scheduler
	disk   *diskcache.Manager
	loader *remote.Loader

	mu               sync.Mutex // guards the view state below
	cfg              render.Config
	lastRenderedZoom float64
	first, last      int
	hasRange         bool
	onRemote         func(remote.State)
	zoomThreshold    float64
}

// New validates opts and builds the pipeline.
func New(opts Options) (*Controller, error) {
	if opts.Backend == nil {
		return nil, errors.New("viewer: Options.Backend is required")
	}
	if opts.MemoryBudgetBytes <= 0 {
		return nil, errors.New("viewer: Options.MemoryBudgetBytes is required")
	}
	log := observability.OrNop(opts.Logger)

	handle := document.NewHandle(log)
	pool := pagecache.NewBufferPool(opts.PoolCapacity)
	cache := pagecache.NewPageCache(opts.MemoryBudgetBytes/pageCacheShare, pool, log)
	sched := render.NewScheduler(handle, cache, pool, render.SchedulerConfig{
		PrefetchWindow: opts.PrefetchWindow,
		Workers:        opts.Workers,
		Logger:         log,
	})

	c := &Controller{
		opts:             opts,
		log:              log,
		handle:           handle,
		pool:             pool,
		cache:            cache,
		sched:            sched,
		cfg:              render.DefaultConfig(),
		lastRenderedZoom: 1,
		zoomThreshold:    opts.ZoomThreshold,
	}
	if c.zoomThreshold <= 0 {
		c.zoomThreshold = DefaultZoomThreshold
	}

	if opts.CacheDir != "" {
		disk, err := diskcache.New(opts.CacheDir, log)
		if err != nil {
			return nil, err
		}
		c.disk = disk
		c.loader = remote.NewLoader(disk, &fetch.Downloader{
			ConnectTimeout: opts.ConnectTimeout,
			ReadTimeout:    opts.ReadTimeout,
			Logger:         log,
		}, log)
	}
	return c, nil
}

// OnUpdate registers the UI observer for page snapshots; see
// render.Scheduler.OnUpdate.
func (c *Controller) OnUpdate(fn func(map[int]*pagecache.Buffer)) { c.sched.OnUpdate(fn) }

// OnRemoteState registers an observer for remote-load states.
func (c *Controller) OnRemoteState(fn func(remote.State)) {
	c.mu.Lock()
	c.onRemote = fn
	c.mu.Unlock()
}

// OpenFile opens a local document, replacing any current one. Open failures
// (bad bytes, unsupported format) are fatal for this attempt and surface to
// the caller.
func (c *Controller) OpenFile(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openFileLocked(ctx, path)
}

func (c *Controller) openFileLocked(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sched.InvalidateAll()
	if err := c.handle.Open(c.opts.Backend, path); err != nil {
		return err
	}
	c.cfg = render.DefaultConfig()
	c.lastRenderedZoom = 1
	c.hasRange = false
	c.log.Info("document opened",
		observability.String("path", path),
		observability.Int("pages", c.handle.PageCount()))
	return nil
}

// OpenURL resolves src through the remote loader, forwarding every state to
// the OnRemoteState observer, then opens the cached file. The downloaded
// file stays in the disk cache for future loads.
func (c *Controller) OpenURL(ctx context.Context, src remote.Source) error {
	c.mu.Lock()
	if c.loader == nil {
		c.mu.Unlock()
		return errors.New("viewer: no cache directory configured for remote loading")
	}
	loader := c.loader
	notify := c.onRemote
	c.mu.Unlock()

	var final remote.State
	for state := range loader.Load(ctx, src) {
		if notify != nil {
			notify(state)
		}
		final = state
	}

	switch s := final.(type) {
	case remote.Cached:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.openFileLocked(ctx, s.Path)
	case remote.Failed:
		return &fetch.Error{Kind: s.Kind, Status: s.Status, Message: s.Message}
	default:
		// Channel closed without a terminal state: the context died.
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("viewer: remote load ended in %T", final)
	}
}

// SetVisibleRange reports the inclusive page range the viewport shows and
// triggers rendering for it plus the prefetch window.
func (c *Controller) SetVisibleRange(ctx context.Context, first, last int) {
	c.mu.Lock()
	c.first, c.last = first, last
	c.hasRange = true
	cfg := c.cfg
	c.mu.Unlock()
	c.sched.RequestRender(ctx, first, last, cfg)
}

// SetZoom updates the zoom level. When the drift from the last rendered zoom
// exceeds the threshold, previously rendered resolutions are stale: the
// pipeline is invalidated and the current range re-rendered. Smaller drifts
// only update the configuration, so a pinch gesture does not thrash the
// decoder; the UI keeps scaling the existing bitmaps.
func (c *Controller) SetZoom(ctx context.Context, zoom float64) {
	if zoom <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg.Zoom = zoom
	rerender := math.Abs(zoom-c.lastRenderedZoom) > c.zoomThreshold && c.hasRange
	if rerender {
		c.lastRenderedZoom = zoom
	}
	first, last := c.first, c.last
	cfg := c.cfg
	c.mu.Unlock()

	if rerender {
		c.sched.InvalidateAll()
		c.sched.RequestRender(ctx, first, last, cfg)
	}
}

// SetNightMode toggles inverted rendering and re-renders the current range.
func (c *Controller) SetNightMode(ctx context.Context, night bool) {
	c.mu.Lock()
	if c.cfg.NightMode == night {
		c.mu.Unlock()
		return
	}
	c.cfg.NightMode = night
	first, last := c.first, c.last
	hasRange := c.hasRange
	cfg := c.cfg
	c.mu.Unlock()

	c.sched.InvalidateAll()
	if hasRange {
		c.sched.RequestRender(ctx, first, last, cfg)
	}
}

// SetBackground changes the page background color; takes effect on the next
// render request.
func (c *Controller) SetBackground(bg color.RGBA) {
	c.mu.Lock()
	c.cfg.Background = bg
	c.mu.Unlock()
}

// Zoom returns the current zoom level.
func (c *Controller) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Zoom
}

// PageCount returns the open document's page count, or 0.
func (c *Controller) PageCount() int { return c.handle.PageCount() }

// PageSize returns a page's natural size.
func (c *Controller) PageSize(index int) (w, h float64, err error) {
	return c.handle.PageSize(index)
}

// Snapshot returns the current page-to-buffer result map; see
// render.Scheduler.Snapshot.
func (c *Controller) Snapshot() map[int]*pagecache.Buffer { return c.sched.Snapshot() }

// Thumbnail downscales page's current rendered buffer, if resolved.
func (c *Controller) Thumbnail(page, maxDim int) (*image.RGBA, error) {
	buf := c.sched.Snapshot()[page]
	if buf == nil {
		return nil, fmt.Errorf("viewer: page %d is not rendered", page)
	}
	return render.Thumbnail(buf, maxDim)
}

// DiskCache exposes the remote-document cache for maintenance operations;
// nil when no cache directory was configured.
func (c *Controller) DiskCache() *diskcache.Manager { return c.disk }

// Close cancels outstanding work and releases the document.
func (c *Controller) Close() {
	c.sched.InvalidateAll()
	c.handle.Close()
}
