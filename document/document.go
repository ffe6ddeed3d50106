// Package document defines the decode-backend capability the viewer consumes
// and the Handle that serializes all access to a single open document.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/wudi/pdfview/observability"
	"github.com/wudi/pdfview/pagecache"
)

// ErrNotOpen is returned for page operations before a successful Open.
var ErrNotOpen = errors.New("document: no document open")

// Transform describes how a page is mapped onto an output buffer.
type Transform struct {
	// Scale multiplies the page's natural size; the output buffer has
	// already been sized accordingly.
	Scale float64
}

// Document is one opened document. Implementations are not required to be
// safe for concurrent use; Handle provides the necessary serialization.
type Document interface {
	PageCount() int
	// PageSize reports the page's natural width and height in
	// document-defined units, independent of zoom or DPI.
	PageSize(index int) (w, h float64, err error)
	// RenderPage decodes page index into dst, which is sized for the
	// transform. Implementations should honor ctx at decode boundaries.
	RenderPage(ctx context.Context, index int, tf Transform, dst *pagecache.Buffer) error
	Close() error
}

// Backend opens documents from local files.
type Backend interface {
	Open(path string) (Document, error)
}

// Handle owns at most one open Document and funnels every access through one
// mutex: page-description backends are generally not safe for concurrent page
// access, so decode work for different pages serializes here even though the
// scheduler issues jobs concurrently.
type Handle struct {
	mu    sync.Mutex
	doc   Document
	temps []string
	log   observability.Logger
}

// NewHandle creates an empty handle. log may be nil.
func NewHandle(log observability.Logger) *Handle {
	return &Handle{log: observability.OrNop(log)}
}

// Open opens path with the backend, replacing any previously open document.
// The old document is released first; open/close is serialized against every
// other handle operation.
func (h *Handle) Open(backend Backend, path string) error {
	if backend == nil {
		return errors.New("document: nil backend")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closeLocked()

	doc, err := backend.Open(path)
	if err != nil {
		return fmt.Errorf("document: open %s: %w", path, err)
	}
	h.doc = doc
	return nil
}

// IsOpen reports whether a document is currently open.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc != nil
}

// PageCount returns the open document's page count, or 0 when closed.
func (h *Handle) PageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doc == nil {
		return 0
	}
	return h.doc.PageCount()
}

// PageSize returns page index's natural size.
func (h *Handle) PageSize(index int) (w, h2 float64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doc == nil {
		return 0, 0, ErrNotOpen
	}
	return h.doc.PageSize(index)
}

// WithPage runs fn with exclusive access to the document. Concurrent calls
// queue on the handle's mutex. fn must not retain the Document or call back
// into the handle.
func (h *Handle) WithPage(ctx context.Context, fn func(Document) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doc == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(h.doc)
}

// TrackTemp registers a temporary file created while resolving the source;
// it is removed on Close.
func (h *Handle) TrackTemp(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.temps = append(h.temps, path)
}

// Close releases the document and any tracked temporary files. Errors are
// swallowed: Close runs during teardown and must never fail loudly.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *Handle) closeLocked() {
	if h.doc != nil {
		if err := h.doc.Close(); err != nil {
			h.log.Warn("document close failed", observability.Error("err", err))
		}
		h.doc = nil
	}
	for _, p := range h.temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			h.log.Warn("temp file cleanup failed",
				observability.String("path", p), observability.Error("err", err))
		}
	}
	h.temps = nil
}
