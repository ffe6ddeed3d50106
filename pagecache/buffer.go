// Package pagecache holds rendered page bitmaps in a byte-size-bounded LRU
// and recycles evicted pixel buffers through a small free-list pool.
//
// Ownership of a Buffer is exclusive at any instant: it belongs to either the
// pool's free list, a cache entry, or the decode job currently filling it.
// Handoffs happen at BufferPool.Get, PageCache.Put and eviction.
package pagecache

import (
	"fmt"
	"image"
)

// Format identifies the pixel layout of a Buffer.
type Format int

const (
	FormatRGBA8888 Format = iota // 4 bytes per pixel, R G B A
	FormatGray8                  // 1 byte per pixel
)

// BytesPerPixel reports the storage cost of one pixel in this format.
func (f Format) BytesPerPixel() int {
	if f == FormatGray8 {
		return 1
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case FormatRGBA8888:
		return "rgba8888"
	case FormatGray8:
		return "gray8"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Buffer is an owned pixel buffer for one rendered page.
type Buffer struct {
	Pix    []byte
	Width  int
	Height int
	Format Format
}

// NewBuffer allocates a zeroed buffer for the given shape.
func NewBuffer(width, height int, format Format) *Buffer {
	return &Buffer{
		Pix:    make([]byte, width*height*format.BytesPerPixel()),
		Width:  width,
		Height: height,
		Format: format,
	}
}

// SizeBytes is the resident pixel storage of the buffer.
func (b *Buffer) SizeBytes() int64 { return int64(len(b.Pix)) }

// Stride is the byte distance between vertically adjacent pixels.
func (b *Buffer) Stride() int { return b.Width * b.Format.BytesPerPixel() }

// RGBA exposes an RGBA8888 buffer as an *image.RGBA sharing the same pixels.
// The view is only valid while the caller owns the buffer.
func (b *Buffer) RGBA() (*image.RGBA, error) {
	if b.Format != FormatRGBA8888 {
		return nil, fmt.Errorf("pagecache: buffer format %s is not rgba8888", b.Format)
	}
	return &image.RGBA{
		Pix:    b.Pix,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}, nil
}

// Key identifies one rendered resolution of one page. Equality is structural
// over all four fields, so the same page at a different zoom or pixel size is
// a distinct cache entry.
type Key struct {
	Page   int
	Zoom   float64
	Width  int
	Height int
}

func (k Key) String() string {
	return fmt.Sprintf("page=%d zoom=%.3f %dx%d", k.Page, k.Zoom, k.Width, k.Height)
}
