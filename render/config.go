// Package render schedules page decodes for a visible range and publishes
// rendered buffers as immutable snapshots.
package render

import (
	"image/color"
	"math"

	"github.com/wudi/pdfview/pagecache"
)

// Config is the render configuration for one pass: it determines both the
// visual output and the pixel dimensions that form the cache key. Immutable
// value; build a new one whenever zoom or quality settings change.
type Config struct {
	// Zoom is the user zoom level, > 0.
	Zoom float64
	// Quality multiplies the output resolution beyond the zoom, > 0.
	// 1 renders at screen resolution; 2 renders at double for sharp
	// downscaling on high-density displays.
	Quality float64
	// NightMode inverts rendered pages.
	NightMode bool
	// Background fills the page before decoding. Zero value means white.
	Background color.RGBA
}

// DefaultConfig renders at 1:1 with a white background.
func DefaultConfig() Config {
	return Config{Zoom: 1, Quality: 1, Background: color.RGBA{R: 255, G: 255, B: 255, A: 255}}
}

func (c Config) normalized() Config {
	if c.Zoom <= 0 {
		c.Zoom = 1
	}
	if c.Quality <= 0 {
		c.Quality = 1
	}
	if c.Background.A == 0 {
		c.Background = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}
	return c
}

// Scale is the factor applied to a page's natural size.
func (c Config) Scale() float64 {
	c = c.normalized()
	return c.Zoom * c.Quality
}

// KeyFor derives the cache key for a page from its natural size. Pixel
// dimensions are floored and clamped to at least one pixel, so the key is
// reconstructible from (page, Config, natural size) alone.
func (c Config) KeyFor(page int, naturalW, naturalH float64) pagecache.Key {
	scale := c.Scale()
	w := int(math.Floor(naturalW * scale))
	h := int(math.Floor(naturalH * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return pagecache.Key{Page: page, Zoom: c.normalized().Zoom, Width: w, Height: h}
}
