package render

import (
	"context"
	"image/color"

	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/pagecache"
)

// decodePage renders one page into a pool-backed buffer. On any error the
// scratch buffer goes back to the pool; ownership of a returned buffer is the
// caller's.
func decodePage(ctx context.Context, handle *document.Handle, page int, cfg Config, key pagecache.Key, pool *pagecache.BufferPool) (*pagecache.Buffer, error) {
	buf := pool.Get(key.Width, key.Height, pagecache.FormatRGBA8888)

	err := handle.WithPage(ctx, func(doc document.Document) error {
		fill(buf, cfg.normalized().Background)
		if err := doc.RenderPage(ctx, page, document.Transform{Scale: cfg.Scale()}, buf); err != nil {
			return err
		}
		if cfg.NightMode {
			invert(buf)
		}
		return nil
	})
	if err != nil {
		pool.Put(buf)
		return nil, err
	}
	return buf, nil
}

func fill(buf *pagecache.Buffer, c color.RGBA) {
	if buf.Format != pagecache.FormatRGBA8888 {
		return
	}
	px := buf.Pix
	for i := 0; i+3 < len(px); i += 4 {
		px[i] = c.R
		px[i+1] = c.G
		px[i+2] = c.B
		px[i+3] = c.A
	}
}

// invert flips RGB channels in place, leaving alpha alone.
func invert(buf *pagecache.Buffer) {
	if buf.Format != pagecache.FormatRGBA8888 {
		return
	}
	px := buf.Pix
	for i := 0; i+3 < len(px); i += 4 {
		px[i] = 255 - px[i]
		px[i+1] = 255 - px[i+1]
		px[i+2] = 255 - px[i+2]
	}
}
