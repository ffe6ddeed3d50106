package render

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/wudi/pdfview/pagecache"
)

// Thumbnail downscales a rendered RGBA buffer so its longer edge is at most
// maxDim pixels, preserving aspect ratio. Buffers already within maxDim are
// copied at their original size. Intended for page-strip and overview UIs;
// the result is independent of the source buffer's ownership.
func Thumbnail(src *pagecache.Buffer, maxDim int) (*image.RGBA, error) {
	if maxDim < 1 {
		return nil, fmt.Errorf("render: thumbnail maxDim %d < 1", maxDim)
	}
	img, err := src.RGBA()
	if err != nil {
		return nil, err
	}

	w := img.Rect.Dx()
	h := img.Rect.Dy()
	scale := 1.0
	if w > maxDim || h > maxDim {
		if w >= h {
			scale = float64(maxDim) / float64(w)
		} else {
			scale = float64(maxDim) / float64(h)
		}
	}
	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, img.Rect, draw.Src, nil)
	return dst, nil
}
