// Package scan is a metadata-grade document backend: it parses enough PDF
// structure to report page count and natural page sizes, and renders
// placeholder page bitmaps. It exists so the viewer pipeline (layout, cache
// keys, scheduling) runs end to end without a rasterizer; embedders plug in
// a real decode backend for actual page content.
//
// The scan is tolerant by design: no xref table is required, objects are
// located by a byte scan, and documents whose page objects live inside
// compressed object streams fall back to the page tree's /Count with
// default page sizes.
package scan

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/pagecache"
)

var pdfHeader = []byte("%PDF-")

// Default page size in points (US Letter), used when a page has no
// discoverable MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

var (
	objRe      = regexp.MustCompile(`(?s)\d+\s+\d+\s+obj\b(.*?)endobj`)
	pageRe     = regexp.MustCompile(`/Type\s*/Page\b`)
	pagesRe    = regexp.MustCompile(`/Type\s*/Pages\b`)
	countRe    = regexp.MustCompile(`/Count\s+(\d+)`)
	mediaBoxRe = regexp.MustCompile(`/MediaBox\s*\[\s*(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s+(-?[\d.]+)\s*\]`)
)

// Backend opens local PDF files for structure scanning.
type Backend struct{}

// New returns a scanning backend.
func New() *Backend { return &Backend{} }

type pageInfo struct {
	width  float64
	height float64
}

type doc struct {
	pages []pageInfo
}

// Open reads and scans path. Files without the %PDF- header or without any
// discoverable pages are rejected; that is fatal for the load attempt.
func (*Backend) Open(path string) (document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pdfHeader) {
		return nil, fmt.Errorf("scan: %s is not a PDF document", path)
	}

	pages := scanPages(data)
	if len(pages) == 0 {
		return nil, fmt.Errorf("scan: no pages found in %s", path)
	}
	return &doc{pages: pages}, nil
}

// scanPages walks every object body, collecting page objects in file order.
// A /Type /Pages node's MediaBox is inherited by pages without their own;
// its /Count backfills pages hidden inside object streams.
func scanPages(data []byte) []pageInfo {
	inherited := pageInfo{width: defaultPageWidth, height: defaultPageHeight}
	var pages []pageInfo
	treeCount := 0

	for _, m := range objRe.FindAllSubmatch(data, -1) {
		body := m[1]
		switch {
		case pagesRe.Match(body):
			if box, ok := parseMediaBox(body); ok {
				inherited = box
			}
			if c := countRe.FindSubmatch(body); c != nil {
				if n, err := strconv.Atoi(string(c[1])); err == nil && n > treeCount {
					treeCount = n
				}
			}
		case pageRe.Match(body):
			if box, ok := parseMediaBox(body); ok {
				pages = append(pages, box)
			} else {
				pages = append(pages, pageInfo{}) // size resolved below
			}
		}
	}

	for i := range pages {
		if pages[i].width <= 0 || pages[i].height <= 0 {
			pages[i] = inherited
		}
	}
	for len(pages) < treeCount {
		pages = append(pages, inherited)
	}
	return pages
}

func parseMediaBox(body []byte) (pageInfo, bool) {
	m := mediaBoxRe.FindSubmatch(body)
	if m == nil {
		return pageInfo{}, false
	}
	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(string(m[i+1]), 64)
		if err != nil {
			return pageInfo{}, false
		}
		vals[i] = v
	}
	w := vals[2] - vals[0]
	h := vals[3] - vals[1]
	if w <= 0 || h <= 0 {
		return pageInfo{}, false
	}
	return pageInfo{width: w, height: h}, true
}

func (d *doc) PageCount() int { return len(d.pages) }

func (d *doc) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= len(d.pages) {
		return 0, 0, fmt.Errorf("scan: page %d out of range [0,%d)", index, len(d.pages))
	}
	p := d.pages[index]
	return p.width, p.height, nil
}

// RenderPage draws a placeholder: the buffer arrives pre-filled with the
// configured background, so only a border marking the page bounds is added.
func (d *doc) RenderPage(ctx context.Context, index int, tf document.Transform, dst *pagecache.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if index < 0 || index >= len(d.pages) {
		return fmt.Errorf("scan: page %d out of range [0,%d)", index, len(d.pages))
	}
	if dst.Format != pagecache.FormatRGBA8888 {
		return fmt.Errorf("scan: unsupported buffer format %s", dst.Format)
	}
	drawBorder(dst)
	return nil
}

const borderGray = 0xcc

func drawBorder(dst *pagecache.Buffer) {
	setPx := func(x, y int) {
		i := (y*dst.Width + x) * 4
		dst.Pix[i] = borderGray
		dst.Pix[i+1] = borderGray
		dst.Pix[i+2] = borderGray
		dst.Pix[i+3] = 0xff
	}
	for x := 0; x < dst.Width; x++ {
		setPx(x, 0)
		setPx(x, dst.Height-1)
	}
	for y := 0; y < dst.Height; y++ {
		setPx(0, y)
		setPx(dst.Width-1, y)
	}
}

func (d *doc) Close() error {
	d.pages = nil
	return nil
}
