package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfview/document"
	"github.com/wudi/pdfview/pagecache"
)

// twoPagePDF is a minimal uncompressed document: a page tree and two pages,
// the second with its own MediaBox.
const twoPagePDF = `%PDF-1.4
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R >>
endobj
4 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] >>
endobj
trailer
<< /Root 1 0 R >>
%%EOF
`

// streamedPDF hides its page objects (e.g. in object streams); only the page
// tree's count is visible to a byte scan.
const streamedPDF = `%PDF-1.5
2 0 obj
<< /Type /Pages /Count 3 /MediaBox [0 0 200 400] >>
endobj
%%EOF
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestOpenCountsPagesAndSizes(t *testing.T) {
	doc, err := New().Open(writeTemp(t, twoPagePDF))
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 2, doc.PageCount())

	w, h, err := doc.PageSize(0)
	require.NoError(t, err)
	require.Equal(t, 612.0, w, "first page inherits the tree MediaBox")
	require.Equal(t, 792.0, h)

	w, h, err = doc.PageSize(1)
	require.NoError(t, err)
	require.Equal(t, 595.0, w, "second page uses its own MediaBox")
	require.Equal(t, 842.0, h)

	_, _, err = doc.PageSize(2)
	require.Error(t, err)
}

func TestOpenFallsBackToTreeCount(t *testing.T) {
	doc, err := New().Open(writeTemp(t, streamedPDF))
	require.NoError(t, err)
	defer doc.Close()

	require.Equal(t, 3, doc.PageCount())
	w, h, err := doc.PageSize(2)
	require.NoError(t, err)
	require.Equal(t, 200.0, w)
	require.Equal(t, 400.0, h)
}

func TestOpenRejectsNonPDF(t *testing.T) {
	_, err := New().Open(writeTemp(t, "<html>hello</html>"))
	require.Error(t, err)
}

func TestOpenRejectsPDFWithoutPages(t *testing.T) {
	_, err := New().Open(writeTemp(t, "%PDF-1.4\ntrailer\n%%EOF\n"))
	require.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := New().Open(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestRenderPageDrawsBorder(t *testing.T) {
	doc, err := New().Open(writeTemp(t, twoPagePDF))
	require.NoError(t, err)
	defer doc.Close()

	dst := pagecache.NewBuffer(10, 8, pagecache.FormatRGBA8888)
	require.NoError(t, doc.RenderPage(context.Background(), 0, document.Transform{Scale: 1}, dst))

	// Corner pixel is border gray, an interior pixel untouched.
	require.Equal(t, byte(0xcc), dst.Pix[0])
	interior := (3*10 + 5) * 4
	require.Equal(t, byte(0), dst.Pix[interior])
}

func TestRenderPageHonorsContext(t *testing.T) {
	doc, err := New().Open(writeTemp(t, twoPagePDF))
	require.NoError(t, err)
	defer doc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dst := pagecache.NewBuffer(4, 4, pagecache.FormatRGBA8888)
	require.ErrorIs(t, doc.RenderPage(ctx, 0, document.Transform{Scale: 1}, dst), context.Canceled)
}
