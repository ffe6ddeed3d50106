package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/wudi/pdfview/observability"
)

const (
	// chunkSize is the streaming granularity: progress callbacks fire and
	// cancellation is checked once per chunk.
	chunkSize = 8 * 1024

	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Progress receives streaming updates. total is -1 when the server did not
// announce a content length.
type Progress func(read, total int64)

// Downloader streams HTTPS URLs to files on disk. Timeouts are configuration,
// not per-call parameters; cancellation is the only per-call interruption.
//
// The zero value is usable and applies the default timeouts.
type Downloader struct {
	// ConnectTimeout bounds dialing. Zero selects DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// ReadTimeout bounds waiting for response headers. Zero selects
	// DefaultReadTimeout.
	ReadTimeout time.Duration
	// Logger may be nil.
	Logger observability.Logger

	// allowHTTP disables the HTTPS-only check, for tests against local
	// plaintext servers.
	allowHTTP bool

	once   sync.Once
	client *http.Client
	log    observability.Logger
}

func (d *Downloader) init() {
	d.once.Do(func() {
		connect := d.ConnectTimeout
		if connect <= 0 {
			connect = DefaultConnectTimeout
		}
		read := d.ReadTimeout
		if read <= 0 {
			read = DefaultReadTimeout
		}
		transport := &http.Transport{
			DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
			TLSHandshakeTimeout:   connect,
			ResponseHeaderTimeout: read,
		}
		if err := http2.ConfigureTransport(transport); err != nil {
			// HTTP/1.1 still works; just note it.
			observability.OrNop(d.Logger).Warn("http2 configure failed",
				observability.Error("err", err))
		}
		d.client = &http.Client{Transport: transport}
		d.log = observability.OrNop(d.Logger)
	})
}

// Download streams rawURL to outputFile. The body goes to a .tmp sibling in
// fixed-size chunks, onProgress firing after each one, and is atomically
// renamed into place on success. On any failure the temp file is removed and
// a classified *Error is returned. onProgress may be nil.
func (d *Downloader) Download(ctx context.Context, rawURL string, headers map[string]string, outputFile string, onProgress Progress) error {
	d.init()

	u, err := url.Parse(rawURL)
	if err != nil {
		return &Error{Kind: KindInvalidURL, Message: fmt.Sprintf("unparseable url %q", rawURL), Err: err}
	}
	if u.Scheme != "https" && !(d.allowHTTP && u.Scheme == "http") {
		return &Error{Kind: KindInvalidURL, Message: fmt.Sprintf("scheme %q not allowed, only https", u.Scheme)}
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{Kind: KindInvalidURL, Message: "building request", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return &Error{Kind: KindNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpError(resp.StatusCode)
	}

	tmp := outputFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return &Error{Kind: KindIO, Message: "creating output directory", Err: err}
	}
	f, err := os.Create(tmp)
	if err != nil {
		return &Error{Kind: KindIO, Message: "creating temp file", Err: err}
	}

	written, err := d.stream(ctx, resp.Body, f, resp.ContentLength, onProgress)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = &Error{Kind: KindIO, Message: "closing temp file", Err: closeErr}
	}
	if err == nil && written == 0 {
		err = &Error{Kind: KindCorrupted, Message: "empty response body"}
	}
	if err == nil {
		if renameErr := os.Rename(tmp, outputFile); renameErr != nil {
			err = &Error{Kind: KindIO, Message: "moving into place", Err: renameErr}
		}
	}
	if err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			d.log.Warn("temp file cleanup failed",
				observability.String("path", tmp), observability.Error("err", rmErr))
		}
		return err
	}

	d.log.Debug("download complete",
		observability.String("url", rawURL),
		observability.Int64("bytes", written),
		observability.Duration("took", time.Since(start)))
	return nil
}

// stream copies body to f chunk by chunk, checking cancellation and firing
// progress on every chunk. The body is never buffered whole in memory.
func (d *Downloader) stream(ctx context.Context, body io.Reader, f *os.File, total int64, onProgress Progress) (int64, error) {
	if total <= 0 {
		total = -1
	}
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, cancelled(err)
		}
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, &Error{Kind: KindIO, Message: "writing chunk", Err: werr}
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return written, cancelled(ctx.Err())
			}
			return written, &Error{Kind: KindNetwork, Message: "reading body", Err: err}
		}
	}
}

func cancelled(err error) error {
	msg := "download cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "download deadline exceeded"
	}
	return &Error{Kind: KindCancelled, Message: msg, Err: err}
}

func httpError(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return &Error{Kind: KindAuth401, Status: status, Message: "authentication required"}
	case http.StatusForbidden:
		return &Error{Kind: KindAuth403, Status: status, Message: "access forbidden"}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Message: "document not found"}
	default:
		return &Error{Kind: KindHTTP, Status: status, Message: http.StatusText(status)}
	}
}
