// Package remote orchestrates the disk cache, the downloader and document
// validation into one linear state sequence:
//
//	Idle -> Downloading(progress) -> Cached(file) | Failed(kind, message)
//
// Downloading is the only non-terminal state and may repeat with updated
// progress; Cached and Failed are terminal. A fresh Load always restarts the
// sequence from the beginning.
package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/wudi/pdfview/diskcache"
	"github.com/wudi/pdfview/fetch"
	"github.com/wudi/pdfview/observability"
)

// pdfMagic is the marker a file must start with to count as a valid document.
var pdfMagic = []byte("%PDF-")

// Source identifies a remote document and how to cache it.
type Source struct {
	URL string
	// CacheKey overrides the URL as the disk-cache key when set.
	CacheKey string
	Headers  map[string]string
	Policy   diskcache.Policy
}

// Key is the effective disk-cache key for the source.
func (s Source) Key() string {
	if s.CacheKey != "" {
		return s.CacheKey
	}
	return s.URL
}

// State is the closed set of loader states. Consumers switch exhaustively
// over *Idle-free* emissions: Load never emits Idle, it is the implicit
// starting point.
type State interface{ remoteState() }

// Idle is the state before any Load call.
type Idle struct{}

// Downloading reports transfer progress. Progress is in [0,1] when the total
// size is known and nil otherwise; consumers must handle both.
type Downloading struct{ Progress *float64 }

// Cached is terminal: the document is on disk at Path.
type Cached struct{ Path string }

// Failed is terminal: the load did not produce a usable document. Kind
// distinguishes cancellation from genuine failure.
type Failed struct {
	Kind    fetch.ErrorKind
	Status  int
	Message string
}

func (Idle) remoteState()        {}
func (Downloading) remoteState() {}
func (Cached) remoteState()      {}
func (Failed) remoteState()      {}

// Downloader is the single streaming-download primitive the loader needs.
// *fetch.Downloader satisfies it.
type Downloader interface {
	Download(ctx context.Context, url string, headers map[string]string, outputFile string, onProgress fetch.Progress) error
}

// Loader fetches remote documents through the disk cache.
type Loader struct {
	cache *diskcache.Manager
	dl    Downloader
	log   observability.Logger
}

// NewLoader wires a loader. log may be nil.
func NewLoader(cache *diskcache.Manager, dl Downloader, log observability.Logger) *Loader {
	return &Loader{cache: cache, dl: dl, log: observability.OrNop(log)}
}

// stateBuffer sizes the emission channel: one initial Downloading, buffered
// room for progress updates, one terminal state. Progress emissions beyond
// the buffer are dropped rather than blocking the transfer.
const stateBuffer = 64

// Load resolves src to a local file, emitting states on the returned channel
// and closing it after the terminal state. The sequence is linear; no state
// is revisited after a terminal one.
func (l *Loader) Load(ctx context.Context, src Source) <-chan State {
	states := make(chan State, stateBuffer)
	go func() {
		defer close(states)
		l.run(ctx, src, states)
	}()
	return states
}

func (l *Loader) run(ctx context.Context, src Source, states chan<- State) {
	emit := func(s State) {
		select {
		case states <- s:
		case <-ctx.Done():
		}
	}
	// Progress updates are droppable: a slow consumer coalesces them
	// instead of stalling the download.
	emitProgress := func(s State) {
		select {
		case states <- s:
		default:
		}
	}

	emit(Downloading{})

	key := src.Key()
	if path, stale, ok := l.cache.Get(key, src.Policy); ok {
		if ValidMagic(path) {
			l.log.Debug("disk cache hit",
				observability.String("key", key), observability.Bool("stale", stale))
			emit(Cached{Path: path})
			return
		}
		// Corrupted entry: drop it and fall through to a fresh download.
		l.log.Warn("corrupted cache entry removed", observability.String("key", key))
		l.cache.Remove(key)
	}

	dest := l.cache.CacheFile(key)
	err := l.dl.Download(ctx, src.URL, src.Headers, dest, func(read, total int64) {
		if total > 0 {
			p := float64(read) / float64(total)
			if p > 1 {
				p = 1
			}
			emitProgress(Downloading{Progress: &p})
		} else {
			emitProgress(Downloading{})
		}
	})
	if err != nil {
		emit(failedFrom(err))
		return
	}

	if !ValidMagic(dest) {
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			l.log.Warn("corrupted download cleanup failed",
				observability.String("path", dest), observability.Error("err", rmErr))
		}
		emit(Failed{Kind: fetch.KindCorrupted, Message: "downloaded file is not a PDF document"})
		return
	}

	if err := l.cache.Put(key, dest, src.Policy); err != nil {
		l.log.Warn("disk cache registration failed",
			observability.String("key", key), observability.Error("err", err))
	}
	emit(Cached{Path: dest})
}

// failedFrom maps a downloader error to a terminal state, preserving the
// kind, status and message verbatim.
func failedFrom(err error) Failed {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return Failed{Kind: fe.Kind, Status: fe.Status, Message: fe.Message}
	}
	return Failed{Kind: fetch.KindNetwork, Message: err.Error()}
}

// ValidMagic reports whether the file at path starts with the %PDF- marker.
func ValidMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, pdfMagic)
}
