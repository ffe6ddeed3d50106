// Package fetch streams remote documents to disk with progress reporting,
// cooperative cancellation and a closed failure taxonomy.
package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind classifies download failures. The set is closed; consumers
// switch exhaustively on it.
type ErrorKind int

const (
	// KindNetwork covers DNS, connect and timeout failures.
	KindNetwork ErrorKind = iota
	// KindAuth401 is an HTTP 401 response.
	KindAuth401
	// KindAuth403 is an HTTP 403 response.
	KindAuth403
	// KindNotFound is an HTTP 404 response.
	KindNotFound
	// KindHTTP is any other HTTP status >= 400.
	KindHTTP
	// KindIO covers local file failures while streaming to disk.
	KindIO
	// KindCorrupted marks a payload that is not a valid document.
	KindCorrupted
	// KindCancelled is cooperative cancellation; it is never a failure.
	KindCancelled
	// KindInvalidURL rejects non-HTTPS or unparseable URLs before any
	// network activity.
	KindInvalidURL
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "NETWORK"
	case KindAuth401:
		return "AUTH_401"
	case KindAuth403:
		return "AUTH_403"
	case KindNotFound:
		return "NOT_FOUND"
	case KindHTTP:
		return "HTTP_ERROR"
	case KindIO:
		return "IO"
	case KindCorrupted:
		return "CORRUPTED"
	case KindCancelled:
		return "CANCELLED"
	case KindInvalidURL:
		return "INVALID_URL"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified download failure. Status carries the numeric HTTP
// status for the HTTP kinds and is zero otherwise.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("fetch: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, or KindNetwork when err is
// not a fetch error.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindCancelled
}
