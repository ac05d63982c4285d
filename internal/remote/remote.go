// Package remote defines the versioned object store the shard store is built
// on, along with its error taxonomy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InlineLimit is the largest object a backend returns inline with its metadata.
// Bigger objects must be fetched through Client.Raw.
const InlineLimit = 1_000_000

// DefaultTimeout bounds every single call to a backend.
const DefaultTimeout = 30 * time.Second

var (
	ErrNotFound  = errors.New("object not found")
	ErrConflict  = errors.New("version conflict")
	ErrAuth      = errors.New("not authorized")
	ErrTransient = errors.New("transient backend failure")
)

// Object is the current state of a remote file.
type Object struct {
	Path    string
	Version string
	Size    int64
	// Content is set only when Inline is true.
	Content []byte
	Inline  bool
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	Size int64
	Dir  bool
}

// Client is a versioned object store.
//
// Put writes data to path. version must be the token returned by the last Stat
// or Put of that path, or empty when the path must not exist yet. A stale or
// unexpected token fails with ErrConflict. Put returns the new token; an empty
// one means the backend accepted the write without reporting it, and the path
// must be Stat-ed again before the next Put.
type Client interface {
	Stat(ctx context.Context, path string) (*Object, error)
	Raw(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte, version, message string) (string, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// Error describes a failed backend call. Kind is one of the package sentinels
// and is what errors.Is matches against.
type Error struct {
	Op     string
	Path   string
	Status int
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Path)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the sentinel carried by err, or nil for errors outside the
// taxonomy. Context cancellation is reported as is.
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrAuth, ErrTransient} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether repeating the whole read-modify-write cycle may
// succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}

// KindFromStatus maps an HTTP status code to a sentinel. Codes that carry no
// meaning for the taxonomy return nil.
func KindFromStatus(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrAuth
	case status == 409 || status == 412:
		return ErrConflict
	case status == 408 || status == 429 || status >= 500:
		return ErrTransient
	default:
		return nil
	}
}

// WithTimeout bounds ctx by d, falling back to DefaultTimeout when d is not
// positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// TransportError classifies a failure that happened before any response was
// received. ctx is the caller's context: when it is done its error is returned
// as is. Per-call timeouts and network failures are transient.
func TransportError(ctx context.Context, op, path string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &Error{Op: op, Path: path, Kind: ErrTransient, Err: err}
}
