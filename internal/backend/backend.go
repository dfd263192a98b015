// Package backend defines the abstract fetch-backend contract a stream
// coordinator drives: one in-flight HTTP range GET per Backend instance,
// reporting progress through an Events callback set rather than a shared
// event bus (spec §4.4, §9 "Event bus vs direct coupling").
package backend

import (
	"context"
	"errors"
)

// ErrAborted is the sentinel every Backend implementation must return (or
// wrap) from BufferToOffset, and pass to Events.OnError, once Abort has
// been called — this is how the coordinator recognizes cancellation
// regardless of which concrete Backend is in use (spec §7 kind
// "Aborted").
var ErrAborted = errors.New("backend: aborted")

// Request describes the byte range a Backend should fetch, plus the
// cache-busting tag used to recover from range-cache anomalies (spec
// §4.4.1, §6.3).
type Request struct {
	URL         string
	Offset      int64
	Length      int64 // number of bytes requested, not an end offset
	Cachever    int   // 0 means "no cache-buster query param"
	Progressive bool
	Headers     map[string]string
}

// Events is the typed callback set a coordinator supplies when opening a
// backend (spec §9: "typed channel or small trait with explicit methods").
// All callbacks are invoked from the backend's own goroutine(s); the
// coordinator is responsible for checking that the firing backend is
// still its current one before acting (spec §5).
type Events struct {
	// OnOpen fires once headers are parsed. meta.Seekable/Length/Headers
	// mirror spec §4.4's header extraction contract.
	OnOpen func(meta Meta)
	// OnBuffer fires once per chunk of bytes as they arrive (progressive)
	// or once at completion (non-progressive).
	OnBuffer func(b []byte)
	// OnDone fires when the response body is fully consumed.
	OnDone func()
	// OnError fires on any terminal failure, including Aborted.
	OnError func(err error)
	// OnCachever fires when the backend detects a range-cache anomaly and
	// is about to retry with a bumped cache-buster (§4.4.1).
	OnCachever func()
}

// Meta is what a backend learns from response headers, per spec §4.4.
type Meta struct {
	Seekable bool
	Length   int64 // -1 if unknown
	Headers  map[string]string
}

// Backend is one in-flight range fetch. Events may arrive from more than
// one goroutine (the caller of Load or Abort, and any body-reading
// goroutine the implementation starts); the coordinator never calls a
// Backend method from inside an Events callback of that same Backend.
type Backend interface {
	// Load initiates the request. It must eventually invoke exactly one
	// of Events.OnOpen or Events.OnError.
	Load(ctx context.Context) error
	// BufferToOffset suspends the caller until bytes up to the absolute
	// offset end have been emitted via OnBuffer, or until OnDone/OnError
	// fires. For progressive backends this is a passive wait; for pull
	// backends it may actively request more data.
	BufferToOffset(ctx context.Context, end int64) error
	// Abort cancels in-flight network I/O and fires Events.OnError with
	// an Aborted-kind error exactly once.
	Abort()
}
