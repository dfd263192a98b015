// Package stream implements the Coordinator from spec §4.5: the public
// facade that owns a Cache plus at-most-one Backend and drives
// load/seek/read/buffer/abort against them. Grounded on the teacher's
// UsenetReader (internal/usenet/usenet_reader.go), adapted from a
// Usenet-segment single-in-flight-download coordinator into a generic
// HTTP range-backend coordinator; uses a real sync.Mutex since
// Go has true parallelism where the source assumed a single-threaded
// event loop (spec §9).
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/javi11/streamfile/internal/backend"
	"github.com/javi11/streamfile/internal/cache"
	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/metrics"
	"github.com/javi11/streamfile/internal/slogutil"
)

const (
	defaultChunkSize = 1 << 20      // 1 MiB
	defaultCacheSize = 32 << 20     // 32 MiB
)

// BackendFactory builds a fresh Backend for one range request. Supplied
// by the caller so internal/stream never depends on a concrete transport
// (spec §9 "Backend variants").
type BackendFactory interface {
	New(req backend.Request, ev backend.Events) backend.Backend
}

// Options configures a Stream, mirroring spec §6.1's construction options.
type Options struct {
	URL         string
	ChunkSize   int64 // default 1 MiB
	CacheSize   int64 // 0 selects the 32 MiB default; a negative value = unbounded
	Progressive bool
	ReadAhead   bool
	Headers     map[string]string
	Backend     BackendFactory

	// SpillCache, when set, receives evicted Filled segments so a later
	// Stream over the same URL can warm-start from disk instead of
	// re-fetching (SPEC_FULL.md's supplemented spill cache). Backends
	// built with a matching httpbackend.Config.SpillCache are what
	// actually consult it on read; this field only wires the write side.
	SpillCache *diskcache.Store

	// Metrics, when set, receives cache occupancy, GC eviction, backend
	// request, and active-stream observations for exposition at
	// internal/api's /metrics endpoint.
	Metrics *metrics.Collectors
}

func (o Options) withDefaults() Options {
	if o.ChunkSize == 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.CacheSize == 0 {
		o.CacheSize = defaultCacheSize
	}
	return o
}

// Stream is the public coordinator facade (spec §6.2's "Public
// operations"). All exported methods are safe for concurrent use.
type Stream struct {
	opts Options

	mu         sync.Mutex
	cache      *cache.Cache
	phase      Phase
	loaded     bool
	seekable   bool
	length     int64 // -1 if unknown
	headers    map[string]string
	cachever   int
	current    backend.Backend
	currentGen uint64 // bumped every time `current` changes, for staleness checks
	closed     bool

	readahead *accessTracker
}

// New constructs a Stream. Call Load before any other operation.
func New(opts Options) (*Stream, error) {
	if opts.URL == "" {
		return nil, newErr(InvalidInput, "url must not be empty", nil)
	}
	if opts.Backend == nil {
		return nil, newErr(InvalidInput, "backend factory is required", nil)
	}
	opts = opts.withDefaults()
	c := cache.New(opts.CacheSize, opts.ChunkSize)
	if opts.SpillCache != nil {
		url := opts.URL
		store := opts.SpillCache
		c.SetSpillSink(func(start, end int64, data []byte) {
			_ = store.Put(diskcache.Key(url, start, end-1), data)
		})
	}
	if opts.Metrics != nil {
		m := opts.Metrics
		c.SetEvictHook(func() { m.GCEvictions.Inc() })
		m.ActiveStreams.Inc()
	}
	s := &Stream{
		opts:      opts,
		cache:     c,
		length:    -1,
		readahead: newAccessTracker(opts.ChunkSize),
	}
	return s, nil
}

// URL returns the stream's configured URL.
func (s *Stream) URL() string { return s.opts.URL }

// Headers returns the last set of response headers observed, or nil.
func (s *Stream) Headers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

// Length returns the known content length, or -1 if unknown.
func (s *Stream) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Offset returns the current read position (cache.read_offset).
func (s *Stream) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.ReadOffset()
}

// Eof reports whether the read offset has reached the known length.
func (s *Stream) Eof() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length >= 0 && s.cache.ReadOffset() >= s.length
}

func (s *Stream) snapshotFlags() (loaded, loading, seeking, buffering, seekable bool) {
	return s.loaded, s.phase == Loading, s.phase == Seeking, s.phase == Buffering, s.seekable
}

// Loaded, Loading, Seeking, Buffering, Seekable are the derived boolean
// views of Phase described in spec §9 ("State flags").
func (s *Stream) Loaded() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.loaded }
func (s *Stream) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Loading
}
func (s *Stream) Seeking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Seeking
}
func (s *Stream) Buffering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == Buffering
}
func (s *Stream) Seekable() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.seekable }

// Load opens the first backend, discovering seekability/length/headers
// (spec §4.5.2).
func (s *Stream) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newErr(InvalidState, "stream is closed", nil)
	}
	if s.phase != Idle || s.loaded {
		s.mu.Unlock()
		return newErr(InvalidState, "load called while loading or already loaded", nil)
	}
	s.phase = Loading
	s.mu.Unlock()

	log := slogutil.FromContext(ctx).With("component", "stream", "url", s.opts.URL)

	bk, err := s.openBackend(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = Idle
	if err != nil {
		log.Error("stream: load failed", "error", err)
		return s.wrapBackendErr(err)
	}
	if bk != nil {
		// A backend was actually opened (there was something to fetch);
		// openBackend's OnOpen handler already copied seekable/length.
	}
	s.loaded = true
	log.Info("stream: loaded", "seekable", s.seekable, "length", s.length)
	return nil
}

// Seek moves both cursors to off, aborting any in-flight backend first,
// then best-effort kicks off readahead (spec §4.5.4).
func (s *Stream) Seek(ctx context.Context, off int64) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return newErr(InvalidState, "seek before load", nil)
	}
	if s.phase == Seeking || s.phase == Buffering {
		s.mu.Unlock()
		return newErr(InvalidState, "seek while seeking or buffering", nil)
	}
	if !s.seekable {
		s.mu.Unlock()
		return newErr(NotSeekable, "stream is not seekable", nil)
	}
	if off < 0 || (s.length >= 0 && off > s.length) {
		s.mu.Unlock()
		return newErr(InvalidInput, fmt.Sprintf("seek offset %d out of range [0,%d]", off, s.length), nil)
	}
	s.phase = Seeking
	bk := s.popCurrentLocked()
	s.mu.Unlock()
	if bk != nil {
		bk.Abort()
	}
	s.mu.Lock()
	if err := s.cache.SeekRead(off); err != nil {
		s.phase = Idle
		s.mu.Unlock()
		return newErr(CacheInvariant, "seek_read failed", err)
	}
	if err := s.cache.SeekWrite(off); err != nil {
		s.phase = Idle
		s.mu.Unlock()
		return newErr(CacheInvariant, "seek_write failed", err)
	}
	s.phase = Idle
	s.mu.Unlock()

	if s.opts.ReadAhead {
		s.triggerReadahead(ctx)
	}
	return nil
}

// Buffer ensures n bytes starting at the current offset are available,
// opening backends as needed, and returns the number actually made
// available (capped by EOF), per spec §4.5.5.
func (s *Stream) Buffer(ctx context.Context, n int64) (int64, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return 0, newErr(InvalidState, "buffer before load", nil)
	}
	if s.phase == Seeking || s.phase == Buffering {
		s.mu.Unlock()
		return 0, newErr(InvalidState, "buffer while seeking or already buffering", nil)
	}
	s.mu.Unlock()
	return s.bufferLocked(ctx, n)
}

func (s *Stream) bufferLocked(ctx context.Context, n int64) (int64, error) {
	s.mu.Lock()
	offset := s.cache.ReadOffset()
	end := offset + n
	if s.length >= 0 && end > s.length {
		end = s.length
	}
	want := end - offset
	if want <= 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if s.cache.BytesReadable(want) >= want {
		s.mu.Unlock()
		return want, nil
	}
	s.phase = Buffering
	// A backend already in flight (the one Load opened, or a readahead)
	// is waited on rather than replaced.
	bk := s.current
	s.mu.Unlock()

	var err error
	if bk == nil {
		bk, err = s.openBackend(ctx)
	}
	if err != nil {
		s.mu.Lock()
		s.phase = Idle
		s.mu.Unlock()
		if IsAborted(err) {
			return 0, ErrAborted
		}
		return 0, s.wrapBackendErr(err)
	}
	if bk == nil {
		// Nothing more to fetch; resolve with whatever is available.
		s.mu.Lock()
		s.phase = Idle
		avail := s.cache.BytesReadable(want)
		s.mu.Unlock()
		return avail, nil
	}

	if err := bk.BufferToOffset(ctx, end); err != nil {
		s.mu.Lock()
		s.phase = Idle
		s.mu.Unlock()
		if IsAborted(err) {
			return 0, ErrAborted
		}
		return 0, s.wrapBackendErr(err)
	}

	s.mu.Lock()
	s.phase = Idle
	s.mu.Unlock()

	// Recurse: a single backend's own requested range may fall short of
	// `end` (chunk_size boundary); open_backend will transparently start
	// the next one (spec §4.5.5 step 3).
	got, err := s.bufferLocked(ctx, n)
	if err != nil {
		return got, err
	}
	return got, nil
}

// Read buffers n bytes then synchronously reads them (spec §4.5.6).
func (s *Stream) Read(ctx context.Context, n int64) ([]byte, error) {
	if _, err := s.Buffer(ctx, n); err != nil {
		return nil, err
	}
	return s.ReadSync(n)
}

// ReadSync copies up to n bytes already resident in the cache without
// blocking. Forbidden while buffering/seeking or before load.
func (s *Stream) ReadSync(n int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, newErr(InvalidState, "read_sync before load", nil)
	}
	if s.phase == Buffering || s.phase == Seeking {
		return nil, newErr(InvalidState, "read_sync while buffering or seeking", nil)
	}
	readable := s.cache.BytesReadable(n)
	dest := make([]byte, readable)
	got := s.cache.ReadBytes(dest)
	s.maybeTriggerReadaheadLocked()
	return dest[:got], nil
}

// ReadBytes copies into dest directly, returning the number of bytes
// copied (spec §6.2).
func (s *Stream) ReadBytes(dest []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return 0, newErr(InvalidState, "read_bytes before load", nil)
	}
	if s.phase == Buffering || s.phase == Seeking {
		return 0, newErr(InvalidState, "read_bytes while buffering or seeking", nil)
	}
	return s.cache.ReadBytes(dest), nil
}

// BytesAvailable reports contiguous readable bytes from the current
// offset, capped by max (pass a negative value for no cap).
func (s *Stream) BytesAvailable(max int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.BytesReadable(max)
}

// GetBufferedRanges returns the maximal filled byte ranges (spec §4.3.3).
func (s *Stream) GetBufferedRanges() [][2]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Ranges()
}

// Abort synchronously cancels any in-flight backend and clears all active
// phase flags (spec §4.5.7). The actual Backend.Abort() call happens with
// the stream's lock released, since it synchronously fires Events.OnError
// back into this package's own handlers (which need the lock).
func (s *Stream) Abort() {
	s.mu.Lock()
	bk := s.popCurrentLocked()
	s.phase = Idle
	s.mu.Unlock()
	if bk != nil {
		bk.Abort()
	}
}

// popCurrentLocked clears the current backend reference and returns it,
// without invoking Abort — callers must do that after releasing s.mu.
func (s *Stream) popCurrentLocked() backend.Backend {
	bk := s.current
	if bk != nil {
		s.current = nil
		s.currentGen++
	}
	return bk
}

// Close aborts any in-flight work and marks the stream unusable.
func (s *Stream) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	bk := s.popCurrentLocked()
	s.closed = true
	s.mu.Unlock()
	if bk != nil {
		bk.Abort()
	}
	if !alreadyClosed && s.opts.Metrics != nil {
		s.opts.Metrics.ActiveStreams.Dec()
	}
	return nil
}

func (s *Stream) wrapBackendErr(err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StreamError); ok {
		return se
	}
	return newErr(Network, "backend request failed", err)
}

// IsAborted reports whether err represents the Aborted kind, at any
// wrapping depth.
func IsAborted(err error) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind == Aborted
	}
	return errors.Is(err, backend.ErrAborted) || errors.Is(err, context.Canceled)
}
