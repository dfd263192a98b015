package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/javi11/streamfile/internal/backend"
)

// fakeBackendFactory and fakeBackend give the stream tests full control
// over backend event timing without spinning up real HTTP servers,
// mirroring how the teacher's own tests stub backend-shaped
// collaborators rather than hitting the network.
type fakeBackendFactory struct {
	mu    sync.Mutex
	specs []backendSpec
	calls []backend.Request
}

// backendSpec describes how the Nth backend created by the factory
// should behave.
type backendSpec struct {
	meta      backend.Meta
	openErr   error
	mismatch  bool
	chunks    [][]byte
	blockOpen bool // if true, Load fires OnOpen but never completes the body until unblocked
}

func (f *fakeBackendFactory) New(req backend.Request, ev backend.Events) backend.Backend {
	f.mu.Lock()
	idx := len(f.calls)
	f.calls = append(f.calls, req)
	var spec backendSpec
	if idx < len(f.specs) {
		spec = f.specs[idx]
	} else if len(f.specs) > 0 {
		spec = f.specs[len(f.specs)-1]
	}
	f.mu.Unlock()

	return &fakeBackend{
		ev:     ev,
		spec:   spec,
		unblock: make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

var errFakeNetwork = errors.New("fake: network error")

type fakeBackend struct {
	ev      backend.Events
	spec    backendSpec
	mu      sync.Mutex
	aborted bool
	unblock chan struct{}
	ready   chan struct{}
}

func (b *fakeBackend) Load(ctx context.Context) error {
	if b.spec.mismatch {
		b.ev.OnCachever()
		b.ev.OnError(errFakeNetwork)
		close(b.ready)
		return nil
	}
	if b.spec.openErr != nil {
		b.ev.OnError(b.spec.openErr)
		close(b.ready)
		return nil
	}
	b.ev.OnOpen(b.spec.meta)
	if b.spec.blockOpen {
		go func() {
			<-b.unblock
			b.mu.Lock()
			aborted := b.aborted
			b.mu.Unlock()
			if aborted {
				close(b.ready)
				return
			}
			for _, c := range b.spec.chunks {
				b.ev.OnBuffer(c)
			}
			b.ev.OnDone()
			close(b.ready)
		}()
		return nil
	}
	for _, c := range b.spec.chunks {
		b.ev.OnBuffer(c)
	}
	b.ev.OnDone()
	close(b.ready)
	return nil
}

func (b *fakeBackend) BufferToOffset(ctx context.Context, end int64) error {
	select {
	case <-b.ready:
		b.mu.Lock()
		aborted := b.aborted
		b.mu.Unlock()
		if aborted {
			return backend.ErrAborted
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) Abort() {
	b.mu.Lock()
	if b.aborted {
		b.mu.Unlock()
		return
	}
	b.aborted = true
	b.mu.Unlock()
	select {
	case <-b.unblock:
	default:
		close(b.unblock)
	}
	b.ev.OnError(backend.ErrAborted)
}
