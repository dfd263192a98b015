package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamfile/internal/backend"
)

func newLoadedTestStream(t *testing.T, url string, payload []byte) *Stream {
	t.Helper()
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: int64(len(payload))}, chunks: [][]byte{payload}},
	}}
	s, err := New(Options{
		URL:       url,
		ChunkSize: 16,
		Backend:   f,
	})
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestManager_WarmAll_BuffersEveryStream(t *testing.T) {
	a := newLoadedTestStream(t, "https://example.com/a.bin", make([]byte, 16))
	b := newLoadedTestStream(t, "https://example.com/b.bin", make([]byte, 16))
	defer a.Close()
	defer b.Close()

	mgr := NewManager(2)
	err := mgr.WarmAll(context.Background(), []*Stream{a, b}, 16)
	require.NoError(t, err)

	assert.EqualValues(t, 16, a.BytesAvailable(-1))
	assert.EqualValues(t, 16, b.BytesAvailable(-1))
}

func TestManager_WarmAll_PropagatesBackendError(t *testing.T) {
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 32}}, // Load succeeds, nothing buffered yet
		{openErr: errFakeNetwork},                        // the backend WarmAll's Buffer opens next
	}}
	s, err := New(Options{URL: "https://example.com/fail.bin", ChunkSize: 16, Backend: f})
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))
	defer s.Close()

	mgr := NewManager(1)
	err = mgr.WarmAll(context.Background(), []*Stream{s}, 16)
	require.Error(t, err)
}
