package stream

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamfile/internal/backend"
	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/metrics"
)

func newTestStream(t *testing.T, factory *fakeBackendFactory) *Stream {
	t.Helper()
	s, err := New(Options{
		URL:         "https://example.com/file.bin",
		ChunkSize:   16,
		CacheSize:   0,
		Progressive: true,
		ReadAhead:   false,
		Backend:     factory,
	})
	require.NoError(t, err)
	return s
}

func TestStream_Load_SeekableWithKnownLength(t *testing.T) {
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 100}, chunks: [][]byte{make([]byte, 16)}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Loaded())
	assert.True(t, s.Seekable())
	assert.EqualValues(t, 100, s.Length())
}

func TestStream_Load_Twice_IsInvalidState(t *testing.T) {
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 100}, chunks: [][]byte{make([]byte, 16)}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))
	err := s.Load(context.Background())
	require.Error(t, err)
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, InvalidState, se.Kind)
}

func TestStream_ReadAfterLoad_ReturnsBytes(t *testing.T) {
	payload := []byte("abcdefghijklmnop") // 16 bytes
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 16}, chunks: [][]byte{payload}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))

	got, err := s.Read(context.Background(), 16)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, s.Eof())
}

func TestStream_Seek_ThenRead(t *testing.T) {
	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 32}, chunks: [][]byte{payload[:16]}},
		{meta: backend.Meta{Seekable: true, Length: 32}, chunks: [][]byte{payload[20:]}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))

	require.NoError(t, s.Seek(context.Background(), 20))
	got, err := s.Read(context.Background(), 8)
	require.NoError(t, err)
	assert.Equal(t, payload[20:28], got)
}

func TestStream_CacheverRetry_RecoversTransparently(t *testing.T) {
	payload := make([]byte, 16)
	f := &fakeBackendFactory{specs: []backendSpec{
		{mismatch: true},
		{meta: backend.Meta{Seekable: true, Length: 16}, chunks: [][]byte{payload}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Loaded())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 2)
	assert.Equal(t, 0, f.calls[0].Cachever)
	assert.Equal(t, 1, f.calls[1].Cachever)
}

func TestStream_AbortMidBuffer_RejectsWithAbortedKind(t *testing.T) {
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 16}, chunks: [][]byte{make([]byte, 16)}, blockOpen: true},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background(), 16)
		errCh <- err
	}()

	// Give the read a moment to enter Buffering before aborting.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, s.Buffering())
	s.Abort()
	assert.False(t, s.Buffering())

	select {
	case err := <-errCh:
		require.Error(t, err)
		var se *StreamError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, Aborted, se.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after abort")
	}

	// A subsequent seek should succeed once the stream is back to Idle.
	require.NoError(t, s.Seek(context.Background(), 0))
}

func TestStream_BytesAvailable_And_Ranges(t *testing.T) {
	f := &fakeBackendFactory{specs: []backendSpec{
		{meta: backend.Meta{Seekable: true, Length: 16}, chunks: [][]byte{make([]byte, 16)}},
	}}
	s := newTestStream(t, f)
	require.NoError(t, s.Load(context.Background()))

	n, err := s.Buffer(context.Background(), 16)
	require.NoError(t, err)
	assert.EqualValues(t, 16, n)
	assert.EqualValues(t, 16, s.BytesAvailable(-1))

	ranges := s.GetBufferedRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, [2]int64{0, 16}, ranges[0])

	require.NoError(t, s.Close())
}

func TestStream_New_WithSpillCache_PopulatesOnEviction(t *testing.T) {
	store, err := diskcache.New(afero.NewMemMapFs(), "/spill", 0)
	require.NoError(t, err)

	s, err := New(Options{
		URL:        "https://example.com/file.bin",
		ChunkSize:  16,
		CacheSize:  16, // small enough that the third chunk is evicted (see below)
		Backend:    &fakeBackendFactory{},
		SpillCache: store,
	})
	require.NoError(t, err)

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	// Three 16-byte writes with the read cursor parked at 0: the hot
	// window only protects [0,16), so the third write (strictly beyond
	// it) is the one gc evicts once the 16-byte budget is exceeded.
	require.NoError(t, s.cache.Write(payload))
	require.NoError(t, s.cache.SeekWrite(16))
	require.NoError(t, s.cache.Write(payload))
	require.NoError(t, s.cache.SeekWrite(32))
	require.NoError(t, s.cache.Write(payload))

	key := diskcache.Key(s.URL(), 32, 47)
	data, hit := store.Get(key)
	require.True(t, hit, "evicted segment should have spilled to disk under the inclusive-end key")
	assert.Equal(t, payload, data)
}

func TestStream_Metrics_RecordsRequestsBytesAndActiveStreams(t *testing.T) {
	m := metrics.New()
	payload := make([]byte, 16)
	f := &fakeBackendFactory{specs: []backendSpec{
		{mismatch: true},
		{meta: backend.Meta{Seekable: true, Length: 16}, chunks: [][]byte{payload}},
	}}

	s, err := New(Options{
		URL:       "https://example.com/file.bin",
		ChunkSize: 16,
		Backend:   f,
		Metrics:   m,
	})
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CachverRetries))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.BackendRequests.WithLabelValues("requested")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BackendRequests.WithLabelValues("cachever")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BackendRequests.WithLabelValues("opened")))
	assert.Equal(t, float64(16), testutil.ToFloat64(m.BackendBytesRead))
	assert.Equal(t, float64(16), testutil.ToFloat64(m.CacheFilledBytes))

	require.NoError(t, s.Close())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveStreams))

	// Closing twice must not double-decrement the gauge.
	require.NoError(t, s.Close())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveStreams))
}

func TestStream_Metrics_OnErrorIncrementsBackendRequestsErrorOutcome(t *testing.T) {
	m := metrics.New()
	f := &fakeBackendFactory{specs: []backendSpec{
		{openErr: errFakeNetwork},
	}}
	s, err := New(Options{
		URL:       "https://example.com/file.bin",
		ChunkSize: 16,
		Backend:   f,
		Metrics:   m,
	})
	require.NoError(t, err)

	err = s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BackendRequests.WithLabelValues("error")))
}
