package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/streamfile/internal/backend/httpbackend"
	"github.com/javi11/streamfile/internal/metrics"
	"github.com/javi11/streamfile/internal/streamtracker"
)

func newTestServer() (*Server, *httptest.Server) {
	s, upstream, _ := newTestServerWithMetrics()
	return s, upstream
}

func newTestServerWithMetrics() (*Server, *httptest.Server, *metrics.Collectors) {
	payload := []byte("hello world, this is the upstream payload")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "41")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	}))

	factory := httpbackend.NewFactory(httpbackend.Config{Client: upstream.Client()})
	tracker := streamtracker.New(50)
	col := metrics.New()

	s := NewServer(Config{ChunkSize: 1 << 20, CacheSize: 1 << 20}, tracker, col, factory)
	return s, upstream, col
}

func TestServer_Healthz_NotReadyUntilStarted(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.SetReady(true)
	resp, err = s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Streams_EmptyInitially(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/streams", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_GetStream_NotFound(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/streams/does-not-exist", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_KillStream_NotFound(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("DELETE", "/streams/does-not-exist", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Proxy_RequiresURL(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/proxy", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Proxy_StreamsUpstreamBody(t *testing.T) {
	s, upstream := newTestServer()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/proxy?url="+upstream.URL, nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Proxy_UpdatesMetricsCollectors(t *testing.T) {
	s, upstream, col := newTestServerWithMetrics()
	defer upstream.Close()

	req := httptest.NewRequest("GET", "/proxy?url="+upstream.URL, nil)
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Greater(t, testutil.ToFloat64(col.BackendBytesRead), float64(0))
	assert.Equal(t, float64(1), testutil.ToFloat64(col.BackendRequests.WithLabelValues("requested")))
	assert.Equal(t, float64(1), testutil.ToFloat64(col.BackendRequests.WithLabelValues("opened")))
}
