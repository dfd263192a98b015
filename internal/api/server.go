// Package api exposes an HTTP surface for operating streamfile streams:
// health, metrics, stream proxying, and admin introspection of active
// streams. Grounded on the teacher's internal/api (fiber handler shape,
// Server readiness gate) and internal/webdav/server.go's
// context-driven Start/Stop lifecycle, adapted from net/http to fiber.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/javi11/streamfile/internal/backend/httpbackend"
	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/metrics"
	"github.com/javi11/streamfile/internal/stream"
	"github.com/javi11/streamfile/internal/streamtracker"
)

// Config controls the HTTP surface.
type Config struct {
	Addr        string
	ChunkSize   int64
	CacheSize   int64
	Progressive bool
	ReadAhead   bool

	// SpillCache, when set, is wired into every proxied Stream's cache
	// eviction path (see stream.Options.SpillCache). The matching
	// read-side warm-start lives on the httpbackend.Factory's own
	// Config.SpillCache, configured independently by whoever builds it.
	SpillCache *diskcache.Store
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	return c
}

// Server wires a fiber.App around a streamtracker.Tracker and a metrics
// registry, matching the teacher's readiness-gated Server struct.
type Server struct {
	cfg     Config
	app     *fiber.App
	tracker *streamtracker.Tracker
	metrics *metrics.Collectors
	factory *httpbackend.Factory

	ready atomic.Bool
}

// NewServer builds a Server and registers its routes.
func NewServer(cfg Config, tracker *streamtracker.Tracker, col *metrics.Collectors, factory *httpbackend.Factory) *Server {
	cfg = cfg.withDefaults()
	s := &Server{cfg: cfg, tracker: tracker, metrics: col, factory: factory}
	s.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.registerRoutes()
	return s
}

// IsReady reports whether the server has finished startup.
func (s *Server) IsReady() bool { return s.ready.Load() }

// SetReady flips the readiness gate.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

func (s *Server) registerRoutes() {
	metricsHandler := promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})

	s.app.Get("/healthz", s.handleHealthz)
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(metricsHandler)(c.Context())
		return nil
	})
	s.app.Get("/streams", s.handleListStreams)
	s.app.Get("/streams/history", s.handleStreamHistory)
	s.app.Get("/streams/:id", s.handleGetStream)
	s.app.Delete("/streams/:id", s.handleKillStream)
	s.app.Get("/proxy", s.handleProxy)
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if !s.IsReady() {
		return RespondServiceUnavailable(c, "Server is initializing", "")
	}
	return RespondOK(c, fiber.Map{"status": "ok"})
}

func (s *Server) handleListStreams(c *fiber.Ctx) error {
	return RespondOK(c, s.tracker.GetAll())
}

func (s *Server) handleStreamHistory(c *fiber.Ctx) error {
	return RespondOK(c, s.tracker.GetHistory())
}

func (s *Server) handleGetStream(c *fiber.Ctx) error {
	id := c.Params("id")
	sess, ok := s.tracker.Get(id)
	if !ok {
		return RespondNotFound(c, "stream not found")
	}
	return RespondOK(c, sess)
}

func (s *Server) handleKillStream(c *fiber.Ctx) error {
	id := c.Params("id")
	if !s.tracker.Kill(id) {
		return RespondNotFound(c, "stream not found")
	}
	return RespondOK(c, fiber.Map{"killed": id})
}

// handleProxy opens a Stream for ?url=... and copies its bytes to the
// response, exercising the full stream/backend/cache stack from a
// single HTTP entrypoint.
func (s *Server) handleProxy(c *fiber.Ctx) error {
	url := c.Query("url")
	if url == "" {
		return RespondBadRequest(c, "missing url query parameter", "")
	}

	st, err := stream.New(stream.Options{
		URL:         url,
		ChunkSize:   s.cfg.ChunkSize,
		CacheSize:   s.cfg.CacheSize,
		Progressive: s.cfg.Progressive,
		ReadAhead:   s.cfg.ReadAhead,
		Backend:     s.factory,
		SpillCache:  s.cfg.SpillCache,
		Metrics:     s.metrics,
	})
	if err != nil {
		return RespondInternalError(c, "failed to create stream", err.Error())
	}

	ctx := context.Background()
	if err := st.Load(ctx); err != nil {
		return RespondInternalError(c, "failed to open upstream", err.Error())
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	id := s.tracker.Add(url, st.Length(), cancel)

	if st.Length() >= 0 {
		c.Set(fiber.HeaderContentLength, fmt.Sprintf("%d", st.Length()))
	}
	c.Set(fiber.HeaderAcceptRanges, "bytes")

	reader := &pumpReader{ctx: cancelCtx, st: st, tr: s.tracker, id: id}
	c.Status(fiber.StatusOK)
	err = c.SendStream(reader)

	status := streamtracker.StatusFinished
	if err != nil {
		status = streamtracker.StatusError
	}
	s.tracker.Remove(id, status, errString(err))
	cancel()
	_ = st.Close()
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// pumpReader drives Stream.Read in chunked fashion for io.Reader
// consumers, mapping an empty read with no error to io.EOF.
type pumpReader struct {
	ctx context.Context
	st  *stream.Stream
	tr  *streamtracker.Tracker
	id  string
}

func (r *pumpReader) Read(p []byte) (int, error) {
	data, err := r.st.Read(r.ctx, int64(len(p)))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	copy(p, data)
	r.tr.UpdateProgress(r.id, r.st.Offset())
	return len(data), nil
}

// Start runs the fiber app until ctx is cancelled, then shuts it down
// gracefully, mirroring the teacher's context-driven Start/Shutdown
// pattern in internal/webdav/server.go.
func (s *Server) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "api server starting", "addr", s.cfg.Addr)
	s.SetReady(true)

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.cfg.Addr); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "api server shutdown error", "error", err)
			return err
		}
		slog.InfoContext(ctx, "api server stopped gracefully")
		return nil
	case err := <-errCh:
		s.SetReady(false)
		if err != nil {
			slog.ErrorContext(ctx, "api server failed to start", "error", err)
			return err
		}
		return nil
	}
}

// Stop shuts the server down immediately, for use outside the
// Start(ctx)-driven lifecycle (e.g. in tests).
func (s *Server) Stop() error {
	s.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the underlying fiber.App, primarily for tests using
// app.Test(req).
func (s *Server) App() *fiber.App { return s.app }
