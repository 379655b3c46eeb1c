// Package api serves the HTTP ingestion surface: event submission, status
// lookup, queue statistics, health and Prometheus metrics.
package api

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/ingest"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/queue"
	"git.home.luguber.info/inful/eventworker/internal/server/middleware"
	"git.home.luguber.info/inful/eventworker/internal/server/responses"
	"git.home.luguber.info/inful/eventworker/internal/version"
)

// Service is what the handlers need from ingest.Service.
type Service interface {
	Submit(ctx context.Context, req ingest.Request) (event.Event, error)
	Get(ctx context.Context, eventID string) (event.Record, error)
	Stats(ctx context.Context) (queue.Stats, error)
	Healthy(ctx context.Context) error
}

// Options configures the router. Zero values are usable.
type Options struct {
	Logger   *slog.Logger
	Recorder metrics.Recorder
	// Registry, when set, is exposed on GET /metrics.
	Registry *prom.Registry
}

type handlers struct {
	svc     Service
	adapter *errors.HTTPErrorAdapter
	started time.Time
}

// NewRouter wires the API routes onto a fresh gin engine.
func NewRouter(svc Service, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	adapter := errors.NewHTTPErrorAdapter(logger)
	h := &handlers{svc: svc, adapter: adapter, started: time.Now()}

	r := gin.New()
	r.Use(middleware.Recovery(logger, adapter))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(recorder))

	r.POST("/events", h.submit)
	r.GET("/events/:id", h.get)
	r.GET("/stats", h.stats)
	r.GET("/health", h.health)
	if opts.Registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.HTTPHandler(opts.Registry)))
	}
	return r
}

func (h *handlers) submit(c *gin.Context) {
	var req ingest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.WrapError(err, errors.CategoryValidation, "invalid JSON body").Build())
		return
	}

	ev, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, responses.SubmitResponse{
		EventID:   ev.ID,
		Status:    string(event.StatusQueued),
		Timestamp: ev.SubmittedAt,
		Message:   "Event submitted successfully",
	})
}

func (h *handlers) get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse(rec))
}

func (h *handlers) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.StatsResponse{
		QueueDepth:       st.Depth,
		MessagesInFlight: st.InFlight,
		Timestamp:        time.Now().UTC(),
	})
}

func (h *handlers) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := responses.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   version.Version,
		Uptime:    time.Since(h.started).Seconds(),
	}
	if err := h.svc.Healthy(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) fail(c *gin.Context, err error) {
	h.adapter.WriteErrorResponse(c.Writer, c.Request, err)
	c.Abort()
}

func statusResponse(rec event.Record) responses.EventStatusResponse {
	resp := responses.EventStatusResponse{
		EventID:   rec.EventID,
		Status:    string(rec.Status),
		EventType: rec.EventType,
		Result:    rec.Result,
		Error:     rec.Error,
	}
	if !rec.SubmittedAt.IsZero() {
		t := rec.SubmittedAt
		resp.SubmittedAt = &t
	}
	if !rec.ProcessedAt.IsZero() {
		t := rec.ProcessedAt
		resp.ProcessedAt = &t
	}
	return resp
}

// Server runs the router on an http.Server until its context is canceled.
type Server struct {
	srv *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", slog.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
