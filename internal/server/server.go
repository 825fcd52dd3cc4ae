// Package server exposes the run coordinator over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bosonci/internal/core"
	"bosonci/internal/ledger"
	"bosonci/internal/logger"
)

// maxDescriptorBytes caps the size of a submitted descriptor.
const maxDescriptorBytes = 1 << 20

// Config wires the server's collaborators. Ledger and Metrics are optional.
type Config struct {
	Runner  *core.Runner
	Ledger  *ledger.Ledger
	Metrics http.Handler
	Logger  *slog.Logger

	// ShutdownTimeout bounds how long Run waits for in-flight runs after
	// its context is cancelled. Zero means 30s.
	ShutdownTimeout time.Duration

	// Retain is how many finished runs, with their session logs, stay
	// queryable. The oldest are forgotten first. Zero means 100.
	Retain int
}

// Server accepts job descriptors, runs each in its own goroutine and
// reports status, results and session logs.
type Server struct {
	core.NopObserver

	coordinator *core.Coordinator
	ledger      *ledger.Ledger
	metrics     http.Handler
	logger      *slog.Logger
	shutdown    time.Duration
	retain      int
	router      chi.Router

	// runs derive their context from base so shutdown aborts them
	base       context.Context
	cancelBase context.CancelFunc

	mu    sync.Mutex
	runs  map[string]*run
	order []string
	wg    sync.WaitGroup
}

// New builds the server and registers it as an observer on cfg.Runner so
// that session logs can be served while a run is in flight.
func New(cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	retain := cfg.Retain
	if retain <= 0 {
		retain = 100
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		coordinator: core.NewCoordinator(cfg.Runner),
		ledger:      cfg.Ledger,
		metrics:     cfg.Metrics,
		logger:      l,
		shutdown:    shutdown,
		retain:      retain,
		base:        base,
		cancelBase:  cancel,
		runs:        make(map[string]*run),
	}
	cfg.Runner.AddObserver(s)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmitRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Delete("/", s.handleCancelRun)
			r.Get("/log", s.handleRunLog)
		})
	})

	r.Get("/ledger/verify", s.handleVerifyLedger)
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then stops accepting
// requests, aborts in-flight runs and waits for their sessions to close.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	s.cancelBase()
	if werr := s.wait(shutdownCtx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Close aborts every in-flight run and waits for them to finish.
func (s *Server) Close() {
	s.cancelBase()
	s.wg.Wait()
}

func (s *Server) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for runs to finish")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		l := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(logger.WithLogger(r.Context(), l)))
		l.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
