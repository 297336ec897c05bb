package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"alertcpl/internal/logging"
	"alertcpl/internal/service"
	"alertcpl/internal/storage"
)

// SecretHeader carries the shared secret for the manual trigger.
const SecretHeader = "X-Cron-Secret"

// Runner is the reconciliation loop as seen by the HTTP layer.
type Runner interface {
	RunCycle(ctx context.Context) service.CycleResult
	Status() service.Status
}

// Store is the read/write surface behind the dashboard API.
type Store interface {
	storage.AccountStore
	storage.HistoryStore
	storage.AlertStore
}

// Options configure the HTTP surface.
type Options struct {
	Listen        string
	TriggerSecret string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Gatherer      prometheus.Gatherer
}

// Server exposes status, metrics, the dashboard API and the manual trigger.
type Server struct {
	runner Runner
	store  Store
	secret string
	logger zerolog.Logger
	http   *http.Server
}

// New wires the router. store may be nil, in which case the API answers 503.
func New(runner Runner, store Store, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		runner: runner,
		store:  store,
		secret: opts.TriggerSecret,
		logger: logging.Component(logger, "http"),
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.handleListAccounts)
		r.Patch("/accounts/{id}/threshold", s.handleUpdateThreshold)
		r.Get("/cpl-logs", s.handleListCPLLogs)
		r.Get("/alerts", s.handleListAlerts)
		r.With(s.requireSecret).Post("/run", s.handleRun)
	})

	s.http = &http.Server{
		Addr:         opts.Listen,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
