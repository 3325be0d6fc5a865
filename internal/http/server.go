package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spendbot/internal/core"
	"spendbot/internal/log"
	"spendbot/internal/metrics"
)

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// JournalReader serves the recent-commands endpoint.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]core.JournalEntry, error)
}

// Server is the ops endpoint: liveness, readiness, Prometheus metrics and
// the recent journal.
type Server struct {
	http.Server
	started time.Time
	logger  *log.Logger

	mu     sync.RWMutex
	checks map[string]ReadinessCheck

	journal JournalReader

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithCheck registers a named readiness check.
func WithCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

func WithJournal(j JournalReader) Option {
	return func(s *Server) { s.journal = j }
}

// NewServer configures routes. gatherer is exposed on /metrics; m records
// request metrics for the ops routes and may be nil.
func NewServer(addr string, gatherer prometheus.Gatherer, m *metrics.Metrics, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           log.Middleware(logger)(mux),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		started: time.Now(),
		logger:  logger,
		checks:  make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		opt(s)
	}

	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(m, name)(h))
	}
	route("GET /healthz", "/healthz", s.handleHealth)
	route("GET /readyz", "/readyz", s.handleReady)
	route("GET /journal", "/journal", s.handleJournal)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// AddCheck registers a readiness check after construction, for dependencies
// that connect later.
func (s *Server) AddCheck(name string, check ReadinessCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Run serves until ctx is done, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening", "addr", s.Addr)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
