package metric

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JiseokYu/code-push-server/errors"
)

// Server exposes the storage metrics over HTTP.
type Server struct {
	port    int
	path    string
	metrics *StorageMetrics

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a metrics server for the given metric set.
func NewServer(port int, path string, metrics *StorageMetrics) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}
	return &Server{
		port:    port,
		path:    path,
		metrics: metrics,
	}
}

// Start starts the metrics HTTP server in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New(errors.Invalid, "metric.Server", "Start", "server already running")
	}
	if s.metrics == nil {
		return errors.New(errors.Invalid, "metric.Server", "Start", "metrics not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// The caller notices via failed scrapes; nothing to do here.
			_ = err
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.Wrap(errors.Other, err, "metric.Server", "Stop", "shutdown")
	}
	return nil
}
