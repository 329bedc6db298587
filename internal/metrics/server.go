package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the registry over HTTP.
type Server struct {
	address  string
	path     string
	registry *Registry
	logger   logger.ILogger

	mu     sync.Mutex
	server *http.Server
	ln     net.Listener
}

// NewServer creates a metrics server. Empty address and path default to
// :9464 and /metrics.
func NewServer(address, path string, registry *Registry, log logger.ILogger) *Server {
	if address == "" {
		address = ":9464"
	}
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		address:  address,
		path:     path,
		registry: registry,
		logger:   log.SubLogger("MetricsServer"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("metrics server already running")
	}

	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server, s.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("metrics server: %v", err)
		}
	}()

	s.logger.Infof("serving metrics on http://%s%s", ln.Addr(), s.path)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.ln = nil, nil
	return err
}
