package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fd1az/substrate-sidecar/internal/logger"
)

// Server exposes /metrics.
type Server struct {
	port    int
	handler http.Handler
	log     logger.LoggerInterface
	server  *http.Server
}

// NewServer creates a metrics server for p on port.
func NewServer(port int, p *Provider, log logger.LoggerInterface) *Server {
	return &Server{port: port, handler: p.Handler(), log: log}
}

// Start listens in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.handler)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(context.Background(), "metrics server stopped", "port", s.port, "error", err)
		}
	}()

	s.log.Info(context.Background(), "serving metrics", "port", s.port, "path", "/metrics")
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
