package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"dirsrv/internal/logger"
	"dirsrv/pkg/config"
	"dirsrv/pkg/directory"
)

// Server is the admin HTTP server. It is created stopped; call Start to
// begin serving and Shutdown for a graceful stop.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// NewServer builds a server over svc from the API config.
func NewServer(cfg config.APIConfig, svc *directory.Service) *Server {
	jwtService := NewJWTService(cfg.JWTSecret, 0)
	return &Server{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(svc, jwtService),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves until Shutdown is called or the listener fails. It blocks.
func (s *Server) Start() error {
	logger.Info("admin api listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests up
// to the context deadline. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.server.Shutdown(ctx)
	})
	return err
}
