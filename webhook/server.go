package webhook

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goliatone/go-crmwatch/core"
)

const shutdownTimeout = 10 * time.Second

// Server runs the router until its context is cancelled, then drains
// in-flight requests.
type Server struct {
	http     *http.Server
	observer core.Observer
}

func NewServer(cfg core.ServerConfig, handler http.Handler, logger core.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.Addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		observer: core.NewObserver(logger),
	}
}

func (s *Server) Addr() string {
	return s.http.Addr
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return core.WrapConfigError(err, "webhook: listen failed", map[string]any{"addr": s.http.Addr})
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.observer.Log(ctx, "info", "webhook server listening", map[string]any{"addr": listener.Addr().String()})
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.observer.Log(context.Background(), "info", "webhook server shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
