package infra

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// HTTPServer serves the API until its context ends, then drains in-flight
// requests for at most Grace.
type HTTPServer struct {
	server *http.Server
	Grace  time.Duration
}

// NewHTTPServer applies the configured timeouts. The write timeout has to
// outlast a synchronous enhancement, so it is never set below the execution
// ceiling.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	write := cfg.HTTPWriteTimeout
	if write > 0 && write < cfg.ExecutionCeiling {
		write = cfg.ExecutionCeiling + 5*time.Second
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      write,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
		Grace: cfg.ExecutionCeiling,
	}
}

// Run listens on the configured address. See Serve.
func (s *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is done or the listener fails. A shutdown triggered
// by ctx returns nil.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	grace := s.Grace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
