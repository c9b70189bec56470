package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/remiblancher/asic/internal/api/router"
	"github.com/remiblancher/asic/internal/api/service"
	"github.com/remiblancher/asic/internal/logging"
)

// Server represents the HTTP API server.
type Server struct {
	cfg        *Config
	version    string
	containers *service.ContainerService
	srv        *http.Server
}

// New creates a new Server.
func New(cfg *Config, version string, containers *service.ContainerService) *Server {
	return &Server{
		cfg:        cfg,
		version:    version,
		containers: containers,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return router.New(&router.Config{
		Version:    s.version,
		Containers: s.containers,
		Metrics:    s.cfg.Metrics,
	})
}

// Start listens on the configured address and blocks until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context, out io.Writer) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln, out)
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener, out io.Writer) error {
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.printStartupInfo(out, ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if s.cfg.TLS() {
			errChan <- s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			errChan <- s.srv.Serve(ln)
		}
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logging.Component("server").Info("shutting down", "cause", context.Cause(ctx))
		return s.shutdown()
	}
}

// shutdown gracefully stops the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logging.Component("server").Info("server stopped gracefully")
	return nil
}

// printStartupInfo prints server startup information.
func (s *Server) printStartupInfo(out io.Writer, addr string) {
	scheme := "http"
	if s.cfg.TLS() {
		scheme = "https"
	}
	services := s.containers.Services()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "ASiC Signature API Server")
	fmt.Fprintln(out, "=========================")
	fmt.Fprintf(out, "  Version:  %s\n", s.version)
	fmt.Fprintf(out, "  Address:  %s://%s\n", scheme, addr)
	fmt.Fprintf(out, "  OCSP:     %s\n", configured(services.OCSP != nil))
	fmt.Fprintf(out, "  TSA:      %s\n", configured(services.TSA != nil))
	fmt.Fprintln(out)
	s.printEndpoints(out)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Use Ctrl+C to stop")
	fmt.Fprintln(out)
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

// printEndpoints prints available endpoints.
func (s *Server) printEndpoints(out io.Writer) {
	fmt.Fprintln(out, "Endpoints:")
	fmt.Fprintln(out, "  GET  /health                              - Health check")
	fmt.Fprintln(out, "  GET  /ready                               - Readiness check")
	if s.cfg.Metrics {
		fmt.Fprintln(out, "  GET  /metrics                             - Prometheus metrics")
	}
	fmt.Fprintln(out, "  *    /api/v1/containers/*                 - Containers")
	fmt.Fprintln(out, "  POST /api/v1/sessions/{id}/finalize       - Finalize remote signature")
}
