// Package api serves the stratlab gRPC backtest service alongside an HTTP
// endpoint for health checks and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"stratlab/internal/config"
)

// Server hosts the gRPC service and the HTTP metrics listener.
type Server struct {
	grpcAddr string
	httpAddr string

	grpc *grpc.Server
	http *http.Server
	log  *slog.Logger
}

// NewServer creates a Server for svc listening on the addresses in cfg.
// metricsHandler may be nil to serve only /healthz.
func NewServer(cfg *config.Config, svc BacktestServer, metricsHandler http.Handler, log *slog.Logger) *Server {
	log = log.With("component", "api")
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(log)))
	gs.RegisterService(&ServiceDesc, svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return &Server{
		grpcAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort),
		httpAddr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		grpc:     gs,
		http:     &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		log:      log,
	}
}

// GRPC returns the underlying gRPC server.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe starts both listeners and blocks until ctx is cancelled or
// a listener fails, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	gl, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	hl, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		gl.Close()
		return fmt.Errorf("listening on %s: %w", s.httpAddr, err)
	}
	return s.Serve(ctx, gl, hl)
}

// Serve serves on the given listeners until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("grpc listening", "addr", grpcLis.Addr().String())
		return s.grpc.Serve(grpcLis)
	})
	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLis.Addr().String())
		if err := s.http.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight
// requests, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	return s.http.Shutdown(ctx)
}
