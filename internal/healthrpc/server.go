// Package healthrpc serves the standard grpc.health.v1 service so
// orchestrators can probe the ledger without speaking HTTP.
package healthrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry reported alongside the overall "" entry.
const ServiceName = "keyledger.v1.Ledger"

// Probe reports whether the ledger store is usable.
type Probe func(ctx context.Context) error

type Config struct {
	Addr string
	// Probe, when set, is run every Interval and flips the ledger entry
	// between SERVING and NOT_SERVING.
	Probe    Probe
	Interval time.Duration
	Logger   *slog.Logger
}

type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	probe      Probe
	interval   time.Duration
	logger     *slog.Logger
}

func New(cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		probe:      cfg.Probe,
		interval:   cfg.Interval,
		logger:     cfg.Logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Check runs the probe once and publishes the result.
func (s *Server) Check(ctx context.Context) {
	if s.probe == nil {
		return
	}
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := s.probe(ctx); err != nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("ledger health probe failed", "err", err)
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("grpc health listening", "addr", s.Addr())

	var tick <-chan time.Time
	if s.probe != nil {
		s.Check(ctx)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpcServer.GracefulStop()
			return served(<-serveErr)
		case err := <-serveErr:
			return served(err)
		case <-tick:
			s.Check(ctx)
		}
	}
}

func served(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}
