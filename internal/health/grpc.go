// Package health exposes the service health over the standard gRPC health
// protocol so orchestrators can health-check the tutor without HTTP.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/ashureev/learnitall/internal/api"
)

// Evaluator reports the current health of the service and its dependencies.
type Evaluator interface {
	Evaluate(ctx context.Context) (api.HealthReport, bool)
	Names() []string
}

// Server serves grpc.health.v1.Health backed by an Evaluator.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	eval     Evaluator
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a gRPC server with the health service registered.
// Statuses are refreshed every interval once Watch is running.
func NewServer(eval Evaluator, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, eval: eval, interval: interval, logger: logger}
	s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh evaluates every check once and updates the served statuses.
// The empty service name reflects overall health; each check is also
// exposed under its own name.
func (s *Server) Refresh(ctx context.Context) {
	report, serving := s.eval.Evaluate(ctx)
	overall := healthpb.HealthCheckResponse_SERVING
	if !serving {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	for _, name := range s.eval.Names() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if report.Checks[name] == "ok" {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(name, status)
	}
}

// Watch refreshes statuses until ctx is cancelled.
func (s *Server) Watch(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service as not serving and drains open streams.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setAll(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	for _, name := range s.eval.Names() {
		s.health.SetServingStatus(name, status)
	}
}
