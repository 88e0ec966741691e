package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthService is the name readiness is reported under, next to the
// overall "" status.
const HealthService = "taxiifeed.Feed"

// StartGRPC serves the gRPC health and reflection services on addr until
// StopGRPC is called.
func (s *Server) StartGRPC(addr string) error {
	s.checkReadiness()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if err := s.grpcSrv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) registerGRPC() {
	healthpb.RegisterHealthServer(s.grpcSrv, s.health)
	reflection.Register(s.grpcSrv)
}

// StopGRPC drains in-flight RPCs and stops the gRPC server.
func (s *Server) StopGRPC() {
	s.health.Shutdown()
	s.grpcSrv.GracefulStop()
}

// WatchReadiness re-evaluates readiness every interval until ctx ends.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.checkReadiness()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// checkReadiness reports SERVING while the data directory can be listed.
func (s *Server) checkReadiness() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := os.ReadDir(s.cfg.DataDir); err != nil {
		s.logger.Warn("data directory not ready", zap.String("dir", s.cfg.DataDir), zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
	return status
}
