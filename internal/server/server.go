// Package server exposes the recorder's status over the standard gRPC
// health protocol.
package server

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry that tracks capture state.
const ServiceName = "voicerecorder.Recorder"

// Server is a gRPC server carrying only the health service. Both the
// overall ("") and ServiceName entries report NOT_SERVING until capture
// starts.
type Server struct {
	log    *slog.Logger
	grpc   *grpc.Server
	health *health.Server
}

// New builds the server. opts are passed to grpc.NewServer.
func New(logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger.With("component", "server"),
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	healthgrpc.RegisterHealthServer(s.grpc, s.health)
	s.SetRecording(false)
	return s
}

// SetRecording flips the health status to SERVING while capture runs.
func (s *Server) SetRecording(recording bool) {
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if recording {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.log.Debug("health status changed", "status", status.String())
}

// Serve blocks serving lis. It returns nil after Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every entry NOT_SERVING, drains in-flight calls and forces the
// server down if draining takes longer than timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.log.Warn("graceful stop timed out, forcing stop")
		s.grpc.Stop()
		<-stopped
	}
}
