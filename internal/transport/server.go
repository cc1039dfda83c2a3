package transport

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name the relay reports health under. The empty name
// reports overall server health and is kept in step with it.
const Service = "adsbrelay.Relay"

// Server exposes the standard grpc.health.v1 service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer listens on port (0 picks a free port). Call Serve to accept.
func StartServer(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// SetServing flips the reported status for both the relay service and the
// server as a whole.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
