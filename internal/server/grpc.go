package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer carries the standard gRPC health service (for load balancer
// probes) and server reflection (for grpcurl / grpcui). The JSON surface
// lives on the HTTP server.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	grpcAddr string
	log      zerolog.Logger
}

func NewGRPCServer(grpcAddr string, log zerolog.Logger) *GRPCServer {
	server := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)

	return &GRPCServer{
		server:   server,
		health:   healthServer,
		grpcAddr: grpcAddr,
		log:      log,
	}
}

// SetServing flips the health service status.
func (s *GRPCServer) SetServing(serving bool) {
	if serving {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// Start serves until the context ends (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.server.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.server.Serve(lis)
}
