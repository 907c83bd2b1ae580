package grpc

import (
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/nemanja-m/wineml/internal/coordinator/core"
	"github.com/nemanja-m/wineml/internal/shared/logging"
	"github.com/nemanja-m/wineml/internal/shared/rpc"
)

type ServerConfig struct {
	Addr              string
	KeepaliveMinTime  time.Duration
	HeartbeatInterval time.Duration
	NumPartitions     int
}

type Server struct {
	addr       string
	grpcServer *grpc.Server
	health     *health.Server
	service    *CoordinatorService
	logger     logging.Logger
}

func NewServer(
	cfg ServerConfig,
	workerService core.WorkerService,
	stageService core.StageService,
	logger logging.Logger,
) *Server {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             cfg.KeepaliveMinTime,
			PermitWithoutStream: true,
		}),
	)

	service := NewCoordinatorService(
		cfg.HeartbeatInterval,
		cfg.NumPartitions,
		workerService,
		stageService,
		logger,
	)
	rpc.RegisterCoordinatorServer(grpcServer, service)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		addr:       cfg.Addr,
		grpcServer: grpcServer,
		health:     healthServer,
		service:    service,
		logger:     logger,
	}
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.addr)
}

func (s *Server) Start() error {
	lis, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Coordinator listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Drain marks the coordinator as not serving and stops accepting executors.
func (s *Server) Drain() {
	s.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.service.Drain()
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
