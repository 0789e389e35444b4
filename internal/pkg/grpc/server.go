package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	logger "github.com/poolify/poolify/middleware/log"
)

// Probe reports whether one dependency is usable.
type Probe func(ctx context.Context) error

// Server exposes the standard gRPC health service. The overall status
// ("") and one status per named probe are refreshed on an interval.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	probes   map[string]Probe
	interval time.Duration
	logger   *logger.Logger

	stopOnce sync.Once
	done     chan struct{}
}

func NewServer(address string, probes map[string]Probe, interval time.Duration, log *logger.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	return newServer(listener, probes, interval, log), nil
}

func newServer(listener net.Listener, probes map[string]Probe, interval time.Duration, log *logger.Logger) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	log = log.Named("grpc")
	s := &Server{
		listener: listener,
		health:   health.NewServer(),
		probes:   probes,
		interval: interval,
		logger:   log,
		done:     make(chan struct{}),
	}
	s.server = grpc.NewServer(grpc.UnaryInterceptor(s.unaryLoggingInterceptor))
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

func (s *Server) unaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := codes.OK
	if err != nil {
		if st, ok := status.FromError(err); ok {
			code = st.Code()
		}
	}
	s.logger.Debug("grpc call",
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()))
	return resp, err
}

// Check runs every probe once and publishes the results.
func (s *Server) Check(ctx context.Context) bool {
	healthy := true
	for name, probe := range s.probes {
		st := healthpb.HealthCheckResponse_SERVING
		if err := probe(ctx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			healthy = false
			s.logger.Warn("health probe failed", zap.String("probe", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, st)
	}
	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	return healthy
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			s.Check(ctx)
			cancel()
		case <-s.done:
			return
		}
	}
}

// Start blocks serving until Stop.
func (s *Server) Start() error {
	s.Check(context.Background())
	go s.watch()
	s.logger.Info("grpc health server listening", zap.String("address", s.listener.Addr().String()))
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.health.Shutdown()
		s.server.GracefulStop()
	})
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
