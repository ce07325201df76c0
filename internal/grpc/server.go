// Package grpc serves the standard gRPC health protocol, reporting the
// issue store as SERVING only while the database answers pings.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name clients probe.
const ServiceName = "civic.issues.v1.IssueService"

const defaultCheckInterval = 15 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	db            Pinger
	health        *health.Server
	grpcServer    *grpc.Server
	checkInterval time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(db Pinger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		db:            db,
		health:        health.NewServer(),
		checkInterval: defaultCheckInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	return s
}

// Start runs the health check loop and serves on addr until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		lis.Close()
		return grpc.ErrServerStopped
	}
	s.check(s.ctx)
	s.wg.Add(1)
	go s.loop(s.ctx)
	s.mu.Unlock()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

func (s *Server) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(pctx); err != nil {
		slog.Warn("database ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
