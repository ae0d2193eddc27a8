package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"Go2TopTalk/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server runs the HTTP and gRPC front ends of a Service.
type Server struct {
	cfg     config.APIConfig
	service *Service
}

// NewServer creates a Server listening on the addresses in cfg. An empty
// address disables that front end.
func NewServer(cfg config.APIConfig, service *Service) *Server {
	return &Server{cfg: cfg, service: service}
}

// Run serves until ctx is cancelled, then shuts both servers down.
func (s *Server) Run(ctx context.Context) error {
	var lis net.Listener
	if s.cfg.GRPCListenAddr != "" {
		var err error
		if lis, err = net.Listen("tcp", s.cfg.GRPCListenAddr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCListenAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	log := s.service.log

	if s.cfg.ListenAddr != "" {
		httpServer := &http.Server{
			Addr:              s.cfg.ListenAddr,
			Handler:           NewHTTPHandler(s.service),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.WithField("addr", httpServer.Addr).Info("HTTP API server starting")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("could not listen on %s: %w", httpServer.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if lis != nil {
		grpcServer := NewGRPC(s.service)
		g.Go(func() error {
			log.WithField("addr", s.cfg.GRPCListenAddr).Info("gRPC API server starting")
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("failed to serve gRPC: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// NewGRPC builds a grpc.Server with the TopTalk and health services
// registered.
func NewGRPC(service *Service) *grpc.Server {
	grpcServer := grpc.NewServer()
	RegisterTopTalkServer(grpcServer, NewGRPCServer(service))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return grpcServer
}
