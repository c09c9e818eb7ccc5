// Package grpc exposes the record service as the wardsync.v1.Authority
// gRPC service.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/wardsync/internal/logging"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
	"github.com/dmitrijs2005/wardsync/internal/wire"
	"google.golang.org/grpc"
)

// RecordService is the slice of services.RecordService the handlers use.
type RecordService interface {
	Push(ctx context.Context, deviceID string, rec models.Record, baseVersion int64) (models.Record, error)
	Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.Record, error)
}

type GRPCServer struct {
	address   string
	records   RecordService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, rs RecordService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		records:   rs,
		jwtSecret: []byte(secretKey),
	}
}

// newServer builds a grpc.Server with the interceptors and service registered.
func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	wire.RegisterAuthorityServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
