// Package grpc serves fieldsync.v1.SyncBackend on top of the record service.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/rpc"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"google.golang.org/grpc"
)

// recordService is the part of services.RecordService the transport needs.
type recordService interface {
	Push(ctx context.Context, tenantID string, m models.Mutation) (*models.Record, error)
	Pull(ctx context.Context, tenantID, entityType, cursor string, limit int) ([]*models.Record, string, bool, error)
	Get(ctx context.Context, tenantID, entityType, id string) (*models.Record, error)
}

type GRPCServer struct {
	address   string
	records   recordService
	logger    logging.Logger
	jwtSecret []byte
	pageLimit int
}

var _ rpc.SyncBackendServer = (*GRPCServer)(nil)

// NewGRPCServer builds a server for address. pageLimit caps the page size
// a client may ask for; 0 means no cap beyond the service's own.
func NewGRPCServer(address string, l logging.Logger, rs recordService, secretKey string, pageLimit int) *GRPCServer {
	return &GRPCServer{
		address:   address,
		logger:    l.With("module", "grpc_server"),
		records:   rs,
		jwtSecret: []byte(secretKey),
		pageLimit: pageLimit,
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	rpc.RegisterSyncBackendServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	return srv.Serve(lis)
}
