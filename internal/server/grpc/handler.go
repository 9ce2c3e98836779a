package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/rpc"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *GRPCServer) PushCreate(ctx context.Context, m rpc.Mutation) (rpc.Record, error) {
	return s.push(ctx, models.OpCreate, m)
}

func (s *GRPCServer) PushUpdate(ctx context.Context, m rpc.Mutation) (rpc.Record, error) {
	return s.push(ctx, models.OpUpdate, m)
}

func (s *GRPCServer) PushDelete(ctx context.Context, m rpc.Mutation) (rpc.Empty, error) {
	_, err := s.push(ctx, models.OpDelete, m)
	return rpc.Empty{}, err
}

func (s *GRPCServer) push(ctx context.Context, op models.Operation, m rpc.Mutation) (rpc.Record, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return rpc.Record{}, err
	}

	rec, err := s.records.Push(ctx, tenantID, models.Mutation{
		MutationID:  m.MutationID,
		Operation:   op,
		EntityType:  m.Type,
		ID:          m.ID,
		BaseVersion: m.BaseVersion,
		Payload:     m.Payload,
	})
	if err != nil {
		return rpc.Record{}, s.toStatus(ctx, err)
	}

	s.logger.Debug(ctx, "Mutation applied", "tenant", tenantID, "op", op, "type", m.Type, "id", m.ID, "version", rec.Version)
	return toRecord(rec), nil
}

func (s *GRPCServer) PullChanges(ctx context.Context, req rpc.PullRequest) (rpc.PullResponse, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return rpc.PullResponse{}, err
	}
	if req.Type == "" {
		return rpc.PullResponse{}, status.Error(codes.InvalidArgument, "type is required")
	}

	limit := req.Limit
	if s.pageLimit > 0 && limit > s.pageLimit {
		limit = s.pageLimit
	}

	recs, next, hasMore, err := s.records.Pull(ctx, tenantID, req.Type, req.Cursor, limit)
	if err != nil {
		return rpc.PullResponse{}, s.toStatus(ctx, err)
	}

	resp := rpc.PullResponse{Records: make([]rpc.Record, 0, len(recs)), NextCursor: next, HasMore: hasMore}
	for _, r := range recs {
		resp.Records = append(resp.Records, toRecord(r))
	}
	return resp, nil
}

func (s *GRPCServer) GetRecord(ctx context.Context, req rpc.GetRequest) (rpc.Record, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return rpc.Record{}, err
	}

	rec, err := s.records.Get(ctx, tenantID, req.Type, req.ID)
	if err != nil {
		return rpc.Record{}, s.toStatus(ctx, err)
	}
	return toRecord(rec), nil
}

func (s *GRPCServer) Ping(context.Context, rpc.Empty) (rpc.PingResponse, error) {
	return rpc.PingResponse{Status: "OK"}, nil
}

// toStatus maps service errors to the codes clients classify on.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(ctx, "request failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func toRecord(r *models.Record) rpc.Record {
	return rpc.Record{
		Type:      r.EntityType,
		ID:        r.ID,
		Data:      r.Data,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
}
