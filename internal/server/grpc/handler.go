package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/server/models"
	"github.com/dmitrijs2005/wardsync/internal/server/services"
	"github.com/dmitrijs2005/wardsync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func toWire(r models.Record) wire.Record {
	return wire.Record{
		EntityType: r.EntityType,
		ID:         r.ID,
		Payload:    r.Payload,
		UpdatedAt:  r.UpdatedAt,
		Deleted:    r.Deleted,
		Version:    r.Version,
		Origin:     r.Origin,
	}
}

func fromWire(r wire.Record, revision int64) models.Record {
	return models.Record{
		EntityType: r.EntityType,
		ID:         r.ID,
		Payload:    r.Payload,
		UpdatedAt:  r.UpdatedAt,
		Deleted:    r.Deleted,
		Origin:     r.Origin,
		Revision:   revision,
	}
}

// statusFromError maps service errors onto gRPC codes. Internal details are
// logged, not returned.
func (s *GRPCServer) statusFromError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidRecord):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Error(ctx, op+" failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) Ping(ctx context.Context, req *wire.PingRequest) (*wire.PingResponse, error) {
	return &wire.PingResponse{Status: "OK", ServerTime: time.Now().UTC()}, nil
}

// Push answers a version conflict in-band: Accepted is false and Current
// carries the stored copy.
func (s *GRPCServer) Push(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	deviceID := DeviceIDFromContext(ctx)

	stored, err := s.records.Push(ctx, deviceID, fromWire(req.Record, req.Revision), req.BaseVersion)

	var ce *services.ConflictError
	if errors.As(err, &ce) {
		s.logger.Info(ctx, "push conflict",
			"entity", req.Record.EntityType, "id", req.Record.ID,
			"base", req.BaseVersion, "current", ce.Current.Version, "device", deviceID)
		cur := toWire(ce.Current)
		return &wire.PushResponse{Accepted: false, Revision: req.Revision, Current: &cur}, nil
	}
	if err != nil {
		return nil, s.statusFromError(ctx, "push", err)
	}

	s.logger.Debug(ctx, "push accepted",
		"entity", stored.EntityType, "id", stored.ID, "version", stored.Version, "device", deviceID)
	return &wire.PushResponse{Accepted: true, Revision: req.Revision, Version: stored.Version}, nil
}

func (s *GRPCServer) Pull(ctx context.Context, req *wire.PullRequest) (*wire.PullResponse, error) {
	recs, err := s.records.Pull(ctx, req.EntityType, req.Since, req.Limit)
	if err != nil {
		return nil, s.statusFromError(ctx, "pull", err)
	}

	out := make([]wire.Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, toWire(r))
	}
	return &wire.PullResponse{Records: out}, nil
}
