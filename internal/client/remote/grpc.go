package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/wardsync/internal/client/models"
	"github.com/dmitrijs2005/wardsync/internal/common"
	"github.com/dmitrijs2005/wardsync/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// GRPCAuthority is an Authority backed by the wardsync server.
type GRPCAuthority struct {
	conn        *grpc.ClientConn
	client      wire.AuthorityClient
	accessToken string
	origin      string
	pingTimeout time.Duration
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (a *GRPCAuthority) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if a.accessToken != "" {
		ctx = withAccessToken(ctx, a.accessToken)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// NewGRPCAuthority dials endpoint lazily. origin tags pushed records with the
// writing device.
func NewGRPCAuthority(endpoint, accessToken, origin string) (*GRPCAuthority, error) {
	a := &GRPCAuthority{accessToken: accessToken, origin: origin, pingTimeout: 5 * time.Second}
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(a.accessTokenInterceptor))
	if err != nil {
		return nil, err
	}
	a.conn = conn
	a.client = wire.NewAuthorityClient(conn)
	return a, nil
}

// NewGRPCAuthorityWithClient wraps an existing client; used with in-process
// connections and in tests.
func NewGRPCAuthorityWithClient(client wire.AuthorityClient, origin string) *GRPCAuthority {
	return &GRPCAuthority{client: client, origin: origin, pingTimeout: 5 * time.Second}
}

func (a *GRPCAuthority) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *GRPCAuthority) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.pingTimeout)
	defer cancel()

	_, err := a.client.Ping(ctx, &wire.PingRequest{})
	return mapError(err)
}

func (a *GRPCAuthority) Push(ctx context.Context, req PushRequest) (models.Ack, error) {
	rec := req.Record
	in := &wire.PushRequest{
		Record: wire.Record{
			EntityType: rec.EntityType,
			ID:         rec.ID,
			Payload:    rec.Payload,
			UpdatedAt:  rec.UpdatedAt,
			Deleted:    rec.Deleted,
			Origin:     a.origin,
		},
		Revision:    rec.LocalRevision,
		BaseVersion: req.BaseVersion,
	}

	resp, err := a.client.Push(ctx, in)
	if err != nil {
		return models.Ack{}, mapError(err)
	}
	if !resp.Accepted {
		if resp.Current == nil {
			return models.Ack{}, rejected(errors.New("push refused without a current copy"))
		}
		return models.Ack{}, &ConflictError{Remote: FromWire(*resp.Current)}
	}
	return models.Ack{Revision: resp.Revision, Version: resp.Version}, nil
}

func (a *GRPCAuthority) Pull(ctx context.Context, entityType string, since int64, limit int) ([]models.RemoteRecord, error) {
	resp, err := a.client.Pull(ctx, &wire.PullRequest{EntityType: entityType, Since: since, Limit: limit})
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]models.RemoteRecord, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, FromWire(r))
	}
	return out, nil
}

// FromWire converts a wire record.
func FromWire(r wire.Record) models.RemoteRecord {
	return models.RemoteRecord{
		ID:         r.ID,
		EntityType: r.EntityType,
		Payload:    r.Payload,
		UpdatedAt:  r.UpdatedAt.UTC(),
		Deleted:    r.Deleted,
		Version:    r.Version,
		Origin:     r.Origin,
	}
}

// mapError sorts gRPC failures into the remote error categories.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transient(err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return transient(err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound,
		codes.AlreadyExists, codes.OutOfRange, codes.Unimplemented:
		return rejected(err)
	default:
		return transient(err)
	}
}
