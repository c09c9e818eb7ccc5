package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// AuthorityServer is implemented by the reference server.
type AuthorityServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Push(context.Context, *PushRequest) (*PushResponse, error)
	Pull(context.Context, *PullRequest) (*PullResponse, error)
}

func RegisterAuthorityServer(s grpc.ServiceRegistrar, srv AuthorityServer) {
	s.RegisterService(&AuthorityServiceDesc, srv)
}

type reply interface {
	toProto() (proto.Message, error)
}

// unary builds a method handler. Messages are decoded into dynamic protobuf
// messages by grpc's proto codec and converted at this edge, so interceptors
// and the server only see the Go types.
func unary[Req any, Resp reply](
	method string,
	in protoreflect.MessageDescriptor,
	decode func(protoreflect.Message) (*Req, error),
	call func(AuthorityServer, context.Context, *Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		m := dynamicpb.NewMessage(in)
		if err := dec(m); err != nil {
			return nil, err
		}
		req, err := decode(m)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", method, err)
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthorityServer), ctx, req.(*Req))
		}
		var out any
		if interceptor == nil {
			out, err = handler(ctx, req)
		} else {
			out, err = interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: method}, handler)
		}
		if err != nil {
			return nil, err
		}

		resp, ok := out.(Resp)
		if !ok {
			return nil, status.Errorf(codes.Internal, "%s: unexpected reply %T", method, out)
		}
		pm, err := resp.toProto()
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode %s: %v", method, err)
		}
		return pm, nil
	}
}

var AuthorityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: unary(MethodPing, pingRequestDesc, pingRequestFromProto, AuthorityServer.Ping)},
		{MethodName: "Push", Handler: unary(MethodPush, pushRequestDesc, pushRequestFromProto, AuthorityServer.Push)},
		{MethodName: "Pull", Handler: unary(MethodPull, pullRequestDesc, pullRequestFromProto, AuthorityServer.Pull)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

// AuthorityClient is the client side of the service.
type AuthorityClient interface {
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error)
	Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (*PullResponse, error)
}

type authorityClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorityClient(cc grpc.ClientConnInterface) AuthorityClient {
	return &authorityClient{cc: cc}
}

// invoke encodes in, calls method and decodes the reply. An unencodable
// request never leaves the process and fails with InvalidArgument.
func invoke[Resp any](
	ctx context.Context,
	cc grpc.ClientConnInterface,
	method string,
	in reply,
	out protoreflect.MessageDescriptor,
	decode func(protoreflect.Message) (*Resp, error),
	opts []grpc.CallOption,
) (*Resp, error) {
	req, err := in.toProto()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode %s: %v", method, err)
	}
	m := dynamicpb.NewMessage(out)
	if err := cc.Invoke(ctx, method, req, m, opts...); err != nil {
		return nil, err
	}
	resp, err := decode(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decode %s: %v", method, err)
	}
	return resp, nil
}

func (c *authorityClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke(ctx, c.cc, MethodPing, in, pingResponseDesc, pingResponseFromProto, opts)
}

func (c *authorityClient) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	return invoke(ctx, c.cc, MethodPush, in, pushResponseDesc, pushResponseFromProto, opts)
}

func (c *authorityClient) Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (*PullResponse, error) {
	return invoke(ctx, c.cc, MethodPull, in, pullResponseDesc, pullResponseFromProto, opts)
}
