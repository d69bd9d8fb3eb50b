package psirpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ninefl/psi-node/internal/wire"
)

// ServiceName matches the package.service name a protoc-generated stub
// would have used, kept stable across client and server registration.
const ServiceName = "psi.Execute"

// Server is implemented by anything that can answer both the unary and
// streaming PSI execute RPCs (C3's grpc-facing surface).
type Server interface {
	PsiExecute(context.Context, *wire.ExecuteRequest) (*wire.ExecuteResult, error)
	PsiStreamExecute(ExecuteStreamServer) error
}

// ExecuteStreamServer is the server-side handle for the bidirectional
// PsiStreamExecute RPC.
type ExecuteStreamServer interface {
	Send(*wire.ExecuteResult) error
	Recv() (*wire.ExecuteRequest, error)
	Context() context.Context
}

type executeStreamServer struct {
	grpc.ServerStream
}

func (s *executeStreamServer) Send(m *wire.ExecuteResult) error {
	return s.ServerStream.SendMsg(m)
}

func (s *executeStreamServer) Recv() (*wire.ExecuteRequest, error) {
	m := new(wire.ExecuteRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Execute_PsiExecute_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).PsiExecute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/PsiExecute"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).PsiExecute(ctx, req.(*wire.ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Execute_PsiStreamExecute_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(Server).PsiStreamExecute(&executeStreamServer{stream})
}

// ServiceDesc is the hand-rolled equivalent of what protoc-gen-go-grpc
// would have produced for a service with one unary and one bidi-streaming
// method.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PsiExecute",
			Handler:    _Execute_PsiExecute_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PsiStreamExecute",
			Handler:       _Execute_PsiStreamExecute_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "psi.proto",
}

// RegisterServer attaches srv's RPC methods to s, the way grpc-gen's
// RegisterExecuteServer would.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the hand-rolled equivalent of protoc-gen-go-grpc's client
// stub: a thin wrapper over grpc.ClientConnInterface that always forces
// our codec.
type Client interface {
	PsiExecute(ctx context.Context, in *wire.ExecuteRequest, opts ...grpc.CallOption) (*wire.ExecuteResult, error)
	PsiStreamExecute(ctx context.Context, opts ...grpc.CallOption) (ExecuteStreamClient, error)
}

// ExecuteStreamClient is the client-side handle for PsiStreamExecute.
type ExecuteStreamClient interface {
	Send(*wire.ExecuteRequest) error
	Recv() (*wire.ExecuteResult, error)
	grpc.ClientStream
}

type client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a grpc.ClientConnInterface (typically a *grpc.ClientConn)
// with the PSI execute RPC methods.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &client{cc: cc}
}

func (c *client) PsiExecute(ctx context.Context, in *wire.ExecuteRequest, opts ...grpc.CallOption) (*wire.ExecuteResult, error) {
	out := new(wire.ExecuteResult)
	opts = append([]grpc.CallOption{grpc.ForceCodec(codec{})}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/PsiExecute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) PsiStreamExecute(ctx context.Context, opts ...grpc.CallOption) (ExecuteStreamClient, error) {
	opts = append([]grpc.CallOption{grpc.ForceCodec(codec{})}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/PsiStreamExecute", opts...)
	if err != nil {
		return nil, err
	}
	return &executeStreamClient{stream}, nil
}

type executeStreamClient struct {
	grpc.ClientStream
}

func (c *executeStreamClient) Send(m *wire.ExecuteRequest) error {
	return c.ClientStream.SendMsg(m)
}

func (c *executeStreamClient) Recv() (*wire.ExecuteResult, error) {
	m := new(wire.ExecuteResult)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
