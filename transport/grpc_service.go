package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// This file hand-writes the client/server stubs a protoc-gen-go-grpc run
// would otherwise generate for a single bidirectional-streaming RPC whose
// request and response are both google.protobuf.BytesValue. There is no
// .proto source: every ActionMessage this service carries is already
// serialized by core.EncodeActionMessage before being wrapped in a
// BytesValue, so the RPC boundary only ever needs an opaque byte transport,
// not a domain-specific message schema. This mirrors the "generic proto
// passthrough" pattern used by reverse-proxying gRPC gateways, applied here
// so the runtime can depend on google.golang.org/grpc and
// google.golang.org/protobuf's official generated types without a protoc
// toolchain step.

const runtimeTransportServiceName = "cosim.runtime.v1.RuntimeTransport"

// RuntimeTransportServer is implemented by the Exchange handler installed on
// a broker/core's gRPC server.
type RuntimeTransportServer interface {
	Exchange(RuntimeTransport_ExchangeServer) error
}

// RuntimeTransport_ExchangeServer is the server-side handle for one
// long-lived bidirectional stream, matching the shape of a
// protoc-gen-go-grpc BidiStreamingServer.
type RuntimeTransport_ExchangeServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type runtimeTransportExchangeServer struct {
	grpc.ServerStream
}

func (x *runtimeTransportExchangeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *runtimeTransportExchangeServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _RuntimeTransport_Exchange_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RuntimeTransportServer).Exchange(&runtimeTransportExchangeServer{stream})
}

var runtimeTransportServiceDesc = grpc.ServiceDesc{
	ServiceName: runtimeTransportServiceName,
	HandlerType: (*RuntimeTransportServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       _RuntimeTransport_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cosim/runtime/transport",
}

// RegisterRuntimeTransportServer registers srv against a *grpc.Server.
func RegisterRuntimeTransportServer(s *grpc.Server, srv RuntimeTransportServer) {
	s.RegisterService(&runtimeTransportServiceDesc, srv)
}

// RuntimeTransportClient opens Exchange streams against a peer.
type RuntimeTransportClient interface {
	Exchange(ctx context.Context, opts ...grpc.CallOption) (RuntimeTransport_ExchangeClient, error)
}

type runtimeTransportClient struct {
	cc grpc.ClientConnInterface
}

// NewRuntimeTransportClient constructs a client bound to cc.
func NewRuntimeTransportClient(cc grpc.ClientConnInterface) RuntimeTransportClient {
	return &runtimeTransportClient{cc: cc}
}

func (c *runtimeTransportClient) Exchange(ctx context.Context, opts ...grpc.CallOption) (RuntimeTransport_ExchangeClient, error) {
	stream, err := c.cc.NewStream(ctx, &runtimeTransportServiceDesc.Streams[0], "/"+runtimeTransportServiceName+"/Exchange", opts...)
	if err != nil {
		return nil, err
	}
	return &runtimeTransportExchangeClient{stream}, nil
}

// RuntimeTransport_ExchangeClient is the client-side handle for one
// long-lived bidirectional stream.
type RuntimeTransport_ExchangeClient interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type runtimeTransportExchangeClient struct {
	grpc.ClientStream
}

func (x *runtimeTransportExchangeClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *runtimeTransportExchangeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
