package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/signalsfoundry/cosim-runtime/core"
	"github.com/signalsfoundry/cosim-runtime/internal/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var tracer = otel.Tracer("github.com/signalsfoundry/cosim-runtime/transport")

// GRPCByteTransport carries ActionMessages between nodes that do not share a
// process, over a single bidirectional stream per link. It implements
// Transport and RuntimeTransportServer.
type GRPCByteTransport struct {
	self uint16
	log  logging.Logger

	server *grpc.Server

	mu           sync.RWMutex
	recv         func(core.ActionMessage)
	childStreams map[uint16]*guardedStream
	parent       *guardedStream
	parentConn   *grpc.ClientConn
}

type guardedStream struct {
	mu   sync.Mutex
	send func(*wrapperspb.BytesValue) error
}

func (g *guardedStream) Send(b *wrapperspb.BytesValue) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.send(b)
}

// NewGRPCByteTransport constructs a transport for node self.
func NewGRPCByteTransport(self uint16, log logging.Logger) *GRPCByteTransport {
	if log == nil {
		log = logging.Noop()
	}
	return &GRPCByteTransport{
		self:         self,
		log:          log,
		childStreams: make(map[uint16]*guardedStream),
	}
}

// Serve starts a gRPC server accepting child connections on addr, chained
// with the given unary/stream interceptors for metrics.
func (t *GRPCByteTransport) Serve(addr string, opts ...grpc.ServerOption) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	t.server = grpc.NewServer(opts...)
	RegisterRuntimeTransportServer(t.server, t)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			t.log.Warn(context.Background(), "grpc transport server exited", logging.String("error", err.Error()))
		}
	}()
	t.log.Info(context.Background(), "runtime transport listening", logging.String("addr", addr))
	return nil
}

// DialParent opens a persistent Exchange stream to the parent broker at
// addr and begins forwarding inbound messages to the receiver callback.
func (t *GRPCByteTransport) DialParent(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	client := NewRuntimeTransportClient(conn)
	stream, err := client.Exchange(ctx)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: open exchange stream: %w", err)
	}

	t.mu.Lock()
	t.parentConn = conn
	t.parent = &guardedStream{send: stream.Send}
	t.mu.Unlock()

	hello := core.ActionMessage{Action: core.ActionRegisterBroker, SourceID: core.NewNodeId(t.self)}
	if err := t.parent.Send(&wrapperspb.BytesValue{Value: core.EncodeActionMessage(hello)}); err != nil {
		return fmt.Errorf("transport: send handshake: %w", err)
	}

	go t.readLoop(stream)
	return nil
}

func (t *GRPCByteTransport) readLoop(stream RuntimeTransport_ExchangeClient) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			t.log.Warn(context.Background(), "transport read loop ended", logging.String("error", err.Error()))
			return
		}
		t.handleInbound(msg)
	}
}

// Exchange implements RuntimeTransportServer: the first message on a stream
// identifies the calling child's node index; every subsequent message is
// decoded and delivered to the receiver.
func (t *GRPCByteTransport) Exchange(stream RuntimeTransport_ExchangeServer) error {
	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	hello, err := core.DecodeActionMessage(msg.Value)
	if err != nil {
		return err
	}
	childIdx := hello.SourceID.NodeIndex()

	gs := &guardedStream{send: stream.Send}
	t.mu.Lock()
	t.childStreams[childIdx] = gs
	t.mu.Unlock()

	for {
		msg, err := stream.Recv()
		if err != nil {
			t.mu.Lock()
			delete(t.childStreams, childIdx)
			t.mu.Unlock()
			return err
		}
		t.handleInbound(msg)
	}
}

func (t *GRPCByteTransport) handleInbound(msg *wrapperspb.BytesValue) {
	ctx, span := tracer.Start(context.Background(), "transport.receive_batch")
	defer span.End()

	m, err := core.DecodeActionMessage(msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("action", m.Action.String()),
		attribute.String("source", m.SourceID.String()),
		attribute.String("dest", m.DestID.String()),
	)

	t.mu.RLock()
	recv := t.recv
	t.mu.RUnlock()
	if recv != nil {
		recv(m)
	}
	_ = ctx
}

// Send implements Transport: it forwards to a known child stream, or falls
// back to the parent stream if destNode is not a direct child.
func (t *GRPCByteTransport) Send(ctx context.Context, destNode uint16, m core.ActionMessage) error {
	_, span := tracer.Start(ctx, "transport.send_batch")
	defer span.End()
	span.SetAttributes(attribute.String("action", m.Action.String()), attribute.Int("dest_node", int(destNode)))

	t.mu.RLock()
	child, hasChild := t.childStreams[destNode]
	parent := t.parent
	t.mu.RUnlock()

	encoded := &wrapperspb.BytesValue{Value: core.EncodeActionMessage(m)}
	var err error
	switch {
	case hasChild:
		err = child.Send(encoded)
	case parent != nil:
		err = parent.Send(encoded)
	default:
		err = core.ErrTransportFailure
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// SetReceiver installs the inbound message callback.
func (t *GRPCByteTransport) SetReceiver(fn func(core.ActionMessage)) {
	t.mu.Lock()
	t.recv = fn
	t.mu.Unlock()
}

// Close stops the server and closes the parent connection, if any.
func (t *GRPCByteTransport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.mu.Lock()
	conn := t.parentConn
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
