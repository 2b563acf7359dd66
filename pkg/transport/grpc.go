package transport

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// serviceName is the gRPC service path every peer registers against.
// There is no .proto file here: the fairness topic's payloads are always
// a single JSON string (spec.md §6 "json_supply: str"), so the
// pre-generated well-known wrapperspb.StringValue, used for both request
// and reply, already says everything a .proto would, without a
// protoc/codegen step.
const serviceName = "fairness.v1.Bus"

// grpcServiceDesc is the hand-written ServiceDesc that would normally be
// protoc-generated. A single generic "Dispatch" RPC carries the method
// name as its own field on the envelope so any of set_metric,
// receive_host_supply, receive_heavinesses can be routed through it.
var grpcServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*grpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(wrapperspb.StringValue)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return srv.(*grpcServer).dispatch(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Dispatch"}
				handler := func(ctx context.Context, req interface{}) (interface{}, error) {
					return srv.(*grpcServer).dispatch(ctx, req.(*wrapperspb.StringValue))
				}
				return interceptor(ctx, in, info, handler)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fairness.proto",
}

// envelope is JSON-encoded into the wrapperspb.StringValue payload so a
// single RPC method can carry any of the fairness topic's methods.
type envelope struct {
	Version string `json:"version"`
	Method  string `json:"method"`
	Payload string `json:"payload"`
}

type grpcServer struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (s *grpcServer) dispatch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	var env envelope
	if err := unmarshalEnvelope(in.GetValue(), &env); err != nil {
		return nil, err
	}
	s.mu.RLock()
	h := s.handlers[env.Method]
	s.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("transport: no handler for method %q", env.Method)
	}
	reply, err := h(ctx, env.Payload)
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(reply), nil
}

// GRPCBus is the default MessageBus: a thin gRPC client/server pair
// carrying JSON envelopes boxed in protobuf well-known types, per the
// wiring described in SPEC_FULL.md's domain stack.
type GRPCBus struct {
	server   *grpc.Server
	fairness *grpcServer

	mu      sync.Mutex
	clients map[string]*grpc.ClientConn
	addrOf  func(host string) string
}

// NewGRPCBus builds a GRPCBus. addrOf resolves a fairness compute-host
// name to a dialable "host:port" address (typically from the deployment's
// service discovery, out of scope here).
func NewGRPCBus(addrOf func(host string) string) *GRPCBus {
	fs := &grpcServer{handlers: make(map[string]Handler)}
	srv := grpc.NewServer()
	srv.RegisterService(&grpcServiceDesc, fs)
	return &GRPCBus{server: srv, fairness: fs, clients: make(map[string]*grpc.ClientConn), addrOf: addrOf}
}

// Server returns the underlying *grpc.Server so the caller can attach it
// to a net.Listener.
func (b *GRPCBus) Server() *grpc.Server { return b.server }

// Register implements HandlerRegistry.
func (b *GRPCBus) Register(method string, h Handler) {
	b.fairness.mu.Lock()
	defer b.fairness.mu.Unlock()
	b.fairness.handlers[method] = h
}

// Cast implements Bus as a unary call whose reply and error are both
// discarded: it always returns nil, so a failed cast is never seen or
// logged by the caller — a dropped cast is tolerated per spec.md §5/§7.
func (b *GRPCBus) Cast(ctx context.Context, host, method, payload string) error {
	_, _ = b.Call(ctx, host, method, payload)
	return nil
}

// Call implements Bus.
func (b *GRPCBus) Call(ctx context.Context, host, method, payload string) (string, error) {
	conn, err := b.conn(host)
	if err != nil {
		return "", err
	}
	env := envelope{Version: ProtocolVersion, Method: method, Payload: payload}
	data, err := marshalEnvelope(env)
	if err != nil {
		return "", err
	}

	out := new(wrapperspb.StringValue)
	if err := conn.Invoke(ctx, "/"+serviceName+"/Dispatch", wrapperspb.String(data), out); err != nil {
		return "", fmt.Errorf("transport: grpc call to %q: %w", host, err)
	}
	return out.GetValue(), nil
}

func (b *GRPCBus) conn(host string) (*grpc.ClientConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[host]; ok {
		return c, nil
	}
	addr := b.addrOf(host)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("transport: dial %q (%s): %w", host, addr, err)
	}
	b.clients[host] = conn
	return conn, nil
}
