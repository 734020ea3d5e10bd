package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"opmcpd/internal/domain"
	"opmcpd/internal/infra/discovery"
	"opmcpd/internal/infra/protocol"
	"opmcpd/internal/infra/telemetry"
)

// ServiceName is the fully qualified engine service.
const ServiceName = "opmcpd.v1.Engine"

// catalogPollInterval paces version checks on Watch streams.
const catalogPollInterval = 5 * time.Second

// WatchRequest selects the catalog window a Watch stream reports.
type WatchRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// WatchUpdate is one catalog observation. A new update is sent only
// when the snapshot version moves.
type WatchUpdate struct {
	Version uint64      `json:"version"`
	Page    domain.Page `json:"page"`
}

// Engine adapts the protocol server to the gRPC service surface.
type Engine struct {
	server    *protocol.Server
	discovery *discovery.System
	logger    *zap.Logger
}

type EngineOptions struct {
	Server    *protocol.Server
	Discovery *discovery.System
	Logger    *zap.Logger
}

func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		server:    opts.Server,
		discovery: opts.Discovery,
		logger:    logger.Named("rpc"),
	}
}

// Call serves one JSON-RPC request in a throwaway session.
func (e *Engine) Call(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	sess, err := e.server.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	defer e.server.CloseSession(context.Background(), sess)

	resp, ok := e.server.Handle(ctx, sess, *req)
	if !ok {
		// Notifications over unary still need a reply frame.
		resp, _ = domain.NewResponse(nil, struct{}{})
	}
	return &resp, nil
}

// Session serves a bidirectional stream of JSON-RPC messages sharing
// one session, so turn budgets and agents span the stream.
func (e *Engine) Session(stream grpc.ServerStream) error {
	ctx := stream.Context()
	sess, err := e.server.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer e.server.CloseSession(context.Background(), sess)

	e.logger.Info("rpc session opened",
		telemetry.TransportField("grpc"),
		telemetry.ContextIDField(sess.ContextID()))

	for {
		var req domain.Request
		if err := stream.RecvMsg(&req); err != nil {
			return nil
		}
		resp, ok := e.server.Handle(ctx, sess, req)
		if !ok {
			continue
		}
		if err := stream.SendMsg(&resp); err != nil {
			return err
		}
	}
}

// Watch streams catalog pages, one update per snapshot version.
func (e *Engine) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	var lastVersion uint64

	send := func() error {
		snapshot, err := e.discovery.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snapshot.Version == lastVersion {
			return nil
		}
		lastVersion = snapshot.Version
		return stream.SendMsg(&WatchUpdate{
			Version: snapshot.Version,
			Page:    snapshot.Page(req.Offset, req.Limit),
		})
	}

	if err := send(); err != nil {
		return err
	}
	ticker := time.NewTicker(catalogPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

// ServiceDesc registers the engine without generated stubs; the JSON
// codec carries the payloads.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*engineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Session", Handler: sessionHandler, ServerStreams: true, ClientStreams: true},
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "opmcpd/v1/engine",
}

// engineService pins the handler type in ServiceDesc.
type engineService interface {
	Call(ctx context.Context, req *domain.Request) (*domain.Response, error)
	Session(stream grpc.ServerStream) error
	Watch(req *WatchRequest, stream grpc.ServerStream) error
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(domain.Request)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(engineService).Call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(engineService).Call(ctx, req.(*domain.Request))
	}
	return interceptor(ctx, req, info, handler)
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(engineService).Session(stream)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(engineService).Watch(req, stream)
}
