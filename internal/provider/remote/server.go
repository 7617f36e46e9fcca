package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/logging"
	"github.com/oriys/flowhost/internal/observability"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

const (
	serviceName  = "flowhost.remote.Remote"
	invokeMethod = "/" + serviceName + "/Invoke"
	listMethod   = "/" + serviceName + "/List"
	statsMethod  = "/" + serviceName + "/Stats"
)

// invokeStreamDesc is shared by both server registration and the client's
// conn.NewStream call, so the two sides agree on streaming direction.
var invokeStreamDesc = grpc.StreamDesc{
	StreamName:    "Invoke",
	Handler:       invokeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// ServiceDesc registers the Remote service against a *grpc.Server. Streams
// carries the hand-wired Invoke RPC; List and Stats are plain unary calls
// dispatched through conn.Invoke rather than generated stubs, since both
// exchange a single raw frame each way.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: listHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{invokeStreamDesc},
	Metadata: "flowhost/remote.proto",
}

// Server exposes a local provider.Provider over gRPC, so another flowhost
// instance can reach it through provider/remote's Client.
type Server struct {
	target provider.Provider
	log    *slog.Logger
}

// NewServer wraps target for gRPC exposure.
func NewServer(target provider.Provider) *Server {
	return &Server{target: target, log: logging.Op()}
}

// Register attaches the Remote service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Serve blocks accepting connections on addr until gs.Stop/GracefulStop
// is called elsewhere or the listener errors.
func Serve(addr string, gs *grpc.Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remote: listen %s: %w", addr, err)
	}
	return gs.Serve(lis)
}

func invokeHandler(srv any, stream grpc.ServerStream) error {
	s, ok := srv.(*Server)
	if !ok {
		return fmt.Errorf("remote: invoke handler bound to unexpected type %T", srv)
	}
	return s.handleInvoke(stream)
}

func (s *Server) handleInvoke(stream grpc.ServerStream) error {
	var reqFrame frame
	if err := stream.RecvMsg(&reqFrame); err != nil {
		return fmt.Errorf("remote: receive request frame: %w", err)
	}
	var req wireRequest
	if err := msgpack.Unmarshal(reqFrame, &req); err != nil {
		return fmt.Errorf("remote: decode request frame: %w", err)
	}

	target, err := entity.Parse(req.Target)
	if err != nil {
		return fmt.Errorf("remote: parse target %q: %w", req.Target, err)
	}

	ctx := observability.InjectTraceContext(stream.Context(), req.Trace)
	ctx, span := observability.StartServerSpan(ctx, "remote invoke "+req.Operation,
		observability.AttrOperation.String(req.Operation),
	)
	defer span.End()

	out, err := s.target.Invoke(ctx, target, req.Operation, req.Payload)
	if err != nil {
		observability.SetSpanError(span, err)
		s.log.Error("remote invoke failed", "operation", req.Operation, "error", err)
		return fmt.Errorf("remote: invoke %q: %w", req.Operation, err)
	}

	for pp := range out.Packets {
		wp := packetToWire(pp.Port, pp.Packet)
		data, err := msgpack.Marshal(wp)
		if err != nil {
			return fmt.Errorf("remote: encode response frame: %w", err)
		}
		respFrame := frame(data)
		if err := stream.SendMsg(&respFrame); err != nil {
			return fmt.Errorf("remote: send response frame: %w", err)
		}
	}
	if out.Err != nil {
		if err := out.Err(); err != nil {
			observability.SetSpanError(span, err)
			return fmt.Errorf("remote: upstream stream error: %w", err)
		}
	}
	observability.SetSpanOK(span)
	return nil
}

type wireListResponse struct {
	Types []provider.HostedType `msgpack:"types"`
}

func listHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	s, ok := srv.(*Server)
	if !ok {
		return nil, fmt.Errorf("remote: list handler bound to unexpected type %T", srv)
	}
	var reqFrame frame
	if err := dec(&reqFrame); err != nil {
		return nil, err
	}
	types, err := s.target.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: list: %w", err)
	}
	data, err := msgpack.Marshal(wireListResponse{Types: types})
	if err != nil {
		return nil, fmt.Errorf("remote: encode list response: %w", err)
	}
	out := frame(data)
	return &out, nil
}

type wireStatsRequest struct {
	ID string `msgpack:"id"`
}

type wireStatsResponse struct {
	Invocations  int64   `msgpack:"invocations"`
	Errors       int64   `msgpack:"errors"`
	NumAverageMs float64 `msgpack:"num_average_ms"`
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	s, ok := srv.(*Server)
	if !ok {
		return nil, fmt.Errorf("remote: stats handler bound to unexpected type %T", srv)
	}
	var reqFrame frame
	if err := dec(&reqFrame); err != nil {
		return nil, err
	}
	var req wireStatsRequest
	if err := msgpack.Unmarshal(reqFrame, &req); err != nil {
		return nil, fmt.Errorf("remote: decode stats request: %w", err)
	}
	stats, err := s.target.Stats(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("remote: stats: %w", err)
	}
	data, err := msgpack.Marshal(wireStatsResponse{
		Invocations:  stats.Invocations,
		Errors:       stats.Errors,
		NumAverageMs: stats.NumAverageMs,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: encode stats response: %w", err)
	}
	out := frame(data)
	return &out, nil
}

func packetToWire(port string, p packet.Packet) wirePacket {
	return wirePacket{
		Port:    port,
		Kind:    int(p.Kind()),
		Bytes:   p.Bytes(),
		Message: p.Message(),
		Signal:  int(p.SignalTag()),
	}
}

func wireToPacket(w wirePacket) packet.Packet {
	switch packet.Kind(w.Kind) {
	case packet.KindSuccess:
		return packet.Success(w.Bytes)
	case packet.KindJSON:
		return packet.JSON(string(w.Bytes))
	case packet.KindError:
		return packet.Err(w.Message)
	case packet.KindException:
		return packet.Exception(w.Message)
	case packet.KindSignal:
		switch packet.Signal(w.Signal) {
		case packet.SignalOpenBracket:
			return packet.OpenBracket()
		case packet.SignalCloseBracket:
			return packet.CloseBracket()
		default:
			return packet.Done()
		}
	default:
		return packet.Invalid()
	}
}
