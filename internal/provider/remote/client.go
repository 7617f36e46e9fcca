package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/observability"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

// Client is a provider.Provider that forwards every call to a Remote
// service over gRPC, using the raw MessagePack framing rawCodec carries.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens an insecure gRPC connection to addr and wraps it as a Client.
// Production deployments are expected to pass grpc.WithTransportCredentials
// with real TLS material via opts; insecure.NewCredentials() is only the
// default when none is supplied.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an already-established connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

// Invoke implements provider.Provider by opening the Invoke stream,
// sending one request frame, and translating every response frame back
// into a packet.PortedPacket.
func (c *Client) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	stream, err := c.conn.NewStream(ctx, &invokeStreamDesc, invokeMethod, callOpts()...)
	if err != nil {
		return provider.Stream{}, fmt.Errorf("remote: open invoke stream: %w", err)
	}

	reqData, err := msgpack.Marshal(wireRequest{
		Target:    target.URL(),
		Operation: operation,
		Payload:   payload,
		Trace:     observability.ExtractTraceContext(ctx),
	})
	if err != nil {
		return provider.Stream{}, fmt.Errorf("remote: encode request frame: %w", err)
	}
	reqFrame := frame(reqData)
	if err := stream.SendMsg(&reqFrame); err != nil {
		return provider.Stream{}, fmt.Errorf("remote: send request frame: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return provider.Stream{}, fmt.Errorf("remote: close send: %w", err)
	}

	out := make(chan packet.PortedPacket, 4)
	var streamErr error
	go func() {
		defer close(out)
		for {
			var respFrame frame
			if err := stream.RecvMsg(&respFrame); err != nil {
				if err != io.EOF {
					streamErr = fmt.Errorf("remote: recv response frame: %w", err)
				}
				return
			}
			var wp wirePacket
			if err := msgpack.Unmarshal(respFrame, &wp); err != nil {
				streamErr = fmt.Errorf("remote: decode response frame: %w", err)
				return
			}
			out <- packet.PortedPacket{Port: wp.Port, Packet: wireToPacket(wp)}
		}
	}()

	return provider.Stream{
		Packets: out,
		Err:     func() error { return streamErr },
	}, nil
}

// List implements provider.Provider via the List unary RPC.
func (c *Client) List(ctx context.Context) ([]provider.HostedType, error) {
	reqFrame := frame(nil)
	var respFrame frame
	if err := c.conn.Invoke(ctx, listMethod, &reqFrame, &respFrame, callOpts()...); err != nil {
		return nil, fmt.Errorf("remote: list: %w", err)
	}
	var resp wireListResponse
	if err := msgpack.Unmarshal(respFrame, &resp); err != nil {
		return nil, fmt.Errorf("remote: decode list response: %w", err)
	}
	return resp.Types, nil
}

// Stats implements provider.Provider via the Stats unary RPC.
func (c *Client) Stats(ctx context.Context, id string) (provider.Stats, error) {
	reqData, err := msgpack.Marshal(wireStatsRequest{ID: id})
	if err != nil {
		return provider.Stats{}, fmt.Errorf("remote: encode stats request: %w", err)
	}
	reqFrame := frame(reqData)
	var respFrame frame
	if err := c.conn.Invoke(ctx, statsMethod, &reqFrame, &respFrame, callOpts()...); err != nil {
		return provider.Stats{}, fmt.Errorf("remote: stats: %w", err)
	}
	var resp wireStatsResponse
	if err := msgpack.Unmarshal(respFrame, &resp); err != nil {
		return provider.Stats{}, fmt.Errorf("remote: decode stats response: %w", err)
	}
	return provider.Stats{
		Invocations:  resp.Invocations,
		Errors:       resp.Errors,
		NumAverageMs: resp.NumAverageMs,
	}, nil
}
