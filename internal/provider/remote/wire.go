// Package remote implements the gRPC Remote provider variant: every
// Invoke call is forwarded over a bidirectional-streaming RPC to a
// component host running elsewhere, with packets arriving back as an
// in-band stream rather than a single response (ProviderKind
// "GrpcUrl"). The service is hand-wired against google.golang.org/grpc's
// stable ServiceDesc/StreamDesc API rather than protoc-generated stubs,
// so the wire message is the packet stream's own MessagePack bytes
// instead of a fixed protobuf schema — the same raw-bytes-over-gRPC
// technique streaming proxies use when the payload shape is a detail of
// the application protocol, not the transport.
package remote

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/oriys/flowhost/internal/observability"
)

const codecName = "flowhost-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// frame is the gRPC message type exchanged on the Invoke stream: opaque
// bytes, MessagePack-encoded by the caller/callee, passed through
// untouched by the codec.
type frame []byte

// rawCodec is a passthrough encoding.Codec: it does no (de)serialisation
// of its own, since every frame on the wire is already a complete
// MessagePack document produced by msgpack.Marshal of a wire* struct
// (wireRequest, wirePacket, ...).
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*frame)
	if !ok {
		return nil, fmt.Errorf("remote: codec cannot marshal %T", v)
	}
	return []byte(*f), nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*frame)
	if !ok {
		return fmt.Errorf("remote: codec cannot unmarshal into %T", v)
	}
	*f = append((*f)[:0], data...)
	return nil
}

// wireRequest is the single frame a client sends to open an invocation.
// Trace carries the caller's W3C trace context across the RPC hop, since
// there is no HTTP header map on this transport to ride along in.
type wireRequest struct {
	Target    string                     `msgpack:"target"`
	Operation string                     `msgpack:"operation"`
	Payload   []byte                     `msgpack:"payload"`
	Trace     observability.TraceContext `msgpack:"trace"`
}

// wirePacket is one frame of the server's response stream: a port name
// plus enough of a packet.Packet's shape to reconstruct it losslessly.
type wirePacket struct {
	Port    string `msgpack:"port"`
	Kind    int    `msgpack:"kind"`
	Bytes   []byte `msgpack:"bytes"`
	Message string `msgpack:"message"`
	Signal  int    `msgpack:"signal"`
}
