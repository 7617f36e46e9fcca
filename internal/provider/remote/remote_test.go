package remote

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/provider/native"
)

// startServer spins up a real loopback gRPC server fronting a native
// provider fixture table, returning a connected Client and a shutdown func.
func startServer(t *testing.T) (*Client, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	gs := grpc.NewServer()
	NewServer(native.Fixtures()).Register(gs)
	go gs.Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client := NewClient(conn)

	return client, func() {
		conn.Close()
		gs.Stop()
		lis.Close()
	}
}

func drainRemote(t *testing.T, stream <-chan packet.PortedPacket) []packet.PortedPacket {
	t.Helper()
	var got []packet.PortedPacket
	timeout := time.After(2 * time.Second)
	for {
		select {
		case pp, ok := <-stream:
			if !ok {
				return got
			}
			got = append(got, pp)
		case <-timeout:
			t.Fatal("timed out draining remote stream")
		}
	}
}

func TestClientInvokeRoundTrip(t *testing.T) {
	client, stop := startServer(t)
	defer stop()

	in, err := msgpack.Marshal("hello")
	require.NoError(t, err)

	stream, err := client.Invoke(context.Background(), entity.Component("native::echo"), "echo", in)
	require.NoError(t, err)
	packets := drainRemote(t, stream.Packets)

	require.Len(t, packets, 2)
	var got string
	require.NoError(t, msgpack.Unmarshal(packets[0].Packet.Bytes(), &got))
	assert.Equal(t, "hello", got)
	assert.True(t, packets[1].Packet.IsDone())
	if stream.Err != nil {
		assert.NoError(t, stream.Err())
	}
}

func TestClientListAndStats(t *testing.T) {
	client, stop := startServer(t)
	defer stop()

	types, err := client.List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, types)

	_, err = client.Stats(context.Background(), "")
	require.NoError(t, err)
}

func TestClientInvokeUnknownOperation(t *testing.T) {
	client, stop := startServer(t)
	defer stop()

	stream, err := client.Invoke(context.Background(), entity.Component("native::nope"), "nope", nil)
	require.NoError(t, err, "the failure surfaces as a stream error, not a synchronous one")

	packets := drainRemote(t, stream.Packets)
	assert.Empty(t, packets)
	require.NotNil(t, stream.Err)
	assert.Error(t, stream.Err())
}

var _ provider.Provider = (*Client)(nil)
