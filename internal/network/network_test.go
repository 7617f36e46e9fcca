package network

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/provider/native"
	"github.com/oriys/flowhost/internal/schematic"
	"github.com/oriys/flowhost/internal/transaction"
)

func newTestNetwork(t *testing.T) (*Network, *native.Provider) {
	t.Helper()
	p := native.Fixtures()
	registry := provider.NewRegistry()
	registry.Register("native", p)

	signer := invocation.NewHMACSigner([]byte("test-secret"))
	cfg := transaction.Config{OutputBufferSize: 8, InheritParentDeadline: true}
	return New(registry, signer, "flowhost-test", cfg, nil), p
}

func echoSchematic() schematic.Def {
	return schematic.Def{
		Name: "echo_net",
		Instances: map[string]schematic.InstanceRef{
			"step": {Namespace: "native", Operation: "echo"},
		},
		Connections: []schematic.Connection{
			{UpstreamRef: schematic.InputRef, UpstreamPort: "input", DownstreamRef: "step", DownstreamPort: "input"},
			{UpstreamRef: "step", UpstreamPort: "output", DownstreamRef: schematic.OutputRef, DownstreamPort: "output"},
		},
	}
}

func drain(t *testing.T, ch <-chan packet.PortedPacket) []packet.PortedPacket {
	t.Helper()
	var got []packet.PortedPacket
	timeout := time.After(2 * time.Second)
	for {
		select {
		case pp, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, pp)
		case <-timeout:
			t.Fatal("timed out draining network request output")
		}
	}
}

func TestRegisterSchematicRejectsUnknownOperation(t *testing.T) {
	n, _ := newTestNetwork(t)
	def := schematic.Def{
		Name: "bad",
		Instances: map[string]schematic.InstanceRef{
			"step": {Namespace: "native", Operation: "does-not-exist"},
		},
	}
	problems := n.RegisterSchematic(def)
	assert.NotEmpty(t, problems)
	assert.Empty(t, n.ListSchematics())
}

func TestLoadManifestAggregatesFailures(t *testing.T) {
	n, _ := newTestNetwork(t)
	bad := schematic.Def{
		Name: "bad",
		Instances: map[string]schematic.InstanceRef{
			"step": {Namespace: "native", Operation: "does-not-exist"},
		},
	}
	err := n.LoadManifest(&schematic.Manifest{Schematics: []schematic.Def{echoSchematic(), bad}})
	require.Error(t, err)
	// The valid schematic in the same manifest still registers.
	assert.Contains(t, n.ListSchematics(), "echo_net")
}

func TestRequestRoundTrip(t *testing.T) {
	n, _ := newTestNetwork(t)
	require.Empty(t, n.RegisterSchematic(echoSchematic()))

	payload, err := msgpack.Marshal("hello")
	require.NoError(t, err)

	inv := invocation.Invocation{
		Origin:        entity.Component("cli::request"),
		Target:        entity.Schematic("echo_net"),
		TransactionID: uuid.NewString(),
		Payload:       invocation.Payload{Ports: map[string][]byte{"input": payload}},
	}

	out, err := n.Request(context.Background(), inv)
	require.NoError(t, err)
	packets := drain(t, out)

	require.Len(t, packets, 2)
	var got string
	require.NoError(t, msgpack.Unmarshal(packets[0].Packet.Bytes(), &got))
	assert.Equal(t, "hello", got)
	assert.True(t, packets[1].Packet.IsDone())
}

func TestRequestRejectsNonSchematicTarget(t *testing.T) {
	n, _ := newTestNetwork(t)
	inv := invocation.Invocation{
		Target:  entity.Component("native::echo"),
		Payload: invocation.Payload{Single: []byte("x")},
	}
	_, err := n.Request(context.Background(), inv)
	assert.Error(t, err)
}

func TestRequestUnknownSchematic(t *testing.T) {
	n, _ := newTestNetwork(t)
	inv := invocation.Invocation{
		Target:  entity.Schematic("nope"),
		Payload: invocation.Payload{Single: []byte("x")},
	}
	_, err := n.Request(context.Background(), inv)
	assert.Error(t, err)
}

func TestGetReferenceAndShutdownDrains(t *testing.T) {
	n, _ := newTestNetwork(t)
	require.Empty(t, n.RegisterSchematic(echoSchematic()))

	inv := invocation.Invocation{
		Target:        entity.Schematic("echo_net"),
		TransactionID: uuid.NewString(),
		Payload:       invocation.Payload{Single: mustMarshal(t, "hi")},
	}
	out, err := n.Request(context.Background(), inv)
	require.NoError(t, err)

	_, ok := n.GetReference(inv.TransactionID)
	assert.True(t, ok)

	drain(t, out)

	require.Eventually(t, func() bool {
		_, ok := n.GetReference(inv.TransactionID)
		return !ok
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, n.Shutdown(ctx))
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	require.NoError(t, err)
	return data
}
