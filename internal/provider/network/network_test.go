package network

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/packet"
)

type fakeNet struct {
	schematics []string
	packets    []packet.PortedPacket
	err        error
	lastInv    invocation.Invocation
}

func (f *fakeNet) Request(ctx context.Context, inv invocation.Invocation) (<-chan packet.PortedPacket, error) {
	f.lastInv = inv
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan packet.PortedPacket, len(f.packets))
	for _, p := range f.packets {
		out <- p
	}
	close(out)
	return out, nil
}

func (f *fakeNet) ListSchematics() []string { return f.schematics }

func TestInvokeForwardsToRequest(t *testing.T) {
	fn := &fakeNet{packets: []packet.PortedPacket{
		{Port: "output", Packet: packet.Success([]byte("x"))},
		{Port: "output", Packet: packet.Done()},
	}}
	p := New(fn)

	stream, err := p.Invoke(context.Background(), entity.Component("network::my_schematic"), "my_schematic", []byte("payload"))
	require.NoError(t, err)

	var got []packet.PortedPacket
	for pp := range stream.Packets {
		got = append(got, pp)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "my_schematic", fn.lastInv.Target.Name())
	assert.Equal(t, []byte("payload"), fn.lastInv.Payload.Single)
}

func TestInvokeWrapsRequestError(t *testing.T) {
	fn := &fakeNet{err: errors.New("boom")}
	p := New(fn)
	_, err := p.Invoke(context.Background(), entity.Component("network::x"), "x", nil)
	assert.Error(t, err)
}

func TestListMapsSchematicsToHostedTypes(t *testing.T) {
	fn := &fakeNet{schematics: []string{"a", "b"}}
	p := New(fn)
	types, err := p.List(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 2)
}
