package native

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
)

func drain(t *testing.T, stream <-chan packet.PortedPacket) []packet.PortedPacket {
	t.Helper()
	var got []packet.PortedPacket
	timeout := time.After(time.Second)
	for {
		select {
		case pp, ok := <-stream:
			if !ok {
				return got
			}
			got = append(got, pp)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestEchoFixture(t *testing.T) {
	p := Fixtures()
	in, err := msgpack.Marshal("hello")
	require.NoError(t, err)

	stream, err := p.Invoke(context.Background(), entity.Component("native::echo"), "echo", in)
	require.NoError(t, err)

	packets := drain(t, stream.Packets)
	require.Len(t, packets, 2)
	var out string
	require.NoError(t, msgpack.Unmarshal(packets[0].Packet.Bytes(), &out))
	assert.Equal(t, "hello", out)
	assert.True(t, packets[1].Packet.IsDone())
}

func TestReverseThenUpperPipeline(t *testing.T) {
	p := Fixtures()
	in, err := msgpack.Marshal("abc")
	require.NoError(t, err)

	reversed, err := p.Invoke(context.Background(), entity.Component("native::reverse"), "reverse", in)
	require.NoError(t, err)
	rp := drain(t, reversed.Packets)
	require.Len(t, rp, 2)

	upper, err := p.Invoke(context.Background(), entity.Component("native::upper"), "upper", rp[0].Packet.Bytes())
	require.NoError(t, err)
	up := drain(t, upper.Packets)

	var out string
	require.NoError(t, msgpack.Unmarshal(up[0].Packet.Bytes(), &out))
	assert.Equal(t, "CBA", out)
}

func TestListIsStable(t *testing.T) {
	p := Fixtures()
	a, err := p.List(context.Background())
	require.NoError(t, err)
	b, err := p.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, a, b)
}

func TestStatsAggregatesInvocations(t *testing.T) {
	p := Fixtures()
	in, _ := msgpack.Marshal("x")
	stream, err := p.Invoke(context.Background(), entity.Component("native::echo"), "echo", in)
	require.NoError(t, err)
	drain(t, stream.Packets)

	st, err := p.Stats(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Invocations)
}
