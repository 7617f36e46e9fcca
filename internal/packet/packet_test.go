package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTryIntoRoundTrip(t *testing.T) {
	type payload struct {
		Name  string
		Count int
	}
	in := payload{Name: "hello", Count: 3}

	p, err := Encode("out", in)
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, p.Kind())

	out, err := TryInto[payload](p)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestTryIntoOnDoneYieldsPortClosed(t *testing.T) {
	_, err := TryInto[string](Done())
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestTryIntoOnErrorYieldsDecodeError(t *testing.T) {
	_, err := TryInto[string](Err("boom"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTryIntoOnExceptionYieldsDecodeError(t *testing.T) {
	_, err := TryInto[string](Exception("trapped"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestBracketTrackerBalanced(t *testing.T) {
	bt := &BracketTracker{}
	require.NoError(t, bt.Observe("p", OpenBracket()))
	require.NoError(t, bt.Observe("p", CloseBracket()))
	require.NoError(t, bt.Observe("p", Done()))
	assert.True(t, bt.Done())
	assert.Equal(t, 0, bt.Depth())
}

func TestBracketTrackerUnbalancedCloseIsFatal(t *testing.T) {
	bt := &BracketTracker{}
	err := bt.Observe("p", CloseBracket())
	var imbalance *BracketImbalance
	assert.True(t, errors.As(err, &imbalance))
}

func TestBracketTrackerDoneWithOpenBracketIsFatal(t *testing.T) {
	bt := &BracketTracker{}
	require.NoError(t, bt.Observe("p", OpenBracket()))
	err := bt.Observe("p", Done())
	var imbalance *BracketImbalance
	assert.True(t, errors.As(err, &imbalance))
}

func TestBracketTrackerDoubleCloseAfterDone(t *testing.T) {
	bt := &BracketTracker{}
	require.NoError(t, bt.Observe("p", Done()))
	err := bt.Observe("p", Success([]byte("x")))
	var dc *DoubleClose
	assert.True(t, errors.As(err, &dc))
}

func TestWireRoundTrip(t *testing.T) {
	enc, err := Encode("out", "abc")
	require.NoError(t, err)

	pp := PortedPacket{Port: "out", Packet: enc}
	wire := ToWire("inv-1", pp)
	assert.Equal(t, WireMessagePack, wire.Payload.Kind)

	back, err := FromWire(wire)
	require.NoError(t, err)
	out, err := TryInto[string](back.Packet)
	require.NoError(t, err)
	assert.Equal(t, "abc", out)
}

func TestWireSignalRoundTrip(t *testing.T) {
	pp := PortedPacket{Port: "out", Packet: Done()}
	wire := ToWire("inv-1", pp)
	assert.Equal(t, WireSignal, wire.Payload.Kind)
	assert.Equal(t, "Done", wire.Payload.Signal)

	back, err := FromWire(wire)
	require.NoError(t, err)
	assert.True(t, back.Packet.IsDone())
}
