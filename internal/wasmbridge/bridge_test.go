package wasmbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputThenDoneBuffersAndSeals(t *testing.T) {
	b := New(nil)
	b.Tx.Register(7)

	require.NoError(t, b.OutputHandler("output", string(SignalOutput), Frame(7, []byte("a"))))
	require.NoError(t, b.OutputHandler("output", string(SignalDone), Frame(7, nil)))

	packets, err := b.Tx.Drain(7)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, "output", packets[0].Port)
	assert.Equal(t, []byte("a"), packets[0].Packet.Bytes())
	assert.True(t, packets[1].Packet.IsDone())
}

func TestOutputDoneClosesPortInOneCall(t *testing.T) {
	b := New(nil)
	b.Tx.Register(1)

	require.NoError(t, b.OutputHandler("result", string(SignalOutputDone), Frame(1, []byte("x"))))
	packets, err := b.Tx.Drain(1)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.True(t, packets[1].Packet.IsDone())

	err = b.OutputHandler("result", string(SignalOutput), Frame(1, []byte("y")))
	assert.Error(t, err, "further output on a closed port must be rejected")
}

func TestOutputUnknownTransactionRejected(t *testing.T) {
	b := New(nil)
	err := b.OutputHandler("output", string(SignalOutput), Frame(99, []byte("x")))
	assert.Error(t, err)
}

func TestLinkHandlerWithoutCallback(t *testing.T) {
	b := New(nil)
	_, err := b.LinkHandler("schematic://a", "component://b", []byte("payload"))
	assert.Error(t, err)
}

func TestLinkHandlerDelegates(t *testing.T) {
	b := New(func(origin, target string, payload []byte) ([]byte, error) {
		return append([]byte(origin+"->"+target+":"), payload...), nil
	})
	out, err := b.LinkHandler("o", "t", []byte("p"))
	require.NoError(t, err)
	assert.Equal(t, "o->t:p", string(out))
}

func TestLogHandlerRejectsInvalidLevel(t *testing.T) {
	b := New(nil)
	err := b.LogHandler("not-a-level", "hi")
	assert.Error(t, err)
}

func TestLogHandlerAcceptsEveryLevel(t *testing.T) {
	b := New(nil)
	for _, lvl := range []LogLevel{LogInfo, LogWarn, LogError, LogDebug, LogTrace, LogMark} {
		assert.NoError(t, b.LogHandler(string(lvl), "msg"))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	framed := Frame(42, []byte("hello"))
	id, payload, err := unframe(framed)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)
	assert.Equal(t, []byte("hello"), payload)
}
