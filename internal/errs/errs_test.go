package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/flowhost/internal/packet"
)

func TestToPacketProjectsProviderError(t *testing.T) {
	err := NewProvider(CodeTimeout, "deadline exceeded")
	p := ToPacket(err)
	assert.Equal(t, packet.KindError, p.Kind())
	assert.Contains(t, p.Message(), "Timeout")
}

func TestToPacketProjectsWasmTrapAsException(t *testing.T) {
	err := NewProvider(CodeWasmTrap, "guest panicked")
	p := ToPacket(err)
	assert.Equal(t, packet.KindException, p.Kind())
}

func TestInitializationErrorAggregates(t *testing.T) {
	collected := []*Error{
		NewValidation(CodeSchematicNotFound, "missing"),
		NewValidation(CodeInvalidModel, "cycle detected"),
	}
	err := NewInitializationError(collected)
	require.Error(t, err)

	var agg *InitializationError
	require.True(t, errors.As(err, &agg))
	assert.Len(t, agg.Errors, 2)
}

func TestInitializationErrorNilWhenEmpty(t *testing.T) {
	assert.Nil(t, NewInitializationError(nil))
}

func TestFatalClassification(t *testing.T) {
	assert.True(t, NewInternal("I-1", "bug").Fatal())
	assert.True(t, NewValidation(CodeInvalidModel, "bad").Fatal())
	assert.True(t, NewTransport(CodeDoubleClose, "closed", nil).Fatal())
	assert.False(t, NewProvider(CodeTimeout, "slow").Fatal())
	assert.False(t, NewSignature(CodeTypeMismatch, "bad type").Fatal())
}
