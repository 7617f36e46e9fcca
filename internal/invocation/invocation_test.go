package invocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/flowhost/internal/entity"
)

func TestHashDeterminism(t *testing.T) {
	origin := entity.Schematic("caller")
	target := entity.Component("native::echo")
	payload := Payload{Single: []byte(`"hello"`)}

	h1 := Hash(origin, target, payload)
	h2 := Hash(origin, target, payload)
	assert.Equal(t, h1, h2)
}

func TestHashMultiPortOrderingStable(t *testing.T) {
	origin := entity.Schematic("caller")
	target := entity.Component("native::merge")
	p1 := Payload{Ports: map[string][]byte{"a": []byte("1"), "b": []byte("2")}}
	p2 := Payload{Ports: map[string][]byte{"b": []byte("2"), "a": []byte("1")}}
	assert.Equal(t, Hash(origin, target, p1), Hash(origin, target, p2))
}

func TestNewRootSignsAndVerifies(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"))
	origin := entity.Schematic("root")
	target := entity.Component("native::echo")

	inv, err := NewRoot(signer, "host-1", origin, target, "echo", Payload{Single: []byte("x")})
	require.NoError(t, err)
	assert.NotEmpty(t, inv.TransactionID)
	assert.NotEmpty(t, inv.InvocationID)

	require.NoError(t, Verify(signer, inv))
}

func TestNextInheritsParentTransaction(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"))
	origin := entity.Schematic("root")
	target := entity.Component("native::echo")
	root, err := NewRoot(signer, "host-1", origin, target, "echo", Payload{Single: []byte("x")})
	require.NoError(t, err)

	child, err := Next(signer, "host-1", target, entity.Component("native::upper"), "upper", Payload{Single: []byte("y")}, root.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, root.TransactionID, child.TransactionID)
	assert.NotEqual(t, root.InvocationID, child.InvocationID)
}

func TestSignerMissingWithoutSigner(t *testing.T) {
	origin := entity.Schematic("root")
	target := entity.Component("native::echo")
	_, err := NewRoot(nil, "host-1", origin, target, "echo", Payload{Single: []byte("x")})
	assert.ErrorIs(t, err, ErrSignerMissing)
}

func TestVerifyRejectsTamperedClaims(t *testing.T) {
	signer := NewHMACSigner([]byte("test-secret"))
	origin := entity.Schematic("root")
	target := entity.Component("native::echo")
	inv, err := NewRoot(signer, "host-1", origin, target, "echo", Payload{Single: []byte("x")})
	require.NoError(t, err)

	inv.Payload = Payload{Single: []byte("tampered")}
	assert.Error(t, Verify(signer, inv))
}
