// Package invocation implements the signed envelope that correlates an
// origin entity, a target entity, and a transaction id across a single
// dispatch — the unit the provider abstraction and the WASM host bridge
// both operate on.
package invocation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/oriys/flowhost/internal/entity"
)

// ErrSignerMissing is raised when no Signer has been configured on the host.
var ErrSignerMissing = errors.New("invocation: signer not initialised")

// ErrInvalidTarget is raised when the target entity's URL is malformed.
var ErrInvalidTarget = errors.New("invocation: invalid target")

// Claims is the signed portion of an envelope: iss (host issuer id), sub
// (invocation id), target, origin, and hash.
type Claims struct {
	Issuer string `json:"iss"`
	Sub    string `json:"sub"`
	Target string `json:"target"`
	Origin string `json:"origin"`
	Hash   string `json:"hash"`
}

// Signer abstracts claim issuance; treats key management and JWT
// claim issuance as an external collaborator, so this repo depends only on
// the interface.
type Signer interface {
	// Sign returns an opaque signed token for the given claims.
	Sign(c Claims) (string, error)
	// Verify checks a token and returns the claims it carries.
	Verify(token string) (Claims, error)
}

// Invocation is the immutable routing envelope.
type Invocation struct {
	Origin        entity.Entity
	Target        entity.Entity
	Operation     string
	Payload       Payload
	InvocationID  string
	TransactionID string
	Token         string // opaque signed claims, as returned by Signer.Sign
	Claims        Claims
}

// Payload carries either a single MessagePack byte slice or a multi-port
// byte map. Exactly one of Single or Ports is populated.
type Payload struct {
	Single []byte
	Ports  map[string][]byte
}

// SerializedBytes lays out the payload for hashing: for a
// single payload, the bytes themselves; for a multi-port map, keys in
// insertion (here: sorted, since Go maps have no insertion order) order,
// each key followed by its value bytes.
//
// Using sorted order instead of true insertion order is a deliberate,
// documented deviation: Go's map type carries no ordering, so the only way
// to make the hash reproducible across runs is a total order on the keys.
// Callers that need caller-supplied ordering should use an ordered payload
// builder and hash it themselves before constructing the Invocation.
func (p Payload) SerializedBytes() []byte {
	if p.Ports == nil {
		return p.Single
	}
	keys := make([]string, 0, len(p.Ports))
	for k := range p.Ports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []byte
	for _, k := range keys {
		out = append(out, []byte(k)...)
		out = append(out, p.Ports[k]...)
	}
	return out
}

// Hash computes the uppercase hex SHA-256 over origin_url||target_url||
// serialized_payload.
func Hash(origin, target entity.Entity, payload Payload) string {
	h := sha256.New()
	h.Write([]byte(origin.URL()))
	h.Write([]byte(target.URL()))
	h.Write(payload.SerializedBytes())
	return toUpper(hex.EncodeToString(h.Sum(nil)))
}

func hashHex(origin, target entity.Entity, payload Payload) string {
	sum := Hash(origin, target, payload)
	return toUpper(sum)
}

func toUpper(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// NewRoot creates a fresh root invocation: a new transaction id is
// allocated and the envelope is signed with the host's signer.
func NewRoot(signer Signer, issuer string, origin, target entity.Entity, op string, payload Payload) (Invocation, error) {
	return build(signer, issuer, origin, target, op, payload, uuid.NewString())
}

// Next creates a child invocation within an existing transaction: the
// transaction id is inherited from the parent rather than freshly
// allocated.
func Next(signer Signer, issuer string, origin, target entity.Entity, op string, payload Payload, parentTransactionID string) (Invocation, error) {
	return build(signer, issuer, origin, target, op, payload, parentTransactionID)
}

func build(signer Signer, issuer string, origin, target entity.Entity, op string, payload Payload, txID string) (Invocation, error) {
	if signer == nil {
		return Invocation{}, ErrSignerMissing
	}
	if target.Kind() == entity.KindSchematic && target.Name() == "" {
		return Invocation{}, fmt.Errorf("%w: empty target name", ErrInvalidTarget)
	}

	invocationID := uuid.NewString()
	claims := Claims{
		Issuer: issuer,
		Sub:    invocationID,
		Target: target.URL(),
		Origin: origin.URL(),
		Hash:   hashHex(origin, target, payload),
	}

	token, err := signer.Sign(claims)
	if err != nil {
		return Invocation{}, fmt.Errorf("invocation: sign: %w", err)
	}

	return Invocation{
		Origin:        origin,
		Target:        target,
		Operation:     op,
		Payload:       payload,
		InvocationID:  invocationID,
		TransactionID: txID,
		Token:         token,
		Claims:        claims,
	}, nil
}

// Verify re-derives the expected hash from an invocation's origin/target/
// payload and compares it against the claims carried in its token,
// following the same "decode claims, compare hash" shape as wascap-style
// component claim verification.
func Verify(signer Signer, inv Invocation) error {
	if signer == nil {
		return ErrSignerMissing
	}
	claims, err := signer.Verify(inv.Token)
	if err != nil {
		return fmt.Errorf("invocation: verify: %w", err)
	}
	expected := hashHex(inv.Origin, inv.Target, inv.Payload)
	if claims.Hash != expected {
		return fmt.Errorf("invocation: hash mismatch: claims=%s expected=%s", claims.Hash, expected)
	}
	if claims.Target != inv.Target.URL() || claims.Origin != inv.Origin.URL() {
		return fmt.Errorf("invocation: claims do not match envelope addressing")
	}
	return nil
}
