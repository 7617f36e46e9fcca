// Package network exposes a running host Network as a Provider, so one
// schematic can invoke another by name through an ordinary instance
// reference — the nested-composition provider kind (ProviderKind
// "Network").
package network

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

// Requester is the subset of *network.Network a Provider needs: request a
// schematic by name and list what is registered. Kept as an interface
// (rather than importing internal/network directly) to avoid a dependency
// cycle, since internal/network in turn depends on internal/provider for
// its own registry type.
type Requester interface {
	Request(ctx context.Context, inv invocation.Invocation) (<-chan packet.PortedPacket, error)
	ListSchematics() []string
}

// Provider forwards Invoke calls into a running Network's Request, so a
// schematic instance can target another schematic the same way it targets
// any other operation.
type Provider struct {
	net         Requester
	invocations atomic.Int64
	errors      atomic.Int64
}

// New builds a Provider bound to net.
func New(net Requester) *Provider {
	return &Provider{net: net}
}

// Invoke implements provider.Provider: operation names the schematic to
// run; target is ignored (a schematic has exactly one entry point, its
// declared input ports), matching the origin provider's own
// `RpcHandler::request` contract.
func (p *Provider) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	p.invocations.Add(1)

	inv := invocation.Invocation{
		Origin:        entity.Schematic("<system>"),
		Target:        entity.Schematic(operation),
		Operation:     operation,
		InvocationID:  uuid.NewString(),
		TransactionID: uuid.NewString(),
		Payload:       invocation.Payload{Single: payload},
	}

	out, err := p.net.Request(ctx, inv)
	if err != nil {
		p.errors.Add(1)
		return provider.Stream{}, fmt.Errorf("network provider: request %q: %w", operation, err)
	}
	return provider.Stream{Packets: out}, nil
}

// List implements provider.Provider: every registered schematic is a
// hosted "operation", with the conventional single input/output port pair
// a root invocation uses.
func (p *Provider) List(ctx context.Context) ([]provider.HostedType, error) {
	names := p.net.ListSchematics()
	out := make([]provider.HostedType, 0, len(names))
	for _, name := range names {
		out = append(out, provider.HostedType{Operation: name, Inputs: []string{"input"}, Outputs: []string{"output"}})
	}
	return out, nil
}

// Stats implements provider.Provider.
func (p *Provider) Stats(ctx context.Context, id string) (provider.Stats, error) {
	return provider.Stats{Invocations: p.invocations.Load(), Errors: p.errors.Load()}, nil
}
