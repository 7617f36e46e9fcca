// Package provider defines the uniform contract every execution backend
// implements — native in-process, WASM guest, gRPC remote, KV, SQL, or a
// nested schematic exposed as a provider — and a registry that resolves
// instances to providers at dispatch time.
package provider

import (
	"context"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
)

// HostedType is one signature enumerated by Provider.List: a qualified
// operation name plus its resolved port signature.
type HostedType struct {
	Operation string
	Inputs    []string
	Outputs   []string
}

// Stats are per-operation or aggregate execution counters.
type Stats struct {
	Invocations int64
	Errors      int64
	// NumAverageMs is the mean invocation duration in milliseconds.
	NumAverageMs float64
}

// Stream is the cold, lazy packet stream a provider invocation opens.
// Implementations read PortedPacket values from Packets until it is
// closed; a non-nil Err after the channel closes reports a mid-stream
// failure not otherwise surfaced as an in-band Error packet.
type Stream struct {
	Packets <-chan packet.PortedPacket
	Err     func() error
}

// Provider is the capability interface every backend implements: a
// closed variant over native, WASM, gRPC, KV, and SQL backends, unified
// behind one capability interface.
type Provider interface {
	// Invoke returns a cold lazy stream of PortedPacket. Failure before
	// the stream opens is reported synchronously via the returned error;
	// failures mid-stream are in-band as Error packets on the relevant
	// port. The stream MUST terminate with Done on every declared output
	// port.
	Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (Stream, error)
	// List enumerates signatures; stable between calls.
	List(ctx context.Context) ([]HostedType, error)
	// Stats returns per-operation (id != "") or aggregate (id == "")
	// counters.
	Stats(ctx context.Context, id string) (Stats, error)
}

// Registry is the read-mostly set of providers registered at network
// startup, keyed by the namespace a schematic's `providers:` section
// references. Writes only happen at startup/shutdown; the common read
// path (resolving a namespace at dispatch time) takes no lock contention
// with another read.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register binds a namespace to a provider. Intended to be called only
// during network startup, before any transaction is admitted.
func (r *Registry) Register(namespace string, p Provider) {
	r.providers[namespace] = p
}

// Get resolves a namespace to its provider.
func (r *Registry) Get(namespace string) (Provider, bool) {
	p, ok := r.providers[namespace]
	return p, ok
}

// Namespaces lists every registered namespace, for list_schematics()-style
// introspection.
func (r *Registry) Namespaces() []string {
	out := make([]string, 0, len(r.providers))
	for ns := range r.providers {
		out = append(out, ns)
	}
	return out
}
