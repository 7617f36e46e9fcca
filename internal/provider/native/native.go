// Package native implements the in-process Native provider variant: a
// function table of Go closures, used both for illustrative "native
// component" operations and as the fixture backend for the end-to-end
// scenarios (S1-S6).
package native

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

// Func is a native operation: given a decoded input payload it produces
// zero or more output packets and a final completion. Implementations
// emit onto out and return nil for success, or return an error to abort
// the node before any packet is emitted (failure policy).
type Func func(ctx context.Context, in []byte, out chan<- packet.PortedPacket) error

// Operation bundles a Func with its declared port signature.
type Operation struct {
	Inputs  []string
	Outputs []string
	Run     Func
}

// Provider is a static table of named operations.
type Provider struct {
	mu    sync.RWMutex
	ops   map[string]Operation
	stats map[string]*counters
}

type counters struct {
	invocations int64
	errors      int64
}

// New builds a Provider with no operations registered.
func New() *Provider {
	return &Provider{ops: make(map[string]Operation), stats: make(map[string]*counters)}
}

// Register adds an operation to the table. Intended to be called only
// during provider construction, before the registry admits invocations.
func (p *Provider) Register(operation string, op Operation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops[operation] = op
	p.stats[operation] = &counters{}
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	p.mu.RLock()
	op, ok := p.ops[operation]
	st := p.stats[operation]
	p.mu.RUnlock()
	if !ok {
		return provider.Stream{}, fmt.Errorf("native: unknown operation %q", operation)
	}

	atomic.AddInt64(&st.invocations, 1)

	out := make(chan packet.PortedPacket, 8)
	var runErr error
	go func() {
		defer close(out)
		if err := op.Run(ctx, payload, out); err != nil {
			atomic.AddInt64(&st.errors, 1)
			runErr = err
			for _, o := range op.Outputs {
				out <- packet.PortedPacket{Port: o, Packet: packet.Err(err.Error())}
			}
		}
		for _, o := range op.Outputs {
			out <- packet.PortedPacket{Port: o, Packet: packet.Done()}
		}
	}()

	return provider.Stream{
		Packets: out,
		Err:     func() error { return runErr },
	}, nil
}

// List implements provider.Provider.
func (p *Provider) List(ctx context.Context) ([]provider.HostedType, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]provider.HostedType, 0, len(p.ops))
	for name, op := range p.ops {
		out = append(out, provider.HostedType{Operation: name, Inputs: op.Inputs, Outputs: op.Outputs})
	}
	return out, nil
}

// Stats implements provider.Provider.
func (p *Provider) Stats(ctx context.Context, id string) (provider.Stats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id == "" {
		var agg provider.Stats
		for _, c := range p.stats {
			agg.Invocations += atomic.LoadInt64(&c.invocations)
			agg.Errors += atomic.LoadInt64(&c.errors)
		}
		return agg, nil
	}
	c, ok := p.stats[id]
	if !ok {
		return provider.Stats{}, fmt.Errorf("native: unknown operation %q", id)
	}
	return provider.Stats{Invocations: atomic.LoadInt64(&c.invocations), Errors: atomic.LoadInt64(&c.errors)}, nil
}

// Fixtures registers the echo/reverse/upper operations used by the
// end-to-end S1-S6 scenarios.
func Fixtures() *Provider {
	p := New()
	p.Register("echo", Operation{
		Inputs: []string{"input"}, Outputs: []string{"output"},
		Run: stringOp(func(s string) string { return s }),
	})
	p.Register("reverse", Operation{
		Inputs: []string{"input"}, Outputs: []string{"output"},
		Run: stringOp(func(s string) string {
			runes := []rune(s)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes)
		}),
	})
	p.Register("upper", Operation{
		Inputs: []string{"input"}, Outputs: []string{"output"},
		Run: stringOp(strings.ToUpper),
	})
	return p
}

// stringOp adapts a pure string transform into a Func over MessagePack-
// encoded payloads, the shape every native fixture operation shares.
func stringOp(transform func(string) string) Func {
	return func(ctx context.Context, in []byte, out chan<- packet.PortedPacket) error {
		var s string
		if err := msgpack.Unmarshal(in, &s); err != nil {
			return fmt.Errorf("native: decode input: %w", err)
		}
		data, err := msgpack.Marshal(transform(s))
		if err != nil {
			return fmt.Errorf("native: encode output: %w", err)
		}
		out <- packet.PortedPacket{Port: "output", Packet: packet.Success(data)}
		return nil
	}
}
