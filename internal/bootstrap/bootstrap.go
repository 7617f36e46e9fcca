// Package bootstrap turns a loaded configuration and schematic manifest
// into a running set of providers: it walks every schematic's providers:
// section, constructs the backend each ProviderKind names, and registers
// it into a provider.Registry a Network can validate schematics against.
// This is the daemon-startup counterpart to internal/schematic's pure
// parsing -- it turns *config.Config and a parsed manifest into a live
// backend graph before handing it to network.New.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/flowhost/internal/config"
	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/provider/kv"
	"github.com/oriys/flowhost/internal/provider/native"
	"github.com/oriys/flowhost/internal/provider/remote"
	"github.com/oriys/flowhost/internal/provider/sql"
	"github.com/oriys/flowhost/internal/provider/wasm"
	"github.com/oriys/flowhost/internal/schematic"
)

// defaultInputs and defaultOutputs are the port signature applied to any
// backend this package constructs that does not itself declare a richer
// one (kv and sql providers declare their own fixed operations; wasm's
// operation set comes from the manifest, not from Go code, so it gets the
// same single input/output port pair every fixture operation uses).
var (
	defaultInputs  = []string{"input"}
	defaultOutputs = []string{"output"}
)

// Registered is the result of BuildRegistry: the populated registry plus
// everything that needs an orderly shutdown.
type Registered struct {
	Registry *provider.Registry
	closers  []func() error
}

// Close releases every resource BuildRegistry opened (WASM runtimes, gRPC
// client connections, KV clients), in construction order. A SQL pool from
// BuildSQLProvider is released through the closer that function returns.
func (r *Registered) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildRegistry constructs and registers one provider per distinct
// namespace referenced across manifest.Schematics' providers: sections.
// A namespace bound in more than one schematic is constructed once. A
// Wasm provider's guest __link_call resolves directly against reg itself
// (linkCall below), rather than through a Network, since a link call is a
// single request/response against another provider's operation, not a
// whole schematic invocation -- and reg is already fully populated by the
// time any real Invoke runs, even though it is still being built while
// this loop constructs later providers.
func BuildRegistry(ctx context.Context, cfg *config.Config, manifest *schematic.Manifest) (*Registered, error) {
	reg := provider.NewRegistry()
	result := &Registered{Registry: reg}
	seen := make(map[string]bool)

	for _, def := range manifest.Schematics {
		for _, ref := range def.Providers {
			if seen[ref.Namespace] {
				continue
			}
			seen[ref.Namespace] = true

			switch ref.Kind {
			case schematic.ProviderNative:
				reg.Register(ref.Namespace, native.Fixtures())

			case schematic.ProviderWasm:
				p, err := wasm.New(ctx, wasm.Config{
					ModulePath:     ref.Reference,
					DefaultTimeout: cfg.Wasm.DefaultTimeout,
				}, linkCall(reg))
				if err != nil {
					result.Close()
					return nil, fmt.Errorf("bootstrap: wasm provider %q: %w", ref.Namespace, err)
				}
				for _, op := range operationsFor(manifest, ref.Namespace) {
					p.Register(op, wasm.Signature{Inputs: defaultInputs, Outputs: defaultOutputs})
				}
				result.closers = append(result.closers, func() error { return p.Close(ctx) })
				reg.Register(ref.Namespace, p)

			case schematic.ProviderGrpcURL:
				client, err := remote.Dial(ref.Reference)
				if err != nil {
					result.Close()
					return nil, fmt.Errorf("bootstrap: dial remote provider %q at %s: %w", ref.Namespace, ref.Reference, err)
				}
				result.closers = append(result.closers, client.Close)
				reg.Register(ref.Namespace, client)

			case schematic.ProviderLattice:
				p := kv.New(kv.Config{Addr: ref.Reference})
				result.closers = append(result.closers, p.Close)
				reg.Register(ref.Namespace, p)

			case schematic.ProviderNetwork:
				// A nested-network reference would forward into the very
				// Network being assembled around this registry, so no
				// provider is constructed for it here. cmd/flowhostd does
				// not register one either: a schematic whose instances use
				// a Network-kind namespace fails validation with "no
				// provider registered for namespace".

			default:
				result.Close()
				return nil, fmt.Errorf("bootstrap: schematic %q: unknown provider kind %q for namespace %q", def.Name, ref.Kind, ref.Namespace)
			}
		}
	}

	return result, nil
}

// BuildSQLProvider wires a Postgres pool into the sql provider. Split out
// from BuildRegistry because dsn-bearing providers have no ProviderKind
// of their own (sql.query is modeled as a fixture-style operation rather
// than its own kind) -- a caller that wants one calls this explicitly and
// registers the namespace itself.
func BuildSQLProvider(ctx context.Context, dsn string) (*sql.Provider, func() error, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: connect sql provider: %w", err)
	}
	p := sql.New(pool)
	return p, func() error { pool.Close(); return nil }, nil
}

// operationsFor collects every operation name any instance in manifest
// binds to namespace, across every schematic -- the only place a Wasm
// provider's operation set is recorded, since a compiled guest module
// carries no signature metadata of its own.
func operationsFor(manifest *schematic.Manifest, namespace string) []string {
	seen := make(map[string]bool)
	var ops []string
	for _, def := range manifest.Schematics {
		for _, inst := range def.Instances {
			if inst.Namespace != namespace || seen[inst.Operation] {
				continue
			}
			seen[inst.Operation] = true
			ops = append(ops, inst.Operation)
		}
	}
	return ops
}

// linkCall builds a wasmbridge.HostLinkFunc that resolves a guest's
// __link_call directly against reg: target is a "namespace::operation"
// qualified component reference, the same convention
// transaction/engine.go's dispatchOne builds for every dispatch. reg.Get
// finds the provider hosting that namespace, and the first packet its
// Invoke stream emits is returned synchronously -- a link call is a
// single request/response within a guest operation, not a streamed
// sub-invocation.
func linkCall(reg *provider.Registry) func(origin, target string, payload []byte) ([]byte, error) {
	return func(origin, target string, payload []byte) ([]byte, error) {
		namespace, operation, ok := strings.Cut(target, "::")
		if !ok {
			return nil, fmt.Errorf("bootstrap: link call target %q: expected \"namespace::operation\"", target)
		}

		p, ok := reg.Get(namespace)
		if !ok {
			return nil, fmt.Errorf("bootstrap: link call %q: no provider registered for namespace %q", target, namespace)
		}

		stream, err := p.Invoke(context.Background(), entity.Component(target), operation, payload)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: link call %q: %w", target, err)
		}
		for pp := range stream.Packets {
			switch pp.Packet.Kind() {
			case packet.KindSuccess, packet.KindJSON:
				return pp.Packet.Bytes(), nil
			default:
				if msg := pp.Packet.Message(); msg != "" {
					return nil, fmt.Errorf("bootstrap: link call %q: %s", target, msg)
				}
			}
		}
		if stream.Err != nil {
			if err := stream.Err(); err != nil {
				return nil, fmt.Errorf("bootstrap: link call %q: %w", target, err)
			}
		}
		return nil, nil
	}
}
