// Package wasm implements the WASM provider variant: a guest component
// compiled to WebAssembly, executed in-process by wazero, reached through
// the same Log/Link/Output host bridge internal/wasmbridge implements;
// this package owns the guest runtime and the wazero-specific memory
// marshalling around it.
//
// A guest module exports one WASM function per operation name, plus
// `alloc`/`dealloc` for the host to place request bytes in guest linear
// memory. The host imports three functions under the "env" module --
// __log, __link_call, __output -- bound to a wasmbridge.Bridge, mirroring
// the callback shape the original vino-provider-wasm crate delegates to
// its WaPC guest/host call convention (grounded on
// vino-provider-wasm/src/callbacks.rs in original_source; reimplemented
// directly against wazero since no Go WaPC runtime is present in the
// corpus).
package wasm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/wasmbridge"
)

// Config selects the guest module and per-invocation budget.
type Config struct {
	ModulePath     string
	DefaultTimeout time.Duration
}

// Signature declares a guest-exported operation's port names, since a
// compiled WASM module carries no signature metadata of its own --
// schematic validation needs Inputs/Outputs up front, the same reason
// native.Provider.Register takes them explicitly.
type Signature struct {
	Inputs  []string
	Outputs []string
}

// Provider runs one guest module, dispatching each registered operation
// to the guest export of the same name.
type Provider struct {
	cfg     Config
	runtime wazero.Runtime
	module  wazero.CompiledModule
	bridge  *wasmbridge.Bridge

	mu    sync.RWMutex
	ops   map[string]Signature
	stats map[string]*counters

	nextTxID atomic.Uint32
}

type counters struct {
	invocations atomic.Int64
	errors      atomic.Int64
}

// New compiles cfg.ModulePath and prepares a runtime ready for Invoke.
// link wires the guest's Link callback back into the network (typically
// a sub-invocation dispatcher); it may be nil if the guest never calls
// __link_call.
func New(ctx context.Context, cfg Config, link wasmbridge.HostLinkFunc) (*Provider, error) {
	code, err := os.ReadFile(cfg.ModulePath)
	if err != nil {
		return nil, fmt.Errorf("wasm: read module %s: %w", cfg.ModulePath, err)
	}

	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasm: instantiate WASI: %w", err)
	}

	p := &Provider{
		cfg:     cfg,
		runtime: runtime,
		bridge:  wasmbridge.New(link),
		ops:     make(map[string]Signature),
		stats:   make(map[string]*counters),
	}

	if _, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(p.hostLog).Export("__log").
		NewFunctionBuilder().WithFunc(p.hostLinkCall).Export("__link_call").
		NewFunctionBuilder().WithFunc(p.hostOutput).Export("__output").
		Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasm: build host module: %w", err)
	}

	module, err := runtime.CompileModule(ctx, code)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasm: compile module: %w", err)
	}
	p.module = module

	return p, nil
}

// Close releases the guest runtime and every instance it owns.
func (p *Provider) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Register declares operation as backed by the guest export of the same
// name, with the given port signature.
func (p *Provider) Register(operation string, sig Signature) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops[operation] = sig
	p.stats[operation] = &counters{}
}

func readString(mod api.Module, ptr, size uint32) string {
	buf, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return ""
	}
	return string(buf)
}

// hostLog implements the guest's __log(levelPtr, levelLen, msgPtr, msgLen)
// import.
func (p *Provider) hostLog(ctx context.Context, mod api.Module, levelPtr, levelLen, msgPtr, msgLen uint32) {
	level := readString(mod, levelPtr, levelLen)
	msg := readString(mod, msgPtr, msgLen)
	_ = p.bridge.LogHandler(level, msg)
}

// hostLinkCall implements the guest's __link_call(originPtr, originLen,
// targetPtr, targetLen, payloadPtr, payloadLen) import. The response is
// placed in guest memory via the guest's exported alloc, and the packed
// (ptr<<32|len) pair is returned so the guest can read it back without a
// second host round trip.
func (p *Provider) hostLinkCall(ctx context.Context, mod api.Module, originPtr, originLen, targetPtr, targetLen, payloadPtr, payloadLen uint32) uint64 {
	origin := readString(mod, originPtr, originLen)
	target := readString(mod, targetPtr, targetLen)
	payload, ok := mod.Memory().Read(payloadPtr, payloadLen)
	if !ok {
		payload = nil
	}

	resp, err := p.bridge.LinkHandler(origin, target, payload)
	if err != nil {
		resp = []byte(err.Error())
	}
	respPtr, wrote := writeIntoGuest(ctx, mod, resp)
	if !wrote {
		return 0
	}
	return uint64(respPtr)<<32 | uint64(len(resp))
}

// hostOutput implements the guest's __output(portPtr, portLen, signalPtr,
// signalLen, framedPtr, framedLen) import.
func (p *Provider) hostOutput(ctx context.Context, mod api.Module, portPtr, portLen, signalPtr, signalLen, framedPtr, framedLen uint32) uint32 {
	port := readString(mod, portPtr, portLen)
	signal := readString(mod, signalPtr, signalLen)
	framed, ok := mod.Memory().Read(framedPtr, framedLen)
	if !ok {
		return 1
	}
	if err := p.bridge.OutputHandler(port, signal, framed); err != nil {
		return 1
	}
	return 0
}

// writeIntoGuest calls the guest's exported alloc to reserve len(data)
// bytes, then writes data at the returned offset.
func writeIntoGuest(ctx context.Context, mod api.Module, data []byte) (uint32, bool) {
	if len(data) == 0 {
		return 0, true
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, false
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0, false
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, false
	}
	return ptr, true
}

// Invoke implements provider.Provider: instantiates a fresh guest module
// instance for the invocation, writes the payload into its memory,
// registers a bridge transaction, calls the guest export named operation,
// then drains whatever the guest buffered through __output.
func (p *Provider) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	p.mu.RLock()
	sig, ok := p.ops[operation]
	st := p.stats[operation]
	p.mu.RUnlock()
	if !ok {
		return provider.Stream{}, fmt.Errorf("wasm: unknown operation %q", operation)
	}

	if p.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DefaultTimeout)
		defer cancel()
	}

	txID := p.nextTxID.Add(1)
	p.bridge.Tx.Register(txID)
	defer p.bridge.Tx.Unregister(txID)

	modConfig := wazero.NewModuleConfig().WithName(fmt.Sprintf("guest-%s-%d", operation, txID))
	guest, err := p.runtime.InstantiateModule(ctx, p.module, modConfig)
	if err != nil {
		st.errors.Add(1)
		return provider.Stream{}, fmt.Errorf("wasm: instantiate guest: %w", err)
	}
	defer guest.Close(ctx)

	payloadPtr, ok := writeIntoGuest(ctx, guest, payload)
	if !ok {
		st.errors.Add(1)
		return provider.Stream{}, fmt.Errorf("wasm: %s: guest has no usable alloc export", operation)
	}

	fn := guest.ExportedFunction(operation)
	if fn == nil {
		st.errors.Add(1)
		return provider.Stream{}, fmt.Errorf("wasm: guest module has no export %q", operation)
	}

	st.invocations.Add(1)
	results, err := fn.Call(ctx, uint64(txID), uint64(payloadPtr), uint64(len(payload)))

	out := make(chan packet.PortedPacket, 8)
	var runErr error
	if err != nil {
		st.errors.Add(1)
		runErr = fmt.Errorf("wasm: %s: guest call failed: %w", operation, err)
	} else if len(results) > 0 && results[0] != 0 {
		st.errors.Add(1)
		runErr = fmt.Errorf("wasm: %s: guest returned status %d", operation, results[0])
	}

	buffered, drainErr := p.bridge.Tx.Drain(txID)
	if drainErr != nil && runErr == nil {
		runErr = drainErr
	}
	closedPorts, closedErr := p.bridge.Tx.ClosedPorts(txID)
	if closedErr != nil && runErr == nil {
		runErr = closedErr
	}

	go func() {
		defer close(out)
		for _, pp := range buffered {
			out <- pp
		}
		if runErr != nil {
			for _, o := range sig.Outputs {
				out <- packet.PortedPacket{Port: o, Packet: packet.Err(runErr.Error())}
			}
		}
		for _, o := range sig.Outputs {
			if closedPorts[o] {
				continue
			}
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
	for name, sig := range p.ops {
		out = append(out, provider.HostedType{Operation: name, Inputs: sig.Inputs, Outputs: sig.Outputs})
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
			agg.Invocations += c.invocations.Load()
			agg.Errors += c.errors.Load()
		}
		return agg, nil
	}
	c, ok := p.stats[id]
	if !ok {
		return provider.Stats{}, fmt.Errorf("wasm: unknown operation %q", id)
	}
	return provider.Stats{Invocations: c.invocations.Load(), Errors: c.errors.Load()}, nil
}
