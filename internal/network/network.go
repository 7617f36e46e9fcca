// Package network implements the host-level schematic registry and
// request entry point: the service a transport (gRPC, CLI, or a nested
// Network provider) calls through to invoke a schematic by name (spec
// §1, §4.6).
package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oriys/flowhost/internal/circuitbreaker"
	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/errs"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/logging"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/schematic"
	"github.com/oriys/flowhost/internal/transaction"
)

// inputPort is the conventional single input port name used when a root
// invocation carries one opaque payload rather than a per-port map (the
// same "input"/"output" convention every fixture schematic and native
// operation in this repo uses).
const inputPort = "input"

// Network owns the validated schematic registry and dispatches Requests
// into fresh Transactions. It is built once at daemon startup and is safe
// for concurrent use thereafter ("SchematicModel ... immutable
// thereafter").
type Network struct {
	mu     sync.RWMutex
	models map[string]*schematic.SchematicModel

	registry  *provider.Registry
	signer    invocation.Signer
	issuer    string
	txCfg     transaction.Config
	breakers  *circuitbreaker.Registry
	log       *slog.Logger

	activeMu sync.Mutex
	active   map[string]*transaction.Transaction
	inflight sync.WaitGroup
}

// New builds an empty Network. Schematics are added via LoadManifest or
// RegisterSchematic before the first Request.
func New(registry *provider.Registry, signer invocation.Signer, issuer string, txCfg transaction.Config, breakers *circuitbreaker.Registry) *Network {
	return &Network{
		models:   make(map[string]*schematic.SchematicModel),
		registry: registry,
		signer:   signer,
		issuer:   issuer,
		txCfg:    txCfg,
		breakers: breakers,
		log:      logging.Op(),
		active:   make(map[string]*transaction.Transaction),
	}
}

// resolver adapts the provider registry's List() into a
// schematic.SignatureResolver, so Build can type-check instance ports
// against whatever a namespace's provider actually hosts.
func (n *Network) resolver(namespace, operation string) (schematic.Signature, error) {
	p, ok := n.registry.Get(namespace)
	if !ok {
		return schematic.Signature{}, fmt.Errorf("network: no provider registered for namespace %q", namespace)
	}
	types, err := p.List(context.Background())
	if err != nil {
		return schematic.Signature{}, fmt.Errorf("network: list %q: %w", namespace, err)
	}
	for _, ht := range types {
		if ht.Operation == operation {
			return schematic.Signature{Inputs: ht.Inputs, Outputs: ht.Outputs}, nil
		}
	}
	return schematic.Signature{}, fmt.Errorf("network: namespace %q has no operation %q", namespace, operation)
}

// RegisterSchematic validates def against the current provider registry
// and adds it to the registry. Returns the Validation errors collected,
// if any; the schematic is registered only when there are none.
func (n *Network) RegisterSchematic(def schematic.Def) []*errs.Error {
	model, problems := schematic.Build(def, n.resolver)
	if len(problems) > 0 {
		return problems
	}
	n.mu.Lock()
	n.models[def.Name] = model
	n.mu.Unlock()
	return nil
}

// LoadManifest validates and registers every schematic in manifest,
// aggregating every schematic's Validation errors into a single
// errs.InitializationError ("validation errors abort the whole
// network start-up"). Returns nil if every schematic validated cleanly.
func (n *Network) LoadManifest(manifest *schematic.Manifest) error {
	var collected []*errs.Error
	for _, def := range manifest.Schematics {
		if problems := n.RegisterSchematic(def); len(problems) > 0 {
			collected = append(collected, problems...)
		}
	}
	return errs.NewInitializationError(collected)
}

// ListSchematics returns the registered schematic names.
func (n *Network) ListSchematics() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.models))
	for name := range n.models {
		out = append(out, name)
	}
	return out
}

// Request dispatches inv against the schematic its target entity names,
// opening a new Transaction and returning its cold lazy output stream.
// inv.Target must be a Schematic entity; inv.Payload carries
// either a single opaque blob (delivered on the conventional "input" port)
// or a per-port map.
func (n *Network) Request(ctx context.Context, inv invocation.Invocation) (<-chan packet.PortedPacket, error) {
	if inv.Target.Kind() != entity.KindSchematic {
		return nil, fmt.Errorf("network: request target must be a schematic, got %s", inv.Target.URL())
	}

	n.mu.RLock()
	model, ok := n.models[inv.Target.Name()]
	n.mu.RUnlock()
	if !ok {
		return nil, errs.NewValidation(errs.CodeSchematicNotFound, fmt.Sprintf("schematic %q not registered", inv.Target.Name()))
	}

	callerPayload := inv.Payload.Ports
	if callerPayload == nil {
		callerPayload = map[string][]byte{inputPort: inv.Payload.Single}
	}

	tx := transaction.New(ctx, inv.TransactionID, model, n.registry, n.signer, n.issuer, n.txCfg, n.breakers)

	n.activeMu.Lock()
	n.active[tx.ID] = tx
	n.activeMu.Unlock()
	n.inflight.Add(1)

	tx.OnTerminate(func(summary transaction.Summary) {
		n.activeMu.Lock()
		delete(n.active, tx.ID)
		n.activeMu.Unlock()
		n.inflight.Done()

		entry := &logging.TransactionLog{
			Timestamp:     time.Now(),
			TransactionID: summary.TransactionID,
			Schematic:     summary.Schematic,
			DurationMs:    summary.DurationMs,
			Success:       summary.Success,
			Error:         summary.Error,
			PacketsIn:     summary.PacketsIn,
			PacketsOut:    summary.PacketsOut,
			Dispatches:    summary.Dispatches,
			Cancelled:     summary.Cancelled,
		}
		logging.Default().Log(entry)
	})

	return tx.Run(callerPayload), nil
}

// GetReference returns the active Transaction for a transaction id, for
// introspection endpoints.
func (n *Network) GetReference(transactionID string) (*transaction.Transaction, bool) {
	n.activeMu.Lock()
	defer n.activeMu.Unlock()
	tx, ok := n.active[transactionID]
	return tx, ok
}

// Shutdown cancels every in-flight transaction and waits for their
// Summaries to fire, or ctx to expire, whichever comes first.
func (n *Network) Shutdown(ctx context.Context) error {
	n.activeMu.Lock()
	for _, tx := range n.active {
		tx.Cancel()
	}
	n.activeMu.Unlock()

	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
