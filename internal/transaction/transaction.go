// Package transaction implements the per-invocation routing state machine:
// the heart of the network. A Transaction owns the buffers and output
// channel for one schematic invocation and drives packets between
// upstream ports and downstream inputs until every schematic output port
// seals or a fatal error aborts it.
package transaction

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/flowhost/internal/circuitbreaker"
	"github.com/oriys/flowhost/internal/errs"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/logging"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
	"github.com/oriys/flowhost/internal/schematic"
)

// Config holds per-transaction tunables: backpressure/high-water
// settings and timeout inheritance policy.
type Config struct {
	OutputBufferSize      int
	BufferHighWater       int
	InheritParentDeadline bool
	DefaultTimeout        time.Duration
	BreakerPolicy         circuitbreaker.Config // zero value disables breaking
}

// routedPacket is an (instance, port, packet) tuple flowing through the
// transaction's single internal routing channel — every packet a
// dispatched provider stream emits passes through here before the Route
// step looks up its downstream connections.
type routedPacket struct {
	Instance string
	Port     string
	Packet   packet.Packet
}

// Transaction is the runtime state of one schematic invocation.
type Transaction struct {
	ID           string
	Schematic    string
	model        *schematic.SchematicModel
	registry     *provider.Registry
	signer       invocation.Signer
	issuer       string
	cfg          Config
	breakers     *circuitbreaker.Registry
	log          *slog.Logger
	onTerminate  func(summary Summary)

	ctx    context.Context
	cancel context.CancelFunc

	out    chan packet.PortedPacket
	routed chan routedPacket

	// queues, sealed-tracking, and bracket state are all mutated only by
	// the single routing goroutine started in Run, so no lock is needed.
	queues        map[string]map[string][]packet.Packet
	inputBrackets map[string]map[string]*packet.BracketTracker
	outputSealed  map[string]map[string]bool
	retired       map[string]bool
	callerSealed  map[string]bool
	callerBracket map[string]*packet.BracketTracker

	inflight   sync.WaitGroup
	cancelling atomic.Bool
	fatal      atomic.Bool

	dispatches atomic.Int64
	packetsIn  atomic.Int64
	packetsOut atomic.Int64
	startedAt  time.Time

	span trace.Span
}

// Summary is reported to onTerminate (if set) for transaction logging.
type Summary struct {
	TransactionID string
	Schematic     string
	DurationMs    int64
	Success       bool
	Error         string
	PacketsIn     int
	PacketsOut    int
	Dispatches    int
	Cancelled     bool
}

// New constructs a Transaction for one invocation of model. parentCtx
// supplies cancellation/deadline; if cfg.InheritParentDeadline is false, a
// fresh cfg.DefaultTimeout budget is applied instead of inheriting
// parentCtx's deadline (sub-invocation timeout policy, resolved in
// DESIGN.md).
func New(parentCtx context.Context, id string, model *schematic.SchematicModel, registry *provider.Registry, signer invocation.Signer, issuer string, cfg Config, breakers *circuitbreaker.Registry) *Transaction {
	if id == "" {
		id = uuid.NewString()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if cfg.InheritParentDeadline {
		ctx, cancel = context.WithCancel(parentCtx)
	} else if cfg.DefaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.DefaultTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	outSize := cfg.OutputBufferSize
	if outSize <= 0 {
		outSize = 1
	}

	t := &Transaction{
		ID:            id,
		Schematic:     model.Name,
		model:         model,
		registry:      registry,
		signer:        signer,
		issuer:        issuer,
		cfg:           cfg,
		breakers:      breakers,
		log:           logging.Op().With("transaction_id", id, "schematic", model.Name),
		ctx:           ctx,
		cancel:        cancel,
		out:           make(chan packet.PortedPacket, outSize),
		routed:        make(chan routedPacket, 64),
		queues:        make(map[string]map[string][]packet.Packet),
		inputBrackets: make(map[string]map[string]*packet.BracketTracker),
		outputSealed:  make(map[string]map[string]bool),
		retired:       make(map[string]bool),
		callerSealed:  make(map[string]bool),
		callerBracket: make(map[string]*packet.BracketTracker),
		startedAt:     time.Now(),
	}
	for ref := range model.Instances {
		t.queues[ref] = make(map[string][]packet.Packet)
		t.inputBrackets[ref] = make(map[string]*packet.BracketTracker)
		t.outputSealed[ref] = make(map[string]bool)
	}
	return t
}

// OnTerminate registers a callback invoked exactly once when the
// transaction retires, for transaction-log emission.
func (t *Transaction) OnTerminate(fn func(Summary)) { t.onTerminate = fn }

// Cancel tears the transaction down as if the caller had dropped its
// output receiver.
func (t *Transaction) Cancel() { t.cancel() }

func (t *Transaction) bracketFor(instance, port string) *packet.BracketTracker {
	m := t.inputBrackets[instance]
	bt, ok := m[port]
	if !ok {
		bt = &packet.BracketTracker{}
		m[port] = bt
	}
	return bt
}

func (t *Transaction) callerBracketFor(port string) *packet.BracketTracker {
	bt, ok := t.callerBracket[port]
	if !ok {
		bt = &packet.BracketTracker{}
		t.callerBracket[port] = bt
	}
	return bt
}

// abort surfaces a fatal error to the caller on every still-open schematic
// output port and marks the transaction for teardown.
func (t *Transaction) abort(err *errs.Error) {
	if t.fatal.Swap(true) {
		return
	}
	t.log.Error("transaction aborted", "error", err)
	p := errs.ToPacket(err)
	for port, sealed := range t.callerSealed {
		if !sealed {
			t.send(packet.PortedPacket{Port: port, Packet: p})
		}
	}
	if len(t.callerSealed) == 0 {
		t.send(packet.PortedPacket{Port: "output", Packet: p})
	}
}

// send delivers a packet to the caller's bounded output channel,
// suspending until there is room or the transaction is cancelled (spec
// §4.4 Backpressure).
func (t *Transaction) send(pp packet.PortedPacket) {
	select {
	case t.out <- pp:
		t.packetsOut.Add(1)
	case <-t.ctx.Done():
	}
}
