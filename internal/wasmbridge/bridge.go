// Package wasmbridge implements the host-side callback surface a WASM
// guest invokes back into: __log, __link_call, and __output, the three
// host functions the Wasm provider variant exposes to a guest module.
// Wiring between a guest runtime and these handlers is outside this
// package; wasmbridge only implements the framing and per-transaction
// bookkeeping every call shares.
package wasmbridge

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/oriys/flowhost/internal/logging"
	"github.com/oriys/flowhost/internal/packet"
)

// LogLevel mirrors the guest's __log level argument.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
	LogTrace LogLevel = "trace"
	LogMark  LogLevel = "mark"
)

// ParseLogLevel validates a guest-supplied level string.
func ParseLogLevel(s string) (LogLevel, error) {
	switch LogLevel(s) {
	case LogInfo, LogWarn, LogError, LogDebug, LogTrace, LogMark:
		return LogLevel(s), nil
	default:
		return "", fmt.Errorf("wasmbridge: invalid log level %q", s)
	}
}

// OutputSignal mirrors the guest's __output signal argument: whether the
// emitted payload leaves the port open (Output), closes it after this
// payload (OutputDone), or closes it with no payload at all (Done).
type OutputSignal string

const (
	SignalOutput     OutputSignal = "output"
	SignalOutputDone OutputSignal = "output_done"
	SignalDone       OutputSignal = "done"
)

// ParseOutputSignal validates a guest-supplied signal string.
func ParseOutputSignal(s string) (OutputSignal, error) {
	switch OutputSignal(s) {
	case SignalOutput, SignalOutputDone, SignalDone:
		return OutputSignal(s), nil
	default:
		return "", fmt.Errorf("wasmbridge: invalid output signal %q", s)
	}
}

// HostLinkFunc resolves a guest-initiated link call (a WASM component
// invoking another component through the host instead of directly) back
// into the network, the same sub-invocation path a native instance's
// Invoke would take. payload is MessagePack-encoded; the returned bytes
// are a MessagePack-encoded slice of packets, mirroring the guest-side
// expectation that a link call answers with a packet list, not a bare
// value.
type HostLinkFunc func(origin, target string, payload []byte) ([]byte, error)

// txState is the buffered output side of one in-flight transaction's WASM
// invocation: every __output call appends to buffer; closedPorts records
// which ports have already seen OutputDone/Done, so a further call on the
// same port is rejected as a double close (Transport.DoubleClose).
type txState struct {
	mu          sync.Mutex
	buffer      []packet.PortedPacket
	closedPorts map[string]bool
}

// TxMap is the bridge's transaction registry, keyed by the u32 id a guest
// module threads through every __output call. One guest instance can have
// many transactions in flight (one per concurrent invocation); the outer
// lock only guards map membership, while per-transaction state has its own
// lock so concurrent __output calls on different transactions never
// contend with each other — the same fine-grained locking shape as the
// originating provider's tx_map: RwLock<HashMap<u32, RwLock<Transaction>>>.
type TxMap struct {
	mu  sync.RWMutex
	txs map[uint32]*txState
}

// NewTxMap builds an empty registry.
func NewTxMap() *TxMap {
	return &TxMap{txs: make(map[uint32]*txState)}
}

// Register admits a new transaction id, so __output calls against it are
// accepted. Must be called before the guest invocation that owns id
// starts running.
func (m *TxMap) Register(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[id] = &txState{closedPorts: make(map[string]bool)}
}

// Unregister discards a transaction's buffered state once its output has
// been fully drained and delivered to the owning Transaction.
func (m *TxMap) Unregister(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txs, id)
}

// Drain returns and clears every packet buffered for id so far.
func (m *TxMap) Drain(id uint32) ([]packet.PortedPacket, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.buffer
	st.buffer = nil
	return out, nil
}

// ClosedPorts reports which ports a guest has already sealed with
// OutputDone or Done for id, so a caller synthesizing a terminal Done for
// every declared output port can skip the ones the guest closed itself.
func (m *TxMap) ClosedPorts(id uint32) (map[string]bool, error) {
	st, err := m.get(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	closed := make(map[string]bool, len(st.closedPorts))
	for port, ok := range st.closedPorts {
		closed[port] = ok
	}
	return closed, nil
}

func (m *TxMap) get(id uint32) (*txState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.txs[id]
	if !ok {
		return nil, fmt.Errorf("wasmbridge: invalid transaction (tx: %d)", id)
	}
	return st, nil
}

// Bridge wires the three host callbacks a WASM guest can invoke: __log
// (structured logging), __link_call (sub-invocation through the host),
// and __output (streaming a packet back to the owning transaction).
type Bridge struct {
	Tx   *TxMap
	Link HostLinkFunc
}

// New builds a Bridge. link may be nil; a guest's __link_call then fails
// with the same "no callback provided" error the origin implementation
// returns.
func New(link HostLinkFunc) *Bridge {
	return &Bridge{Tx: NewTxMap(), Link: link}
}

// LogHandler implements the guest's __log(level, message) host call.
func (b *Bridge) LogHandler(level, message string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	log := logging.Op()
	switch lvl {
	case LogError:
		log.Error("wasm guest log", "message", message)
	case LogWarn:
		log.Warn("wasm guest log", "message", message)
	case LogDebug, LogTrace:
		log.Debug("wasm guest log", "message", message, "level", string(lvl))
	default:
		log.Info("wasm guest log", "message", message)
	}
	return nil
}

// LinkHandler implements the guest's __link_call(origin, target, payload)
// host call: a sub-invocation routed back through the network rather than
// directly at another guest export.
func (b *Bridge) LinkHandler(origin, target string, payload []byte) ([]byte, error) {
	if b.Link == nil {
		return nil, fmt.Errorf("wasmbridge: link call with no host callback configured")
	}
	return b.Link(origin, target, payload)
}

// OutputHandler implements the guest's __output(port, signal, framed)
// host call. framed is the wire format every output call shares: a 4-byte
// big-endian transaction id followed by the MessagePack-encoded payload
// bytes (the same length-prefix-then-payload shape the pack's own
// host-process agent client uses for its request/response framing,
// repurposed here for guest-to-host callback framing instead of
// host-to-agent RPC).
func (b *Bridge) OutputHandler(port, signal string, framed []byte) error {
	id, payload, err := unframe(framed)
	if err != nil {
		return err
	}
	sig, err := ParseOutputSignal(signal)
	if err != nil {
		return err
	}

	st, err := b.Tx.get(id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	switch sig {
	case SignalOutput:
		if st.closedPorts[port] {
			return fmt.Errorf("wasmbridge: port %q already closed for tx %d", port, id)
		}
		st.buffer = append(st.buffer, packet.PortedPacket{Port: port, Packet: packet.Success(payload)})
	case SignalOutputDone:
		if st.closedPorts[port] {
			return fmt.Errorf("wasmbridge: port %q already closed for tx %d", port, id)
		}
		st.buffer = append(st.buffer, packet.PortedPacket{Port: port, Packet: packet.Success(payload)})
		st.buffer = append(st.buffer, packet.PortedPacket{Port: port, Packet: packet.Done()})
		st.closedPorts[port] = true
	case SignalDone:
		if st.closedPorts[port] {
			return fmt.Errorf("wasmbridge: port %q already closed for tx %d", port, id)
		}
		st.buffer = append(st.buffer, packet.PortedPacket{Port: port, Packet: packet.Done()})
		st.closedPorts[port] = true
	}
	return nil
}

// Frame lays out a transaction id and payload into the wire format
// OutputHandler expects: 4-byte big-endian id, then the raw payload.
func Frame(id uint32, payload []byte) []byte {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], id)
	copy(buf[4:], payload)
	return buf
}

func unframe(framed []byte) (uint32, []byte, error) {
	if len(framed) < 4 {
		return 0, nil, fmt.Errorf("wasmbridge: frame too short (%d bytes)", len(framed))
	}
	id := binary.BigEndian.Uint32(framed[:4])
	return id, framed[4:], nil
}
