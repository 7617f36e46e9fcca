package packet

import "fmt"

// BracketImbalance is raised when a port's OpenBracket/CloseBracket pairs
// do not balance: a close without a matching open, or a transaction ending
// with brackets still open. It is a fatal framing error for the owning
// transaction (Transport.BracketImbalance).
type BracketImbalance struct {
	Port  string
	Depth int
}

func (e *BracketImbalance) Error() string {
	return fmt.Sprintf("packet: bracket imbalance on port %q (depth %d)", e.Port, e.Depth)
}

// DoubleClose is raised when a packet is observed on a port after that
// port has already emitted Done within the same transaction
// (Transport.DoubleClose).
type DoubleClose struct {
	Port string
}

func (e *DoubleClose) Error() string {
	return fmt.Sprintf("packet: double close on port %q", e.Port)
}

// BracketTracker maintains the open-bracket depth for a single port.
// Nesting depth itself is implementation-defined (open question
// ii); this tracker only enforces strict balance — every CloseBracket must
// be preceded by a matching OpenBracket, and a port must not seal (emit
// Done) with brackets still open.
type BracketTracker struct {
	depth int
	done  bool
}

// Observe updates the tracker with a packet seen on the port and reports
// an error if the packet violates bracket balance or the done-monotonicity
// invariant (no packet is valid after Done on the same port).
func (t *BracketTracker) Observe(port string, p Packet) error {
	if t.done {
		return &DoubleClose{Port: port}
	}
	if p.Kind() != KindSignal {
		return nil
	}
	switch p.SignalTag() {
	case SignalOpenBracket:
		t.depth++
	case SignalCloseBracket:
		t.depth--
		if t.depth < 0 {
			return &BracketImbalance{Port: port, Depth: t.depth}
		}
	case SignalDone:
		t.done = true
		if t.depth != 0 {
			return &BracketImbalance{Port: port, Depth: t.depth}
		}
	}
	return nil
}

// Done reports whether Done has been observed on this port.
func (t *BracketTracker) Done() bool { return t.done }

// Depth returns the current open-bracket depth.
func (t *BracketTracker) Depth() int { return t.depth }
