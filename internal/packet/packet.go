// Package packet implements the tagged payload variants that flow on every
// port of a transaction, the bracket-balance bookkeeping for substreams
// within a port, and the MessagePack codec used to encode/decode Success
// payloads.
package packet

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the variant carried by a Packet.
type Kind int

const (
	// KindSuccess carries an opaque, self-describing MessagePack payload.
	KindSuccess Kind = iota
	// KindJSON carries a raw JSON string, kept distinct from Success per
	// the MessagePack/JSON duality in spec design notes: conversions
	// between the two are never silent.
	KindJSON
	// KindError carries a recoverable, in-band error message.
	KindError
	// KindException carries a guest/provider exception message. It stays
	// a kind of its own, distinct from Error; no projection in this module
	// merges the two.
	KindException
	// KindSignal carries one of Done/OpenBracket/CloseBracket.
	KindSignal
	// KindInvalid marks a packet that failed to decode or was never set.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindJSON:
		return "json"
	case KindError:
		return "error"
	case KindException:
		return "exception"
	case KindSignal:
		return "signal"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Signal is the sub-tag of a KindSignal packet.
type Signal int

const (
	SignalDone Signal = iota
	SignalOpenBracket
	SignalCloseBracket
)

func (s Signal) String() string {
	switch s {
	case SignalDone:
		return "done"
	case SignalOpenBracket:
		return "open_bracket"
	case SignalCloseBracket:
		return "close_bracket"
	default:
		return "unknown_signal"
	}
}

// Packet is a tagged value flowing on a single port.
type Packet struct {
	kind    Kind
	bytes   []byte // Success payload (MessagePack) or JSON payload (raw text)
	message string // Error/Exception message
	signal  Signal
}

// Success wraps already-encoded MessagePack bytes as a Success packet.
func Success(data []byte) Packet {
	return Packet{kind: KindSuccess, bytes: data}
}

// JSON wraps a raw JSON string as a Json packet.
func JSON(data string) Packet {
	return Packet{kind: KindJSON, bytes: []byte(data)}
}

// Err builds an Error packet carrying a recoverable message.
func Err(message string) Packet {
	return Packet{kind: KindError, message: message}
}

// Exception builds an Exception packet carrying a guest/provider message.
func Exception(message string) Packet {
	return Packet{kind: KindException, message: message}
}

// Done builds a Signal(Done) packet: the terminal packet on a port.
func Done() Packet {
	return Packet{kind: KindSignal, signal: SignalDone}
}

// OpenBracket builds a Signal(OpenBracket) packet.
func OpenBracket() Packet {
	return Packet{kind: KindSignal, signal: SignalOpenBracket}
}

// CloseBracket builds a Signal(CloseBracket) packet.
func CloseBracket() Packet {
	return Packet{kind: KindSignal, signal: SignalCloseBracket}
}

// Invalid builds an Invalid packet.
func Invalid() Packet {
	return Packet{kind: KindInvalid}
}

// Kind returns the packet's tag.
func (p Packet) Kind() Kind { return p.kind }

// IsDone reports whether this is a Signal(Done) packet.
func (p Packet) IsDone() bool { return p.kind == KindSignal && p.signal == SignalDone }

// SignalTag returns the signal sub-tag; only meaningful when Kind() == KindSignal.
func (p Packet) SignalTag() Signal { return p.signal }

// Message returns the Error/Exception message, or "" otherwise.
func (p Packet) Message() string { return p.message }

// Bytes returns the raw Success/Json payload bytes.
func (p Packet) Bytes() []byte { return p.bytes }

// Encode serialises v to MessagePack and wraps it as a Success packet.
// The port argument is accepted for symmetry with the decode side (it
// plays no role in encoding itself) and to match the callsite shape used
// throughout the transaction engine: encode(port, value).
func Encode(port string, v any) (Packet, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return Packet{}, fmt.Errorf("packet: encode on port %q: %w", port, err)
	}
	return Success(data), nil
}

// ErrDecode is returned by TryInto when the packet is Error/Exception/Invalid.
var ErrDecode = errors.New("packet: cannot decode non-success packet")

// ErrPortClosed is returned by TryInto on a Signal(Done) packet, signalling
// end-of-stream to the caller rather than a decode failure.
var ErrPortClosed = errors.New("packet: port closed")

// TryInto decodes a Packet's Success payload into a value of type T.
//
// Round-trip law: for any msgpack-serialisable v, TryInto[T](Encode(p, v))
// yields v unchanged. A Done signal yields ErrPortClosed (end-of-stream,
// not a decode error); Error/Exception/Invalid yield ErrDecode wrapping the
// packet's message.
func TryInto[T any](p Packet) (T, error) {
	var zero T
	switch p.kind {
	case KindSuccess:
		var out T
		if err := msgpack.Unmarshal(p.bytes, &out); err != nil {
			return zero, fmt.Errorf("packet: decode: %w", err)
		}
		return out, nil
	case KindJSON:
		return zero, fmt.Errorf("packet: cannot decode Json payload as MessagePack: %w", ErrDecode)
	case KindSignal:
		if p.signal == SignalDone {
			return zero, ErrPortClosed
		}
		return zero, fmt.Errorf("packet: unexpected bracket signal %s: %w", p.signal, ErrDecode)
	default:
		msg := p.message
		if msg == "" {
			msg = p.kind.String()
		}
		return zero, fmt.Errorf("packet: %s: %w", msg, ErrDecode)
	}
}

// PortedPacket pairs a packet with the name of the port it travels on.
// Ordering within a single port is preserved end-to-end by the transaction
// engine; PortedPacket itself carries no ordering guarantee beyond FIFO
// delivery through the channel it travels on.
type PortedPacket struct {
	Port   string
	Packet Packet
}
