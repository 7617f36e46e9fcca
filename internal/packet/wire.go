package packet

import (
	"encoding/base64"
	"fmt"
)

// WireKind is the wire-form discriminant for Packet.Payload.Kind, matching
// the schematic manifest / wire packet vocabulary exactly
// (capitalised to mirror the external interface document).
type WireKind string

const (
	WireInvalid     WireKind = "Invalid"
	WireException   WireKind = "Exception"
	WireError       WireKind = "Error"
	WireMessagePack WireKind = "MessagePack"
	WireJSON        WireKind = "Json"
	WireSignal      WireKind = "Signal"
)

// WirePayload is the `payload` object of a wire packet.
type WirePayload struct {
	Kind   WireKind `json:"kind"`
	Data   string   `json:"data,omitempty"`   // base64 bytes, JSON text, or error message
	Signal string   `json:"signal,omitempty"` // Done|OpenBracket|CloseBracket
}

// WirePacket is the `{ port, invocation_id, payload }` wire form used when
// a packet crosses a network boundary (gRPC Remote provider, WASM bridge
// framing).
type WirePacket struct {
	Port         string      `json:"port"`
	InvocationID string      `json:"invocation_id"`
	Payload      WirePayload `json:"payload"`
}

// ToWire projects a PortedPacket into its wire form for a given invocation.
func ToWire(invocationID string, pp PortedPacket) WirePacket {
	p := pp.Packet
	w := WirePacket{Port: pp.Port, InvocationID: invocationID}
	switch p.Kind() {
	case KindSuccess:
		w.Payload = WirePayload{Kind: WireMessagePack, Data: base64.StdEncoding.EncodeToString(p.Bytes())}
	case KindJSON:
		w.Payload = WirePayload{Kind: WireJSON, Data: string(p.Bytes())}
	case KindError:
		w.Payload = WirePayload{Kind: WireError, Data: p.Message()}
	case KindException:
		w.Payload = WirePayload{Kind: WireException, Data: p.Message()}
	case KindSignal:
		w.Payload = WirePayload{Kind: WireSignal, Signal: signalWireTag(p.SignalTag())}
	default:
		w.Payload = WirePayload{Kind: WireInvalid}
	}
	return w
}

// FromWire reconstructs a PortedPacket from its wire form.
func FromWire(w WirePacket) (PortedPacket, error) {
	var p Packet
	switch w.Payload.Kind {
	case WireMessagePack:
		data, err := base64.StdEncoding.DecodeString(w.Payload.Data)
		if err != nil {
			return PortedPacket{}, fmt.Errorf("packet: decode wire MessagePack payload: %w", err)
		}
		p = Success(data)
	case WireJSON:
		p = JSON(w.Payload.Data)
	case WireError:
		p = Err(w.Payload.Data)
	case WireException:
		p = Exception(w.Payload.Data)
	case WireSignal:
		sig, err := signalFromWireTag(w.Payload.Signal)
		if err != nil {
			return PortedPacket{}, err
		}
		p = Packet{kind: KindSignal, signal: sig}
	case WireInvalid, "":
		p = Invalid()
	default:
		return PortedPacket{}, fmt.Errorf("packet: unknown wire kind %q", w.Payload.Kind)
	}
	return PortedPacket{Port: w.Port, Packet: p}, nil
}

func signalWireTag(s Signal) string {
	switch s {
	case SignalDone:
		return "Done"
	case SignalOpenBracket:
		return "OpenBracket"
	case SignalCloseBracket:
		return "CloseBracket"
	default:
		return "Done"
	}
}

func signalFromWireTag(tag string) (Signal, error) {
	switch tag {
	case "Done":
		return SignalDone, nil
	case "OpenBracket":
		return SignalOpenBracket, nil
	case "CloseBracket":
		return SignalCloseBracket, nil
	default:
		return 0, fmt.Errorf("packet: unknown signal tag %q", tag)
	}
}
