// Package errs implements a layered error taxonomy: static
// Validation errors (aggregated at network startup), pre-dispatch
// Signature errors, runtime Provider and Transport errors, and Internal
// (always-fatal) bugs. Every error kind projects to a stable Packet via
// ToPacket.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oriys/flowhost/internal/packet"
)

// Kind tags which layer of the taxonomy an error belongs to.
type Kind int

const (
	KindValidation Kind = iota
	KindSignature
	KindProvider
	KindTransport
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSignature:
		return "signature"
	case KindProvider:
		return "provider"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the common shape for every taxonomy member: a kind, a short
// code identifying the specific error within that kind, and a message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Fatal reports whether this error is always fatal to its enclosing scope
// (Internal errors always are; Transport errors are fatal to the owning
// transaction; Validation errors are fatal to network startup).
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindInternal, KindTransport, KindValidation:
		return true
	default:
		return false
	}
}

// Validation error codes (static).
const (
	CodeSchematicNotFound        = "SchematicNotFound"
	CodeInstanceNotFound         = "InstanceNotFound"
	CodeConnectionEndpointMissing = "ConnectionEndpointMissing"
	CodeInvalidModel             = "InvalidModel"
)

// NewValidation builds a Validation-kind error.
func NewValidation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Signature error codes (pre-dispatch).
const (
	CodeTypeMismatch        = "TypeMismatch"
	CodeMissingRequiredInput = "MissingRequiredInput"
)

// NewSignature builds a Signature-kind error.
func NewSignature(code, message string) *Error {
	return &Error{Kind: KindSignature, Code: code, Message: message}
}

// Provider error codes (invocation).
const (
	CodeUninitialized = "Uninitialized"
	CodeRPCUpstream   = "RpcUpstream"
	CodeWasmTrap      = "WasmTrap"
	CodeTimeout       = "Timeout"
)

// NewProvider builds a Provider-kind error.
func NewProvider(code, message string) *Error {
	return &Error{Kind: KindProvider, Code: code, Message: message}
}

// Transport error codes (runtime).
const (
	CodeChannelClosedEarly = "ChannelClosedEarly"
	CodeBracketImbalance   = "BracketImbalance"
	CodeDoubleClose        = "DoubleClose"
)

// NewTransport builds a Transport-kind error, optionally wrapping an
// underlying cause (e.g. a *packet.BracketImbalance or *packet.DoubleClose).
func NewTransport(code, message string, wrapped error) *Error {
	return &Error{Kind: KindTransport, Code: code, Message: message, Wrapped: wrapped}
}

// NewInternal builds an Internal-kind (always-fatal) bug error.
func NewInternal(invariant, message string) *Error {
	return &Error{Kind: KindInternal, Code: invariant, Message: message}
}

// ToPacket projects any error into a stable Error (or Exception) packet
// carrying a human-readable message, "user-visible failure"
// policy.
func ToPacket(err error) packet.Packet {
	var te *Error
	if errors.As(err, &te) {
		if te.Kind == KindProvider && te.Code == CodeWasmTrap {
			return packet.Exception(te.Error())
		}
		return packet.Err(te.Error())
	}
	return packet.Err(err.Error())
}

// InitializationError aggregates the Validation errors raised while
// building the SchematicModel registry at network startup (// "validation errors abort the whole network start-up and are aggregated
// into a single InitializationError(list)").
type InitializationError struct {
	Errors []*Error
}

func (e *InitializationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, sub := range e.Errors {
		msgs[i] = sub.Error()
	}
	return fmt.Sprintf("initialization failed with %d error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap supports errors.Is/As against any aggregated member.
func (e *InitializationError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, sub := range e.Errors {
		out[i] = sub
	}
	return out
}

// NewInitializationError builds an InitializationError from a non-empty
// slice of Validation errors. Returns nil if errs is empty, so callers can
// write `if err := errs.NewInitializationError(collected); err != nil`.
func NewInitializationError(collected []*Error) error {
	if len(collected) == 0 {
		return nil
	}
	return &InitializationError{Errors: collected}
}
