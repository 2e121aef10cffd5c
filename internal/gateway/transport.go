// Package gateway executes logical appliance commands over one of several
// wire protocols, wrapping the active transport strategy with a read cache
// and, where safe, a bounded retry policy.
package gateway

import (
	"context"
	"fmt"
)

// Result is a normalized appliance response. Transports that produce
// non-object payloads wrap them under a "data" or "output" key.
type Result map[string]any

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// KindUnauthorized means the appliance rejected the gateway's credentials.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound means the command resolved to a missing endpoint.
	KindNotFound ErrorKind = "not_found"
	// KindUnreachable means the appliance could not be reached or answered
	// with a server-side failure.
	KindUnreachable ErrorKind = "unreachable"
	// KindMalformed means the appliance answered with an undecodable payload.
	KindMalformed ErrorKind = "malformed"
	// KindUnsupported means the command has no mapping on this transport.
	KindUnsupported ErrorKind = "unsupported"
)

// TransportError is the typed failure produced by every transport strategy.
type TransportError struct {
	Kind   ErrorKind
	Detail string
	Status int // upstream HTTP status, when applicable
	Cause  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *TransportError) Is(target error) bool {
	if t, ok := target.(*TransportError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Strategy executes a logical command against the managed appliance over one
// concrete wire protocol. Implementations must honor ctx deadlines on network
// I/O and fail with *TransportError.
type Strategy interface {
	// Name returns the transport identifier used in cache keys and logs.
	Name() string
	// Execute runs the command. A nil or empty params map marks a read; any
	// populated map marks a write.
	Execute(ctx context.Context, command string, params map[string]any) (Result, error)
}
