// Package errors provides structured error handling with stable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Envelope errors
	CodeParse          Code = "PARSE_ERROR"
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeMethodNotFound Code = "METHOD_NOT_FOUND"
	CodeInvalidParams  Code = "INVALID_PARAMS"
	CodeInternal       Code = "INTERNAL_ERROR"

	// Authorization errors
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeContextInvalid   Code = "SECURITY_CONTEXT_INVALID"

	// Transport errors
	CodeTransportUnauthorized Code = "TRANSPORT_UNAUTHORIZED"
	CodeTransportNotFound     Code = "TRANSPORT_NOT_FOUND"
	CodeTransportUnreachable  Code = "TRANSPORT_UNREACHABLE"
	CodeTransportMalformed    Code = "TRANSPORT_MALFORMED"
	CodeTransportUnsupported  Code = "TRANSPORT_UNSUPPORTED"

	// Storage errors
	CodeAuditUnavailable Code = "AUDIT_UNAVAILABLE"
)
