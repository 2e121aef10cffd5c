// Package dispatch ties the pieces together: it decodes JSON-RPC envelopes,
// binds a security context, checks authorization, runs operations through the
// gateway, and writes audit records.
package dispatch

import "encoding/json"

// jsonRPCVersion is the only accepted envelope version.
const jsonRPCVersion = "2.0"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeServerError    = -32000
)

// Request is an incoming JSON-RPC envelope. The id is kept raw so whatever
// value the caller sent comes back verbatim.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is an outgoing JSON-RPC envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// ResponseError is the error member of a failed response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// callParams are the params of call-operation.
type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// resolveParams are the params of resolve-intent.
type resolveParams struct {
	Text string `json:"text"`
}

func successResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: jsonRPCVersion, Result: result, ID: id}
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: jsonRPCVersion,
		Error:   &ResponseError{Code: code, Message: message},
		ID:      id,
	}
}
