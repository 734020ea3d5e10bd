package domain

import (
	"encoding/json"
	"errors"
)

// JSONRPCVersion is the only accepted envelope version.
const JSONRPCVersion = "2.0"

// ProtocolVersion is the MCP revision the server negotiates.
const ProtocolVersion = "2024-11-05"

// JSON-RPC wire error codes.
const (
	WireParseError     = -32700
	WireInvalidRequest = -32600
	WireMethodNotFound = -32601
	WireInvalidParams  = -32602
	WireInternalError  = -32603
)

// Request is one inbound JSON-RPC message. A nil ID marks a
// notification, which never gets a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is one outbound JSON-RPC message. Exactly one of Result
// and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the JSON-RPC error object.
type WireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// NewResponse marshals result into a success response.
func NewResponse(id json.RawMessage, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: JSONRPCVersion, ID: normalizeID(id), Result: raw}, nil
}

// NewErrorResponse builds an error response from a wire code.
func NewErrorResponse(id json.RawMessage, code int, message string) Response {
	return Response{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Error:   &WireError{Code: code, Message: message},
	}
}

// ResponseFromError maps a domain error chain to a structured wire
// error. Unrecognized errors surface as internal errors with the
// original message preserved.
func ResponseFromError(id json.RawMessage, err error) Response {
	return NewErrorResponse(id, WireCodeFrom(err), err.Error())
}

// WireCodeFrom maps a domain error chain to its JSON-RPC error code.
func WireCodeFrom(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return WireInvalidRequest
	case errors.Is(err, ErrMethodNotFound), errors.Is(err, ErrToolNotFound),
		errors.Is(err, ErrResourceNotFound), errors.Is(err, ErrServerNotFound),
		errors.Is(err, ErrAgentNotFound):
		return WireMethodNotFound
	case errors.Is(err, ErrInvalidParams):
		return WireInvalidParams
	default:
		return WireInternalError
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
