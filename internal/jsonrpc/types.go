package jsonrpc

import (
	"encoding/json"
	"strings"
)

// Version is the JSON-RPC version
const Version = "2.0"

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// Server error codes range: -32000 to -32099
	CodeServerError = -32000

	// Non-standard code used by several providers for "limit exceeded"
	CodeLimitExceeded = -32005
)

// ID represents a JSON-RPC request/response ID
// It can be a string, number, or null
type ID struct {
	value interface{}
}

// NewIDInt creates an ID from an integer
func NewIDInt(n int64) ID {
	return ID{value: n}
}

// NewIDNull creates a null ID
func NewIDNull() ID {
	return ID{value: nil}
}

// IsNull returns true if the ID is null
func (id ID) IsNull() bool {
	return id.value == nil
}

// Int64 returns the numeric value of the ID.
// Numbers decoded from JSON arrive as float64, so both forms are accepted.
func (id ID) Int64() (int64, bool) {
	switch v := id.value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &id.value)
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// IsRetryable reports whether the node error is worth retrying.
// By default, ALL errors are retryable except for client errors
// (parse error, invalid request, invalid params) and execution errors.
// MethodNotFound stays retryable: load-balanced endpoints may route to
// nodes with different method sets.
func (e *Error) IsRetryable() bool {
	if e == nil {
		return false
	}

	switch e.Code {
	case CodeParseError, CodeInvalidRequest, CodeInvalidParams:
		return false
	}

	msg := strings.ToLower(e.Message)
	for _, permanent := range nonRetryableMessages {
		if strings.Contains(msg, permanent) {
			return false
		}
	}

	return true
}

// nonRetryableMessages are logical errors in the request, not node issues
var nonRetryableMessages = []string{
	"execution reverted",
	"invalid argument",
	"unknown block",
	"invalid block range",
}

// NewError creates a new JSON-RPC error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Common errors
var (
	ErrParse          = NewError(CodeParseError, "Parse error")
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found")
	ErrInvalidParams  = NewError(CodeInvalidParams, "Invalid params")
	ErrInternal       = NewError(CodeInternalError, "Internal error")
)
