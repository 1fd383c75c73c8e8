package jsonrpc

import (
	"bytes"
	"encoding/json"
)

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

// HasError returns true if the response contains an error
func (r *Response) HasError() bool {
	return r.Error != nil
}

// ResultIsNull returns true if the response result is JSON null
func (r *Response) ResultIsNull() bool {
	if r == nil {
		return true
	}
	if len(r.Result) == 0 {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(r.Result), []byte("null"))
}

// NewResponse creates a successful response
func NewResponse(id ID, result interface{}) (*Response, error) {
	resp := &Response{
		JSONRPC: Version,
		ID:      id,
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp.Result = resultBytes

	return resp, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{
		JSONRPC: Version,
		Error:   err,
		ID:      id,
	}
}

// ParseResponse parses a JSON-RPC response from bytes
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bytes returns the response as JSON bytes
func (r *Response) Bytes() ([]byte, error) {
	return json.Marshal(r)
}

// IsRetryableError checks if the error is retryable
func (r *Response) IsRetryableError() bool {
	return r.Error.IsRetryable()
}

// DecodeResult unmarshals the result into v.
// A null or missing result leaves v untouched.
func (r *Response) DecodeResult(v interface{}) error {
	if r.ResultIsNull() {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}
