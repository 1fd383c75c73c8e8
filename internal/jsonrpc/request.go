package jsonrpc

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// Validate checks if the request is valid
func (r *Request) Validate() error {
	if r.JSONRPC != Version {
		return errors.Newf("invalid jsonrpc version: %s", r.JSONRPC)
	}
	if r.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// ParseRequest parses a single JSON-RPC request from bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrap(err, "failed to parse request")
	}
	return &req, nil
}

// NewRequest creates a new JSON-RPC request.
// Params are always sent as a positional array; nil params become [].
func NewRequest(method string, params []interface{}, id ID) (*Request, error) {
	if params == nil {
		params = []interface{}{}
	}

	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}

	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsBytes,
		ID:      id,
	}, nil
}

// Bytes returns the request as JSON bytes
func (r *Request) Bytes() ([]byte, error) {
	return json.Marshal(r)
}
