package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"

	"chainfetch/internal/jsonrpc"
)

// Kind classifies a transport failure
type Kind string

const (
	// KindConnection covers dial, write, read and timeout failures
	KindConnection Kind = "connection"
	// KindHTTPStatus is a non-200 HTTP answer from the node
	KindHTTPStatus Kind = "http_status"
	// KindMalformed is a response that could not be parsed or decoded
	KindMalformed Kind = "malformed"
	// KindRPC is an error object reported by the node
	KindRPC Kind = "rpc"
	// KindEncode is a request that could not be built locally
	KindEncode Kind = "encode"
)

// Error is the uniform error returned by every Client method
type Error struct {
	Kind   Kind
	Method string
	Status int
	Body   string
	RPC    *jsonrpc.Error
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRPC:
		return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.RPC.Code, e.RPC.Message)
	case KindHTTPStatus:
		return fmt.Sprintf("%s: HTTP error %d: %s", e.Method, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Method, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e.Err == nil && e.RPC != nil {
		return e.RPC
	}
	return e.Err
}

// IsRetryable reports whether a failed call is worth repeating.
// Connection failures, throttling, 5xx answers and malformed payloads are
// transient; node errors are delegated to jsonrpc.Error.IsRetryable.
// Anything that is not a *Error, caller cancellation included, is not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var terr *Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case KindConnection, KindMalformed:
			return true
		case KindHTTPStatus:
			return terr.Status == http.StatusTooManyRequests ||
				terr.Status == http.StatusRequestTimeout ||
				terr.Status >= http.StatusInternalServerError
		case KindRPC:
			return terr.RPC.IsRetryable()
		default:
			return false
		}
	}

	return false
}

// ErrTimeout marks a node call cut short by the node's own request timeout
// while the caller's context was still live
var ErrTimeout = errors.New("node request timed out")

// requestError converts a failed exchange with the node. The caller's
// cancellation is returned as is. A client-side timeout becomes a connection
// error that no longer matches the context errors, so it stays retryable.
func requestError(ctx context.Context, method string, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return connectionError(method, errors.Wrapf(ErrTimeout, "%s: %s", msg, err.Error()))
	}
	return connectionError(method, errors.Wrap(err, msg))
}

func connectionError(method string, err error) *Error {
	return &Error{Kind: KindConnection, Method: method, Err: err}
}

func malformedError(method string, err error) *Error {
	return &Error{Kind: KindMalformed, Method: method, Err: err}
}
