package fetcher

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"chainfetch/internal/gate"
	"chainfetch/internal/transport"
)

// Kind classifies a failed fetcher call
type Kind string

const (
	// KindTransport covers connection failures, bad HTTP statuses and malformed responses
	KindTransport Kind = "transport"
	// KindRPC is an error object reported by the node
	KindRPC Kind = "rpc"
	// KindGateClosed means the fetcher was closed while the call waited for admission
	KindGateClosed Kind = "gate_closed"
	// KindCanceled means the caller's context was cancelled or timed out
	KindCanceled Kind = "canceled"
)

// Error is returned by every Fetcher operation
type Error struct {
	// Op is the RPC method of the call
	Op   string
	Kind Kind
	// Attempts is the number of times the node was called; 0 if never admitted
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error after %d attempt(s): %v", e.Op, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, attempts int, err error) *Error {
	return &Error{Op: op, Kind: classify(err), Attempts: attempts, Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, gate.ErrClosed) {
		return KindGateClosed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	var terr *transport.Error
	if errors.As(err, &terr) && terr.Kind == transport.KindRPC {
		return KindRPC
	}
	return KindTransport
}

// IsKind reports whether err is a fetcher *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var ferr *Error
	return errors.As(err, &ferr) && ferr.Kind == kind
}
