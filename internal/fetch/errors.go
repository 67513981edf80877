package fetch

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by an operation a transport does not
// implement (e.g. SubscribeHeaders on a transport with no push channel).
var ErrUnsupported = errors.New("fetch: operation not supported by this transport")

// ConnectError wraps a failed connection attempt (§7 ConnectError).
// Retryable.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("fetch: connect failed: %v", e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// DisconnectedError reports that the connection was lost mid-request (§7
// Disconnected). Retryable.
type DisconnectedError struct {
	Err error
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("fetch: connection closed: %v", e.Err)
}
func (e *DisconnectedError) Unwrap() error { return e.Err }

// TimeoutError reports a request that exceeded its deadline (§7 Timeout).
// Retryable.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("fetch: %s timed out", e.Op) }

// ProtocolInvariantViolation reports a malformed or invariant-breaking
// server response: non-advancing next_height, wrong magic, bad checksum,
// a header batch shorter than the protocol guarantees (§7). Fatal to the
// current sync attempt; the caller retries on the next cycle, not
// mid-batch.
type ProtocolInvariantViolation struct {
	Reason string
}

func (e *ProtocolInvariantViolation) Error() string {
	return fmt.Sprintf("fetch: protocol invariant violated: %s", e.Reason)
}

// IsRetryable reports whether err is one of the transient categories §5
// names as eligible for the exponential-backoff retry policy: timeout,
// connection closed, disconnection. ProtocolInvariantViolation and any
// other error are not retried by WithRetry.
func IsRetryable(err error) bool {
	var connectErr *ConnectError
	var disconnectedErr *DisconnectedError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &connectErr):
		return true
	case errors.As(err, &disconnectedErr):
		return true
	case errors.As(err, &timeoutErr):
		return true
	default:
		return false
	}
}
