package fetch

import (
	"errors"
	"testing"
)

func TestConnectError_Unwrap(t *testing.T) {
	inner := errors.New("dial refused")
	err := &ConnectError{Err: inner}
	if !errors.Is(err, inner) {
		t.Error("ConnectError should unwrap to its inner error")
	}
}

func TestDisconnectedError_Unwrap(t *testing.T) {
	inner := errors.New("eof")
	err := &DisconnectedError{Err: inner}
	if !errors.Is(err, inner) {
		t.Error("DisconnectedError should unwrap to its inner error")
	}
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Op: "chain_tip_height"}
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}

func TestProtocolInvariantViolation_Message(t *testing.T) {
	err := &ProtocolInvariantViolation{Reason: "non-advancing next_height"}
	if err.Error() == "" {
		t.Error("expected a non-empty message")
	}
}
