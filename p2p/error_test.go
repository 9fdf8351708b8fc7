package p2p

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestErrorCodeOf(t *testing.T) {
	if ErrorCodeOf(nil) != Success {
		t.Error("nil should be success")
	}

	err := newNetworkError(TopicNotFound, "topic %s", "hello")
	if ErrorCodeOf(err) != TopicNotFound {
		t.Errorf("wrong code %s", ErrorCodeOf(err))
	}
	if err.Error() != "topic not found: topic hello" {
		t.Errorf("wrong message %q", err.Error())
	}

	wrapped := pkgerrors.Wrap(err, "send")
	if ErrorCodeOf(wrapped) != TopicNotFound {
		t.Errorf("code should survive wrapping, got %s", ErrorCodeOf(wrapped))
	}

	if ErrorCodeOf(errors.New("other")) != ProtocolError {
		t.Error("foreign errors map to ProtocolError")
	}
}

func TestDisconnectError(t *testing.T) {
	err := newDisconnectError(DiscDuplicatePeer)
	if ErrorCodeOf(err) != DuplicateSession {
		t.Errorf("duplicate peer should map to DuplicateSession, got %s", ErrorCodeOf(err))
	}

	reason, ok := DiscReasonOf(pkgerrors.Wrap(err, "drop"))
	if !ok || reason != DiscDuplicatePeer {
		t.Errorf("wrong reason %v %v", reason, ok)
	}

	if ErrorCodeOf(newDisconnectError(DiscTCPError)) != Disconnect {
		t.Error("tcp error should map to Disconnect")
	}
	if ErrorCodeOf(newDisconnectError(DiscBadProtocol)) != ProtocolError {
		t.Error("bad protocol should map to ProtocolError")
	}

	if _, ok = DiscReasonOf(newNetworkError(Disconnect, "")); ok {
		t.Error("plain network error carries no reason")
	}
}

func TestDiscReason_String(t *testing.T) {
	if DiscIdleTimeout.String() != "idle timeout" {
		t.Error(DiscIdleTimeout.String())
	}
	if DiscReason(0x20).String() != "unknown disconnect reason 32" {
		t.Error(DiscReason(0x20).String())
	}
	if ErrorCode(100).String() != "unknown error code 100" {
		t.Error(ErrorCode(100).String())
	}
}
