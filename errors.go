package dbus

import "fmt"

// The five propagating error kinds from §7, each a distinct type so
// callers can discriminate with errors.As rather than string
// matching. ParseError and ProtocolViolation share disposition
// (connection teardown) but are kept distinct because only the former
// can occur before a message header is even known to be well formed.

// ParseError reports malformed wire bytes: bad alignment, an invalid
// signature character, a UTF-8 failure, an unterminated string, or
// path/name syntax rejected during decode. Always fatal to the
// connection it occurred on.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dbus: parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("dbus: parse error: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProtocolViolation reports a structurally valid message that is
// semantically illegal: a method-call without a path, a protocol
// version other than 1, a message type outside the closed set. Also
// fatal to the connection.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("dbus: protocol violation: %s", e.Reason)
}

// RemoteError wraps an incoming error-kind message, surfaced to the
// caller that registered the reply handler for its reply-serial. It
// does not affect the connection.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// remoteErrorFromMessage extracts a RemoteError from an error-kind
// message, reading its first string argument as the message text if
// present.
func remoteErrorFromMessage(msg *Message) *RemoteError {
	re := &RemoteError{Name: msg.ErrorName}
	var text string
	if msg.Args(&text) == nil {
		re.Message = text
	}
	return re
}

// SendError reports a failure from the transport's send callback.
// Fatal to the connection; pending replies are notified.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("dbus: send failed: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// AuthError reports a rejected or timed-out SASL handshake. The
// connection never reaches the ready state.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("dbus: authentication failed: %s", e.Reason) }

// disconnectedError is the teardown reason recorded when a connection
// is closed explicitly or its transport read fails. Pending reply
// registrations are not handed this value: they receive a RemoteError
// named ErrorFailed whose message is the reason's text.
type disconnectedError struct{ reason string }

func (e *disconnectedError) Error() string { return "dbus: connection closed: " + e.reason }

// ErrDisconnected is the disconnectedError value used by Close and by
// a failed transport read, and returned by sends on a closed
// connection.
var ErrDisconnected = &disconnectedError{reason: "closed"}

// ErrUnblocked is returned from a blocked call that was released via
// PendingCall.Unblock rather than by its awaited condition, per §4.4's
// "unblocked" outcome distinct from "reply-arrived".
var ErrUnblocked = fmt.Errorf("dbus: blocked call released by unblock")
