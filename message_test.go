package dbus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	msg := NewMethodCall("/org/freedesktop/DBus", "org.freedesktop.DBus", "NameHasOwner")
	msg.Destination = "org.freedesktop.DBus"
	msg.Serial = 1
	if err := msg.AppendArgs("xyz"); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}

	buf, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, consumed, err := UnmarshalMessage(buf)
	if err != nil {
		t.Fatalf("UnmarshalMessage: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed %d bytes, want %d", consumed, len(buf))
	}
	if got.Type != TypeMethodCall {
		t.Errorf("Type = %v, want %v", got.Type, TypeMethodCall)
	}
	if got.Path != msg.Path || got.Interface != msg.Interface || got.Member != msg.Member {
		t.Errorf("got path/iface/member %q/%q/%q, want %q/%q/%q",
			got.Path, got.Interface, got.Member, msg.Path, msg.Interface, msg.Member)
	}
	if got.Destination != msg.Destination {
		t.Errorf("Destination = %q, want %q", got.Destination, msg.Destination)
	}
	if got.Signature != "s" {
		t.Errorf("Signature = %q, want %q", got.Signature, "s")
	}
	var s string
	if err := got.Args(&s); err != nil {
		t.Fatalf("Args: %v", err)
	}
	if s != "xyz" {
		t.Errorf("arg = %q, want %q", s, "xyz")
	}
}

func TestMessageMethodReturnAndErrorRoundTrip(t *testing.T) {
	call := NewMethodCall("/a", "a.b", "C")
	call.Serial = 9
	call.Sender = ":1.2"

	ret := NewMethodReturn(call)
	ret.Serial = 10
	if err := ret.AppendArgs(int32(42)); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	buf, err := ret.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, _, err := UnmarshalMessage(buf)
	if err != nil {
		t.Fatalf("UnmarshalMessage: %v", err)
	}
	if got.Type != TypeMethodReturn || got.ReplySerial != 9 {
		t.Errorf("got type %v replySerial %d, want %v 9", got.Type, got.ReplySerial, TypeMethodReturn)
	}

	errReply := NewErrorReply(call, "com.example.Failed", "bad input")
	errReply.Serial = 11
	buf, err = errReply.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, _, err = UnmarshalMessage(buf)
	if err != nil {
		t.Fatalf("UnmarshalMessage: %v", err)
	}
	if got.Type != TypeError || got.ErrorName != "com.example.Failed" || got.ReplySerial != 9 {
		t.Errorf("got type %v name %q replySerial %d", got.Type, got.ErrorName, got.ReplySerial)
	}
}

func TestMessageValidateRequiredFields(t *testing.T) {
	m := &Message{Type: TypeMethodCall, Protocol: ProtocolVersion, Serial: 1}
	if _, err := m.Marshal(); err == nil {
		t.Error("expected Marshal to reject a method call with no PATH/MEMBER")
	}

	sig := &Message{Type: TypeSignal, Protocol: ProtocolVersion, Serial: 1, Path: "/a"}
	if _, err := sig.Marshal(); err == nil {
		t.Error("expected Marshal to reject a signal with no INTERFACE/MEMBER")
	}
}

func TestMessageUnmarshalRejectsWrongProtocolVersion(t *testing.T) {
	call := NewMethodCall("/a", "com.example.Iface", "Ping")
	call.Serial = 1
	buf, err := call.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[3] = ProtocolVersion + 1 // protocol version byte, per the fixed header layout

	_, _, err = UnmarshalMessage(buf)
	if err == nil {
		t.Fatal("expected UnmarshalMessage to reject a message with the wrong protocol version")
	}
	var pv *ProtocolViolation
	if !errors.As(err, &pv) {
		t.Errorf("UnmarshalMessage error = %v, want it to unwrap to a *ProtocolViolation", err)
	}
}

func TestPeekMessageLengthNeedsMoreBytes(t *testing.T) {
	if total, ok, err := PeekMessageLength(nil); ok || err != nil || total != 0 {
		t.Errorf("PeekMessageLength(nil) = (%d, %v, %v), want (0, false, nil)", total, ok, err)
	}
	if total, ok, err := PeekMessageLength(make([]byte, 19)); ok || err != nil || total != 0 {
		t.Errorf("PeekMessageLength(19 bytes) = (%d, %v, %v), want (0, false, nil)", total, ok, err)
	}
}

func TestPeekMessageLengthMatchesWireSize(t *testing.T) {
	msg := NewMethodCall("/a", "a.b", "C")
	msg.Serial = 1
	if err := msg.AppendArgs("hello", int32(5)); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	buf, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	total, ok, err := PeekMessageLength(buf)
	if err != nil {
		t.Fatalf("PeekMessageLength: %v", err)
	}
	if !ok {
		t.Fatal("PeekMessageLength reported not-enough-bytes on a complete message")
	}
	if total != len(buf) {
		t.Errorf("total = %d, want %d", total, len(buf))
	}

	// Trimmed by one byte: not yet enough data to frame the message.
	total, ok, err = PeekMessageLength(buf[:len(buf)-1])
	if err != nil {
		t.Fatalf("PeekMessageLength on truncated buffer: %v", err)
	}
	if !ok {
		t.Fatal("PeekMessageLength on a truncated buffer should still report the declared total once 20 bytes are present")
	}
	if total != len(buf) {
		t.Errorf("total on truncated buffer = %d, want %d (caller compares against len(buf) itself)", total, len(buf))
	}
}

func TestPeekMessageLengthRejectsUnknownEndianness(t *testing.T) {
	buf := make([]byte, 20)
	buf[0] = 'x'
	if _, _, err := PeekMessageLength(buf); err == nil {
		t.Error("expected an error for an unrecognized endianness flag")
	}
}

func TestMessageArgsDecodesMultiple(t *testing.T) {
	msg := NewSignal("/a", "a.b", "Changed")
	if err := msg.AppendArgs("name", int32(7)); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	var name string
	var n int32
	if err := msg.Args(&name, &n); err != nil {
		t.Fatalf("Args: %v", err)
	}
	if diff := cmp.Diff([]interface{}{"name", int32(7)}, []interface{}{name, n}); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
