package dbus

import "fmt"

// Size and depth limits from the D-Bus specification, reproduced here
// because the codec enforces them at every boundary rather than
// trusting callers.
const (
	MaxArrayLength   = 1 << 26 // maximum array payload, in bytes
	MaxMessageLength = 1 << 27 // maximum total marshalled message size
	MaxSignatureLen  = 255     // maximum signature length, in bytes
	MaxNestingDepth  = 32      // maximum combined array/struct/variant nesting
	MaxNameLength    = 255     // maximum interface/member/bus name length
)

// Signature is a D-Bus type signature: a string drawn from the closed
// alphabet "ybnqiuxtdsogav(){}" that, when balanced, denotes a
// sequence of complete types.
type Signature string

// ObjectPath is a D-Bus object path, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// Variant is a self-describing value: its own embedded signature plus
// exactly one complete value of that signature.
type Variant struct {
	Sig   Signature
	Value interface{}
}

func (v Variant) String() string {
	return fmt.Sprintf("@%s %v", v.Sig, v.Value)
}

// MessageType is the kind of a D-Bus message.
type MessageType byte

const (
	TypeInvalid MessageType = iota
	TypeMethodCall
	TypeMethodReturn
	TypeError
	TypeSignal
)

var messageTypeNames = [...]string{
	TypeInvalid:      "invalid",
	TypeMethodCall:   "method_call",
	TypeMethodReturn: "method_return",
	TypeError:        "error",
	TypeSignal:       "signal",
}

func (t MessageType) String() string {
	if int(t) < len(messageTypeNames) {
		return messageTypeNames[t]
	}
	return "unknown"
}

// MessageFlags are the bit flags carried in a message header.
type MessageFlags byte

const (
	FlagNoReplyExpected MessageFlags = 1 << iota
	FlagNoAutoStart
)

// ProtocolVersion is the only D-Bus wire protocol version this
// package understands.
const ProtocolVersion = 1

// headerField is the closed set of header field codes, §6.
type headerFieldCode byte

const (
	fieldPath headerFieldCode = iota + 1
	fieldInterface
	fieldMember
	fieldErrorName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
)

// well-known bus daemon coordinates, used by the Hello handshake and
// by higher layers (namewatch, proxy) that talk to the daemon itself.
const (
	BusDaemonName      = "org.freedesktop.DBus"
	BusDaemonPath      = ObjectPath("/org/freedesktop/DBus")
	BusDaemonInterface = "org.freedesktop.DBus"
)

// Well-known error names the multiplexer itself may emit, §6/§7.
const (
	ErrorUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	ErrorInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorFailed        = "org.freedesktop.DBus.Error.Failed"
	ErrorNoReply       = "org.freedesktop.DBus.Error.NoReply"
)

// ErrInvalidArgs is the sentinel a method-call handler may return (or
// wrap) to have the multiplexer synthesize a stock InvalidArgs error
// reply instead of duplicating argument-shape validation in every
// handler, per §4.4's "argument-error convenience".
var ErrInvalidArgs = &Error{Name: ErrorInvalidArgs, Message: "invalid arguments"}

// Error is a local error a method-call handler returns to shape the
// outgoing error reply (kind 4 in §7). Incoming error replies are not
// decoded into it; they surface as *RemoteError.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// NewError builds a remote-style error value for use as a handler
// return or a test fixture.
func NewError(name, message string) *Error {
	return &Error{Name: name, Message: message}
}
