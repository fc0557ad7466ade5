package dbus

import (
	"fmt"
	"reflect"
)

// headerSig is the fixed prefix every message begins with, per §6:
// endianness flag, message type, flags, protocol version, body
// length, serial, then the variable header-field array.
const headerSig = "yyyyuua(yv)"

// Message is a single D-Bus message: the fixed header, the header
// field array, and a marshalled argument body, per §3/§6. Unlike the
// teacher's Message (which stored decoded Params as []interface{}),
// Body here is the raw wire payload the Builder produced — arguments
// are appended and read through AppendArgs/Args, which drive a
// Builder/Iterator against Signature.
type Message struct {
	Type     MessageType
	Flags    MessageFlags
	Protocol byte
	Serial   uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrorName   string
	ReplySerial uint32 // 0 means absent
	Destination string
	Sender      string
	Signature   Signature

	Body []byte
}

// NewMethodCall builds a method-call message with no serial assigned
// yet (the multiplexer assigns one on send).
func NewMethodCall(path ObjectPath, iface, member string) *Message {
	return &Message{
		Type:      TypeMethodCall,
		Protocol:  ProtocolVersion,
		Path:      path,
		Interface: iface,
		Member:    member,
	}
}

// NewSignal builds a signal message.
func NewSignal(path ObjectPath, iface, member string) *Message {
	return &Message{
		Type:      TypeSignal,
		Protocol:  ProtocolVersion,
		Path:      path,
		Interface: iface,
		Member:    member,
	}
}

// NewMethodReturn builds the reply to call, copying its serial into
// ReplySerial and its sender into the reply's destination.
func NewMethodReturn(call *Message) *Message {
	return &Message{
		Type:        TypeMethodReturn,
		Protocol:    ProtocolVersion,
		ReplySerial: call.Serial,
		Destination: call.Sender,
	}
}

// NewErrorReply builds an error reply to call with the given error
// name, optionally carrying a human-readable message as its sole
// string argument (conventional but not required).
func NewErrorReply(call *Message, name, message string) *Message {
	m := &Message{
		Type:        TypeError,
		Protocol:    ProtocolVersion,
		ErrorName:   name,
		ReplySerial: call.Serial,
		Destination: call.Sender,
	}
	if message != "" {
		_ = m.AppendArgs(message)
	}
	return m
}

// AppendArgs marshals args in order into the message body, extending
// Signature to match. It is called once per message: a second call on
// a message whose body is already marshalled returns an error.
func (m *Message) AppendArgs(args ...interface{}) error {
	if len(m.Body) != 0 {
		return fmt.Errorf("dbus: message: AppendArgs called after a body was already marshalled; build all arguments in one call")
	}
	var addedSig Signature
	for _, a := range args {
		s, err := SignatureOf(a)
		if err != nil {
			return fmt.Errorf("dbus: message: %w", err)
		}
		addedSig += s
	}
	b, err := NewBuilderWithSignature(string(addedSig))
	if err != nil {
		return fmt.Errorf("dbus: message: %w", err)
	}
	if err := AppendValues(b, args...); err != nil {
		return fmt.Errorf("dbus: message: %w", err)
	}
	body, err := b.Finish()
	if err != nil {
		return fmt.Errorf("dbus: message: %w", err)
	}
	m.Signature = addedSig
	m.Body = body
	return nil
}

// Args decodes the message body into out, one value per pointer, in
// order.
func (m *Message) Args(out ...interface{}) error {
	it, err := NewIterator(m.Body, string(m.Signature))
	if err != nil {
		return fmt.Errorf("dbus: message: %w", err)
	}
	if err := ReadValues(it, out...); err != nil {
		return fmt.Errorf("dbus: message: %w", err)
	}
	return nil
}

// validate checks the required-field invariants for m.Type, per §6,
// plus the two structural checks §7 kind 2 names as canonical protocol
// violations: a protocol version other than 1, and a message type
// outside the closed set. Every failure is a *ProtocolViolation.
func (m *Message) validate() error {
	if m.Protocol != ProtocolVersion {
		return &ProtocolViolation{Reason: fmt.Sprintf("protocol version %d, want %d", m.Protocol, ProtocolVersion)}
	}
	switch m.Type {
	case TypeMethodCall:
		if m.Path == "" {
			return &ProtocolViolation{Reason: "method call is missing PATH"}
		}
		if m.Member == "" {
			return &ProtocolViolation{Reason: "method call is missing MEMBER"}
		}
	case TypeMethodReturn:
		if m.ReplySerial == 0 {
			return &ProtocolViolation{Reason: "method return is missing REPLY_SERIAL"}
		}
	case TypeError:
		if m.ErrorName == "" {
			return &ProtocolViolation{Reason: "error message is missing ERROR_NAME"}
		}
		if m.ReplySerial == 0 {
			return &ProtocolViolation{Reason: "error message is missing REPLY_SERIAL"}
		}
	case TypeSignal:
		if m.Path == "" {
			return &ProtocolViolation{Reason: "signal is missing PATH"}
		}
		if m.Interface == "" {
			return &ProtocolViolation{Reason: "signal is missing INTERFACE"}
		}
		if m.Member == "" {
			return &ProtocolViolation{Reason: "signal is missing MEMBER"}
		}
	default:
		return &ProtocolViolation{Reason: fmt.Sprintf("unknown message type %d", m.Type)}
	}
	return nil
}

// Marshal validates m and produces its full wire representation:
// fixed header, header-field array, 8-byte pad, and body.
func (m *Message) Marshal() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	hb, err := NewBuilderWithSignature(headerSig)
	if err != nil {
		return nil, err
	}
	if err := hb.AppendByte('l'); err != nil {
		return nil, err
	}
	if err := hb.AppendByte(byte(m.Type)); err != nil {
		return nil, err
	}
	if err := hb.AppendByte(byte(m.Flags)); err != nil {
		return nil, err
	}
	if err := hb.AppendByte(m.Protocol); err != nil {
		return nil, err
	}
	if err := hb.AppendUint32(uint32(len(m.Body))); err != nil {
		return nil, err
	}
	if err := hb.AppendUint32(m.Serial); err != nil {
		return nil, err
	}
	if err := hb.BeginArray(); err != nil {
		return nil, err
	}
	for _, f := range m.headerFields() {
		if err := hb.BeginStruct(); err != nil {
			return nil, err
		}
		if err := hb.AppendByte(f.code); err != nil {
			return nil, err
		}
		if err := hb.BeginVariant(f.sig); err != nil {
			return nil, err
		}
		if err := appendValue(hb, reflect.ValueOf(f.value())); err != nil {
			return nil, err
		}
		if err := hb.EndVariant(); err != nil {
			return nil, err
		}
		if err := hb.EndStruct(); err != nil {
			return nil, err
		}
	}
	if err := hb.EndArray(); err != nil {
		return nil, err
	}
	header, err := hb.Finish()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(header), len(header)+8+len(m.Body))
	copy(buf, header)
	for len(buf)%8 != 0 {
		buf = append(buf, 0)
	}
	buf = append(buf, m.Body...)
	if len(buf) > MaxMessageLength {
		return nil, fmt.Errorf("dbus: message: marshalled size %d exceeds %d", len(buf), MaxMessageLength)
	}
	return buf, nil
}

type wireHeaderField struct {
	code byte
	sig  Signature
	str  string
	u32  uint32
}

func (m *Message) headerFields() []wireHeaderField {
	var fields []wireHeaderField
	if m.Path != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldPath), sig: "o", str: string(m.Path)})
	}
	if m.Interface != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldInterface), sig: "s", str: m.Interface})
	}
	if m.Member != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldMember), sig: "s", str: m.Member})
	}
	if m.ErrorName != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldErrorName), sig: "s", str: m.ErrorName})
	}
	if m.ReplySerial != 0 {
		fields = append(fields, wireHeaderField{code: byte(fieldReplySerial), sig: "u", u32: m.ReplySerial})
	}
	if m.Destination != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldDestination), sig: "s", str: m.Destination})
	}
	if m.Sender != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldSender), sig: "s", str: m.Sender})
	}
	if m.Signature != "" {
		fields = append(fields, wireHeaderField{code: byte(fieldSignature), sig: "g", str: string(m.Signature)})
	}
	return fields
}

func (f wireHeaderField) value() interface{} {
	switch f.sig {
	case "o":
		return ObjectPath(f.str)
	case "g":
		return Signature(f.str)
	case "u":
		return f.u32
	default:
		return f.str
	}
}

// PeekMessageLength inspects the fixed header and header-field-array
// length prefix (bytes 0-15; the array length sits at offset 12 and
// the array's first element starts at 16) to compute the total wire
// size of the next
// message, without decoding the header fields or body. It reports
// ok=false, rather than an error, when fewer than 20 bytes are
// available yet — the framing a streaming reader (conn.go) needs to
// tell "not yet a full message" apart from "malformed data."
func PeekMessageLength(buf []byte) (total int, ok bool, err error) {
	if len(buf) < 20 {
		return 0, false, nil
	}
	var swapped bool
	switch buf[0] {
	case 'l':
		swapped = false
	case 'B':
		swapped = true
	default:
		return 0, false, fmt.Errorf("dbus: unmarshal: unknown endianness flag %q", buf[0])
	}
	readU32 := func(off int) uint32 {
		b := buf[off : off+4]
		if swapped {
			return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	}
	bodyLength := readU32(4)
	fieldsLength := readU32(12)
	if bodyLength > MaxMessageLength || fieldsLength > MaxMessageLength {
		return 0, false, fmt.Errorf("dbus: unmarshal: declared length exceeds %d", MaxMessageLength)
	}
	headerEnd := 16 + int(fieldsLength)
	bodyStart := headerEnd + padLen(headerEnd, 8)
	total = bodyStart + int(bodyLength)
	if total > MaxMessageLength {
		return 0, false, fmt.Errorf("dbus: unmarshal: total message size %d exceeds %d", total, MaxMessageLength)
	}
	return total, true, nil
}

// UnmarshalMessage parses one complete message from the front of buf,
// returning the decoded Message and the number of bytes consumed.
// Non-native byte order is flipped in bulk (header first, then body
// once its signature is known) per swap.go's single-pass design.
func UnmarshalMessage(buf []byte) (*Message, int, error) {
	if len(buf) < 16 {
		return nil, 0, fmt.Errorf("dbus: unmarshal: buffer shorter than the fixed header")
	}
	var swapped bool
	switch buf[0] {
	case 'l':
		swapped = false
	case 'B':
		swapped = true
	default:
		return nil, 0, fmt.Errorf("dbus: unmarshal: unknown endianness flag %q", buf[0])
	}
	if swapped {
		if _, err := swapMessageBody(headerSig, buf, 0); err != nil {
			return nil, 0, fmt.Errorf("dbus: unmarshal: %w", err)
		}
	}

	it, err := NewIterator(buf, headerSig)
	if err != nil {
		return nil, 0, err
	}
	if _, err := it.NextByte(); err != nil { // endianness flag, already consumed above
		return nil, 0, err
	}
	mtype, err := it.NextByte()
	if err != nil {
		return nil, 0, err
	}
	flags, err := it.NextByte()
	if err != nil {
		return nil, 0, err
	}
	protocol, err := it.NextByte()
	if err != nil {
		return nil, 0, err
	}
	bodyLength, err := it.NextUint32()
	if err != nil {
		return nil, 0, err
	}
	if bodyLength > MaxMessageLength {
		return nil, 0, fmt.Errorf("dbus: unmarshal: body length %d exceeds %d", bodyLength, MaxMessageLength)
	}
	serial, err := it.NextUint32()
	if err != nil {
		return nil, 0, err
	}

	m := &Message{
		Type:     MessageType(mtype),
		Flags:    MessageFlags(flags),
		Protocol: protocol,
		Serial:   serial,
	}

	elemSig, err := it.EnterArray()
	if err != nil {
		return nil, 0, err
	}
	if elemSig != "(yv)" {
		return nil, 0, fmt.Errorf("dbus: unmarshal: unexpected header field array element type %q", elemSig)
	}
	for {
		more, err := it.InArray()
		if err != nil {
			return nil, 0, err
		}
		if !more {
			break
		}
		if err := it.EnterStruct(); err != nil {
			return nil, 0, err
		}
		code, err := it.NextByte()
		if err != nil {
			return nil, 0, err
		}
		if _, err := it.EnterVariant(); err != nil {
			return nil, 0, err
		}
		switch headerFieldCode(code) {
		case fieldPath:
			v, err := it.NextObjectPath()
			if err != nil {
				return nil, 0, err
			}
			m.Path = v
		case fieldInterface:
			v, err := it.NextString()
			if err != nil {
				return nil, 0, err
			}
			m.Interface = v
		case fieldMember:
			v, err := it.NextString()
			if err != nil {
				return nil, 0, err
			}
			m.Member = v
		case fieldErrorName:
			v, err := it.NextString()
			if err != nil {
				return nil, 0, err
			}
			m.ErrorName = v
		case fieldReplySerial:
			v, err := it.NextUint32()
			if err != nil {
				return nil, 0, err
			}
			m.ReplySerial = v
		case fieldDestination:
			v, err := it.NextString()
			if err != nil {
				return nil, 0, err
			}
			m.Destination = v
		case fieldSender:
			v, err := it.NextString()
			if err != nil {
				return nil, 0, err
			}
			m.Sender = v
		case fieldSignature:
			v, err := it.NextSignature()
			if err != nil {
				return nil, 0, err
			}
			m.Signature = v
		default:
			if err := it.SkipValue(); err != nil {
				return nil, 0, err
			}
		}
		if err := it.ExitVariant(); err != nil {
			return nil, 0, err
		}
		if err := it.ExitStruct(); err != nil {
			return nil, 0, err
		}
	}
	if err := it.ExitArray(); err != nil {
		return nil, 0, err
	}

	headerEnd := it.pos
	bodyStart := headerEnd + padLen(headerEnd, 8)
	bodyEnd := bodyStart + int(bodyLength)
	if bodyEnd > len(buf) {
		return nil, 0, fmt.Errorf("dbus: unmarshal: buffer shorter than declared body length")
	}
	if swapped && bodyLength > 0 {
		if _, err := swapMessageBody(string(m.Signature), buf, bodyStart); err != nil {
			return nil, 0, fmt.Errorf("dbus: unmarshal: %w", err)
		}
	}
	m.Body = buf[bodyStart:bodyEnd]

	if err := m.validate(); err != nil {
		return nil, 0, fmt.Errorf("dbus: unmarshal: %w", err)
	}
	return m, bodyEnd, nil
}
