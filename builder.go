package dbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

type scopeKind byte

const (
	scopeArray scopeKind = iota
	scopeStruct
	scopeDictEntry
	scopeVariant
)

// kindOrElem carries the fields relevant to exactly one scope kind,
// per design note §9 ("pointer chains for scope stacks become a
// stack of tagged variants indexed into a contiguous vector").
type kindOrElem struct {
	kind scopeKind

	// array
	elemSig         string
	lengthOffset    int // builder only: offset of the reserved u32 length
	firstElemOffset int
	arrayLen        int // iterator only: declared element-bytes length

	// struct / dict entry / variant
	remaining string
}

// Builder accepts a sequence of typed value appends under a declared
// signature and produces a byte buffer whose content is a valid D-Bus
// argument sequence, per §4.1. It is a pushdown automaton over the
// signature: the declared signature plus the scope stack together
// determine exactly which calls are legal next (§8).
type Builder struct {
	data []byte

	topSig string
	topPos int

	scopes []kindOrElem
}

// NewBuilder returns a Builder with no declared signature; call
// SetSignature before appending any value.
func NewBuilder() *Builder {
	return &Builder{}
}

// NewBuilderWithSignature is NewBuilder followed by SetSignature.
func NewBuilderWithSignature(sig string) (*Builder, error) {
	b := NewBuilder()
	if err := b.SetSignature(sig); err != nil {
		return nil, err
	}
	return b, nil
}

// SetSignature declares the signature the builder expects to be
// filled. Legal only before any value has begun.
func (b *Builder) SetSignature(sig string) error {
	if len(b.scopes) != 0 || b.topPos != 0 {
		return fmt.Errorf("dbus: builder: cannot set signature once a value has begun")
	}
	if _, err := validateSignature(sig); err != nil {
		return fmt.Errorf("dbus: builder: invalid signature: %w", err)
	}
	b.topSig = sig
	return nil
}

// ExtendSignature appends additional complete types to the declared
// signature. Legal only while no value has begun or the previous
// complete type just closed, i.e. the scope stack is empty.
func (b *Builder) ExtendSignature(sig string) error {
	if len(b.scopes) != 0 {
		return fmt.Errorf("dbus: builder: cannot extend signature inside an open scope")
	}
	candidate := b.topSig[b.topPos:] + sig
	if _, err := validateSignature(candidate); err != nil {
		return fmt.Errorf("dbus: builder: invalid extended signature: %w", err)
	}
	b.topSig = b.topSig[:b.topPos] + candidate
	return nil
}

// Bytes returns the buffer built so far, regardless of completeness.
func (b *Builder) Bytes() []byte { return b.data }

// Finish succeeds iff the scope stack is empty and the signature
// cursor is at end, and returns the completed buffer.
func (b *Builder) Finish() ([]byte, error) {
	if len(b.scopes) != 0 {
		return nil, fmt.Errorf("dbus: builder: %d scope(s) still open", len(b.scopes))
	}
	if b.topPos != len(b.topSig) {
		return nil, fmt.Errorf("dbus: builder: signature %q not fully written (stopped at %d)", b.topSig, b.topPos)
	}
	if len(b.data) > MaxMessageLength {
		return nil, fmt.Errorf("dbus: builder: message exceeds %d bytes", MaxMessageLength)
	}
	return b.data, nil
}

func (b *Builder) current() string {
	if len(b.scopes) == 0 {
		return b.topSig[b.topPos:]
	}
	top := &b.scopes[len(b.scopes)-1]
	switch top.kind {
	case scopeArray:
		return top.elemSig
	default:
		return top.remaining
	}
}

func (b *Builder) consume(n int) {
	if len(b.scopes) == 0 {
		b.topPos += n
		return
	}
	top := &b.scopes[len(b.scopes)-1]
	switch top.kind {
	case scopeArray:
		// Element type is fixed and reused for every element;
		// the array's own width was already consumed from the
		// enclosing scope when the array was opened.
	default:
		top.remaining = top.remaining[n:]
	}
}

func (b *Builder) pad(alignment int) {
	n := padLen(len(b.data), alignment)
	for i := 0; i < n; i++ {
		b.data = append(b.data, 0)
	}
}

func (b *Builder) expect(code byte) error {
	cur := b.current()
	if len(cur) == 0 {
		return fmt.Errorf("dbus: builder: no more values expected, tried to append %q", code)
	}
	if cur[0] != code {
		return fmt.Errorf("dbus: builder: expected type %q next, got %q", cur[0], code)
	}
	return nil
}

func (b *Builder) appendFixed(code byte, align int, write func()) error {
	if err := b.expect(code); err != nil {
		return err
	}
	b.pad(align)
	write()
	b.consume(1)
	return nil
}

// AppendByte appends a u8 (signature 'y').
func (b *Builder) AppendByte(v byte) error {
	return b.appendFixed('y', 1, func() {
		b.data = append(b.data, v)
	})
}

// AppendBool appends a boolean (signature 'b'), encoded on the wire
// as a u32 that must be exactly 0 or 1.
func (b *Builder) AppendBool(v bool) error {
	return b.appendFixed('b', 4, func() {
		var u uint32
		if v {
			u = 1
		}
		b.data = appendUint32(b.data, u)
	})
}

// AppendInt16 appends an i16 (signature 'n').
func (b *Builder) AppendInt16(v int16) error {
	return b.appendFixed('n', 2, func() {
		b.data = appendUint16(b.data, uint16(v))
	})
}

// AppendUint16 appends a u16 (signature 'q').
func (b *Builder) AppendUint16(v uint16) error {
	return b.appendFixed('q', 2, func() {
		b.data = appendUint16(b.data, v)
	})
}

// AppendInt32 appends an i32 (signature 'i').
func (b *Builder) AppendInt32(v int32) error {
	return b.appendFixed('i', 4, func() {
		b.data = appendUint32(b.data, uint32(v))
	})
}

// AppendUint32 appends a u32 (signature 'u').
func (b *Builder) AppendUint32(v uint32) error {
	return b.appendFixed('u', 4, func() {
		b.data = appendUint32(b.data, v)
	})
}

// AppendInt64 appends an i64 (signature 'x').
func (b *Builder) AppendInt64(v int64) error {
	return b.appendFixed('x', 8, func() {
		b.data = appendUint64(b.data, uint64(v))
	})
}

// AppendUint64 appends a u64 (signature 't').
func (b *Builder) AppendUint64(v uint64) error {
	return b.appendFixed('t', 8, func() {
		b.data = appendUint64(b.data, v)
	})
}

// AppendFloat64 appends an f64 (signature 'd').
func (b *Builder) AppendFloat64(v float64) error {
	return b.appendFixed('d', 8, func() {
		b.data = appendUint64(b.data, math.Float64bits(v))
	})
}

// AppendString appends a UTF-8 string (signature 's'). Fails if the
// string is not valid UTF-8 or contains an embedded NUL.
func (b *Builder) AppendString(v string) error {
	if err := validateStrictUTF8([]byte(v)); err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	if containsNUL(v) {
		return fmt.Errorf("dbus: builder: string contains an embedded NUL")
	}
	return b.appendFixed('s', 4, func() {
		b.data = appendUint32(b.data, uint32(len(v)))
		b.data = append(b.data, v...)
		b.data = append(b.data, 0)
	})
}

// AppendObjectPath appends an object path (signature 'o').
func (b *Builder) AppendObjectPath(v ObjectPath) error {
	if err := ValidateObjectPath(v); err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	return b.appendFixed('o', 4, func() {
		s := string(v)
		b.data = appendUint32(b.data, uint32(len(s)))
		b.data = append(b.data, s...)
		b.data = append(b.data, 0)
	})
}

// AppendSignature appends a signature value (wire type 'g'), which is
// length-prefixed by a single byte rather than a u32.
func (b *Builder) AppendSignature(v Signature) error {
	s := string(v)
	if len(s) > 255 {
		return fmt.Errorf("dbus: builder: signature value %q exceeds 255 bytes", s)
	}
	if _, err := validateSignature(s); err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	return b.appendFixed('g', 1, func() {
		b.data = append(b.data, byte(len(s)))
		b.data = append(b.data, s...)
		b.data = append(b.data, 0)
	})
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func (b *Builder) checkDepth() error {
	if len(b.scopes) >= MaxNestingDepth {
		return fmt.Errorf("dbus: builder: nesting depth exceeds %d", MaxNestingDepth)
	}
	return nil
}

// BeginArray opens an array scope. The element type is taken from the
// signature immediately following 'a'. A reserved u32 length slot is
// emitted (to be backpatched on EndArray) followed by alignment
// padding for the element type — emitted even for an empty array,
// per §8.
func (b *Builder) BeginArray() error {
	if err := b.expect('a'); err != nil {
		return err
	}
	if err := b.checkDepth(); err != nil {
		return err
	}
	cur := b.current()
	n, err := nextCompleteType(cur)
	if err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	elemSig := cur[1:n]
	b.consume(n)

	b.pad(4)
	lengthOffset := len(b.data)
	b.data = append(b.data, 0, 0, 0, 0)
	b.pad(typeAlignment(elemSig[0]))
	firstElemOffset := len(b.data)

	b.scopes = append(b.scopes, kindOrElem{
		kind:            scopeArray,
		elemSig:         elemSig,
		lengthOffset:    lengthOffset,
		firstElemOffset: firstElemOffset,
	})
	return nil
}

// EndArray backpatches the reserved length with the number of
// element bytes written (excluding the pad before the first element),
// and checks it against the array size limit.
func (b *Builder) EndArray() error {
	top, err := b.topScope(scopeArray, "array")
	if err != nil {
		return err
	}
	length := len(b.data) - top.firstElemOffset
	if length > MaxArrayLength {
		return fmt.Errorf("dbus: builder: array payload %d bytes exceeds %d", length, MaxArrayLength)
	}
	binary.LittleEndian.PutUint32(b.data[top.lengthOffset:], uint32(length))
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nil
}

// BeginStruct opens a struct scope. Structs always align to 8
// regardless of their first field's alignment.
func (b *Builder) BeginStruct() error {
	if err := b.expect('('); err != nil {
		return err
	}
	if err := b.checkDepth(); err != nil {
		return err
	}
	cur := b.current()
	n, err := nextCompleteType(cur)
	if err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	inner := cur[1 : n-1]
	b.consume(n)
	b.pad(8)
	b.scopes = append(b.scopes, kindOrElem{kind: scopeStruct, remaining: inner})
	return nil
}

// EndStruct closes a struct scope; fails if fields are still pending.
func (b *Builder) EndStruct() error {
	top, err := b.topScope(scopeStruct, "struct")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: builder: struct closed with pending fields %q", top.remaining)
	}
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nil
}

// BeginDictEntry opens a dict-entry scope. Legal only as the current
// element of an array scope whose element type is a dict entry.
func (b *Builder) BeginDictEntry() error {
	if len(b.scopes) == 0 {
		return fmt.Errorf("dbus: builder: dict entry is only legal inside an array")
	}
	top := &b.scopes[len(b.scopes)-1]
	if top.kind != scopeArray || len(top.elemSig) == 0 || top.elemSig[0] != '{' {
		return fmt.Errorf("dbus: builder: dict entry is only legal as an array-of-dict-entry element")
	}
	if err := b.checkDepth(); err != nil {
		return err
	}
	inner := top.elemSig[1 : len(top.elemSig)-1]
	b.pad(8)
	b.scopes = append(b.scopes, kindOrElem{kind: scopeDictEntry, remaining: inner})
	return nil
}

// EndDictEntry closes a dict-entry scope; fails unless exactly the
// key and value have been appended.
func (b *Builder) EndDictEntry() error {
	top, err := b.topScope(scopeDictEntry, "dict entry")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: builder: dict entry closed with pending fields %q", top.remaining)
	}
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nil
}

// BeginVariant opens a variant scope whose single complete value has
// the given embedded signature. This is the only place the builder's
// declared signature is augmented at runtime: the active cursor
// becomes innerSig until EndVariant restores the outer cursor.
func (b *Builder) BeginVariant(innerSig Signature) error {
	if err := b.expect('v'); err != nil {
		return err
	}
	if err := validateSingleCompleteType(string(innerSig)); err != nil {
		return fmt.Errorf("dbus: builder: %w", err)
	}
	if err := b.checkDepth(); err != nil {
		return err
	}
	b.consume(1)

	s := string(innerSig)
	b.data = append(b.data, byte(len(s)))
	b.data = append(b.data, s...)
	b.data = append(b.data, 0)

	b.scopes = append(b.scopes, kindOrElem{kind: scopeVariant, remaining: s})
	return nil
}

// EndVariant closes a variant scope, restoring the outer signature
// cursor saved at BeginVariant.
func (b *Builder) EndVariant() error {
	top, err := b.topScope(scopeVariant, "variant")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: builder: variant closed without writing its value (%q pending)", top.remaining)
	}
	b.scopes = b.scopes[:len(b.scopes)-1]
	return nil
}

func (b *Builder) topScope(kind scopeKind, name string) (*kindOrElem, error) {
	if len(b.scopes) == 0 {
		return nil, fmt.Errorf("dbus: builder: no open %s scope", name)
	}
	top := &b.scopes[len(b.scopes)-1]
	if top.kind != kind {
		return nil, fmt.Errorf("dbus: builder: current scope is not a %s", name)
	}
	return top, nil
}
