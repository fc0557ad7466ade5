package dbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Iterator walks a validated byte buffer against a signature,
// yielding typed values, per §4.2. By the time an Iterator runs, the
// buffer is always in native byte order — non-native messages are
// byte-flipped once, in bulk, right after header extraction (see
// message.go), so next_* never branches on endianness.
type Iterator struct {
	data []byte
	pos  int

	topSig string
	topPos int

	scopes []kindOrElem
}

// NewIterator returns an Iterator over data, starting at byte offset
// 0, expecting values matching sig.
func NewIterator(data []byte, sig string) (*Iterator, error) {
	if _, err := validateSignature(sig); err != nil {
		return nil, fmt.Errorf("dbus: iterator: invalid signature: %w", err)
	}
	return &Iterator{data: data, topSig: sig}, nil
}

func (it *Iterator) current() string {
	if len(it.scopes) == 0 {
		return it.topSig[it.topPos:]
	}
	top := &it.scopes[len(it.scopes)-1]
	switch top.kind {
	case scopeArray:
		return top.elemSig
	default:
		return top.remaining
	}
}

func (it *Iterator) consume(n int) {
	if len(it.scopes) == 0 {
		it.topPos += n
		return
	}
	top := &it.scopes[len(it.scopes)-1]
	switch top.kind {
	case scopeArray:
	default:
		top.remaining = top.remaining[n:]
	}
}

// Done reports whether the iterator has consumed every value at the
// top level (no more complete types are expected and no scope is
// open).
func (it *Iterator) Done() bool {
	return len(it.scopes) == 0 && it.topPos == len(it.topSig)
}

// InArray reports whether another array element is available to
// read, used to drive a read loop: `for it.InArray() { ... }`.
func (it *Iterator) InArray() (bool, error) {
	top, err := it.topScope(scopeArray, "array")
	if err != nil {
		return false, err
	}
	return it.pos < top.firstElemOffset+top.arrayLen, nil
}

func (it *Iterator) align(alignment int) error {
	n := padLen(it.pos, alignment)
	if it.pos+n > len(it.data) {
		return fmt.Errorf("dbus: iterator: truncated buffer at alignment padding")
	}
	for i := 0; i < n; i++ {
		if it.data[it.pos+i] != 0 {
			return fmt.Errorf("dbus: iterator: non-zero alignment padding at offset %d", it.pos+i)
		}
	}
	it.pos += n
	return nil
}

func (it *Iterator) need(n int) error {
	if it.pos+n > len(it.data) {
		return fmt.Errorf("dbus: iterator: need %d bytes at offset %d, only %d available", n, it.pos, len(it.data))
	}
	return nil
}

func (it *Iterator) expect(code byte) error {
	cur := it.current()
	if len(cur) == 0 {
		return fmt.Errorf("dbus: iterator: no more values expected, tried to read %q", code)
	}
	if cur[0] != code {
		return fmt.Errorf("dbus: iterator: expected type %q next, got %q", cur[0], code)
	}
	return nil
}

func (it *Iterator) readFixed(code byte, align, size int) ([]byte, error) {
	if err := it.expect(code); err != nil {
		return nil, err
	}
	if err := it.align(align); err != nil {
		return nil, err
	}
	if err := it.need(size); err != nil {
		return nil, err
	}
	b := it.data[it.pos : it.pos+size]
	it.pos += size
	it.consume(1)
	return b, nil
}

// NextByte reads a u8 (signature 'y').
func (it *Iterator) NextByte() (byte, error) {
	b, err := it.readFixed('y', 1, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// NextBool reads a boolean (signature 'b'); fails if the wire value
// is not exactly 0 or 1.
func (it *Iterator) NextBool() (bool, error) {
	b, err := it.readFixed('b', 4, 4)
	if err != nil {
		return false, err
	}
	v := binary.LittleEndian.Uint32(b)
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("dbus: iterator: boolean value %d is not 0 or 1", v)
	}
}

// NextInt16 reads an i16 (signature 'n').
func (it *Iterator) NextInt16() (int16, error) {
	b, err := it.readFixed('n', 2, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

// NextUint16 reads a u16 (signature 'q').
func (it *Iterator) NextUint16() (uint16, error) {
	b, err := it.readFixed('q', 2, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// NextInt32 reads an i32 (signature 'i').
func (it *Iterator) NextInt32() (int32, error) {
	b, err := it.readFixed('i', 4, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// NextUint32 reads a u32 (signature 'u').
func (it *Iterator) NextUint32() (uint32, error) {
	b, err := it.readFixed('u', 4, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// NextInt64 reads an i64 (signature 'x').
func (it *Iterator) NextInt64() (int64, error) {
	b, err := it.readFixed('x', 8, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// NextUint64 reads a u64 (signature 't').
func (it *Iterator) NextUint64() (uint64, error) {
	b, err := it.readFixed('t', 8, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// NextFloat64 reads an f64 (signature 'd').
func (it *Iterator) NextFloat64() (float64, error) {
	b, err := it.readFixed('d', 8, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// readLengthPrefixedString reads a u32-length-prefixed, NUL-terminated
// string, validates the trailing NUL and strict UTF-8, per §4.2.
func (it *Iterator) readLengthPrefixedString(code byte) (string, error) {
	if err := it.expect(code); err != nil {
		return "", err
	}
	if err := it.align(4); err != nil {
		return "", err
	}
	if err := it.need(4); err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint32(it.data[it.pos:])
	it.pos += 4
	if err := it.need(int(length) + 1); err != nil {
		return "", err
	}
	content := it.data[it.pos : it.pos+int(length)]
	if it.data[it.pos+int(length)] != 0 {
		return "", fmt.Errorf("dbus: iterator: string is not NUL-terminated")
	}
	it.pos += int(length) + 1
	if err := validateStrictUTF8(content); err != nil {
		return "", fmt.Errorf("dbus: iterator: %w", err)
	}
	it.consume(1)
	return string(content), nil
}

// NextString reads a UTF-8 string (signature 's').
func (it *Iterator) NextString() (string, error) {
	return it.readLengthPrefixedString('s')
}

// NextObjectPath reads an object path (signature 'o'), validating
// syntax after the UTF-8 check.
func (it *Iterator) NextObjectPath() (ObjectPath, error) {
	s, err := it.readLengthPrefixedString('o')
	if err != nil {
		return "", err
	}
	if err := ValidateObjectPath(ObjectPath(s)); err != nil {
		return "", fmt.Errorf("dbus: iterator: %w", err)
	}
	return ObjectPath(s), nil
}

// NextSignature reads a signature value (wire type 'g'), which is
// length-prefixed by a single byte.
func (it *Iterator) NextSignature() (Signature, error) {
	if err := it.expect('g'); err != nil {
		return "", err
	}
	if err := it.need(1); err != nil {
		return "", err
	}
	length := int(it.data[it.pos])
	it.pos++
	if err := it.need(length + 1); err != nil {
		return "", err
	}
	content := it.data[it.pos : it.pos+length]
	if it.data[it.pos+length] != 0 {
		return "", fmt.Errorf("dbus: iterator: signature is not NUL-terminated")
	}
	it.pos += length + 1
	if _, err := validateSignature(string(content)); err != nil {
		return "", fmt.Errorf("dbus: iterator: %w", err)
	}
	it.consume(1)
	return Signature(content), nil
}

func (it *Iterator) checkDepth() error {
	if len(it.scopes) >= MaxNestingDepth {
		return fmt.Errorf("dbus: iterator: nesting depth exceeds %d", MaxNestingDepth)
	}
	return nil
}

// EnterArray opens an array scope, returning the element signature.
func (it *Iterator) EnterArray() (Signature, error) {
	if err := it.expect('a'); err != nil {
		return "", err
	}
	if err := it.checkDepth(); err != nil {
		return "", err
	}
	cur := it.current()
	n, err := nextCompleteType(cur)
	if err != nil {
		return "", err
	}
	elemSig := cur[1:n]
	it.consume(n)

	if err := it.align(4); err != nil {
		return "", err
	}
	if err := it.need(4); err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint32(it.data[it.pos:])
	it.pos += 4
	if length > MaxArrayLength {
		return "", fmt.Errorf("dbus: iterator: array length %d exceeds %d", length, MaxArrayLength)
	}
	if err := it.align(typeAlignment(elemSig[0])); err != nil {
		return "", err
	}
	if err := it.need(int(length)); err != nil {
		return "", err
	}

	it.scopes = append(it.scopes, kindOrElem{
		kind:            scopeArray,
		elemSig:         elemSig,
		firstElemOffset: it.pos,
		arrayLen:        int(length),
	})
	return Signature(elemSig), nil
}

// ExitArray closes an array scope; fails if unread elements remain.
func (it *Iterator) ExitArray() error {
	top, err := it.topScope(scopeArray, "array")
	if err != nil {
		return err
	}
	if it.pos != top.firstElemOffset+top.arrayLen {
		return fmt.Errorf("dbus: iterator: array closed with %d unread bytes",
			top.firstElemOffset+top.arrayLen-it.pos)
	}
	it.scopes = it.scopes[:len(it.scopes)-1]
	return nil
}

// EnterStruct opens a struct scope.
func (it *Iterator) EnterStruct() error {
	if err := it.expect('('); err != nil {
		return err
	}
	if err := it.checkDepth(); err != nil {
		return err
	}
	cur := it.current()
	n, err := nextCompleteType(cur)
	if err != nil {
		return err
	}
	inner := cur[1 : n-1]
	it.consume(n)
	if err := it.align(8); err != nil {
		return err
	}
	it.scopes = append(it.scopes, kindOrElem{kind: scopeStruct, remaining: inner})
	return nil
}

// ExitStruct closes a struct scope; fails if fields remain unread.
func (it *Iterator) ExitStruct() error {
	top, err := it.topScope(scopeStruct, "struct")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: iterator: struct closed with unread fields %q", top.remaining)
	}
	it.scopes = it.scopes[:len(it.scopes)-1]
	return nil
}

// EnterDictEntry opens a dict-entry scope. Legal only as the current
// element of an array scope whose element type is a dict entry.
func (it *Iterator) EnterDictEntry() error {
	if len(it.scopes) == 0 {
		return fmt.Errorf("dbus: iterator: dict entry is only legal inside an array")
	}
	top := &it.scopes[len(it.scopes)-1]
	if top.kind != scopeArray || len(top.elemSig) == 0 || top.elemSig[0] != '{' {
		return fmt.Errorf("dbus: iterator: dict entry is only legal as an array-of-dict-entry element")
	}
	if err := it.checkDepth(); err != nil {
		return err
	}
	inner := top.elemSig[1 : len(top.elemSig)-1]
	if err := it.align(8); err != nil {
		return err
	}
	it.scopes = append(it.scopes, kindOrElem{kind: scopeDictEntry, remaining: inner})
	return nil
}

// ExitDictEntry closes a dict-entry scope.
func (it *Iterator) ExitDictEntry() error {
	top, err := it.topScope(scopeDictEntry, "dict entry")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: iterator: dict entry closed with unread fields %q", top.remaining)
	}
	it.scopes = it.scopes[:len(it.scopes)-1]
	return nil
}

// EnterVariant reads the embedded signature (a length byte, the
// signature bytes, and its NUL), validates it denotes exactly one
// complete type, and pushes the outer cursor for later restoration.
func (it *Iterator) EnterVariant() (Signature, error) {
	if err := it.expect('v'); err != nil {
		return "", err
	}
	if err := it.checkDepth(); err != nil {
		return "", err
	}
	it.consume(1)

	if err := it.need(1); err != nil {
		return "", err
	}
	sigLen := int(it.data[it.pos])
	it.pos++
	if err := it.need(sigLen + 1); err != nil {
		return "", err
	}
	embedded := string(it.data[it.pos : it.pos+sigLen])
	if it.data[it.pos+sigLen] != 0 {
		return "", fmt.Errorf("dbus: iterator: variant signature is not NUL-terminated")
	}
	it.pos += sigLen + 1
	if err := validateSingleCompleteType(embedded); err != nil {
		return "", fmt.Errorf("dbus: iterator: %w", err)
	}

	it.scopes = append(it.scopes, kindOrElem{kind: scopeVariant, remaining: embedded})
	return Signature(embedded), nil
}

// ExitVariant closes a variant scope, restoring the outer cursor.
func (it *Iterator) ExitVariant() error {
	top, err := it.topScope(scopeVariant, "variant")
	if err != nil {
		return err
	}
	if top.remaining != "" {
		return fmt.Errorf("dbus: iterator: variant closed without reading its value (%q pending)", top.remaining)
	}
	it.scopes = it.scopes[:len(it.scopes)-1]
	return nil
}

func (it *Iterator) topScope(kind scopeKind, name string) (*kindOrElem, error) {
	if len(it.scopes) == 0 {
		return nil, fmt.Errorf("dbus: iterator: no open %s scope", name)
	}
	top := &it.scopes[len(it.scopes)-1]
	if top.kind != kind {
		return nil, fmt.Errorf("dbus: iterator: current scope is not a %s", name)
	}
	return top, nil
}

// SkipValue advances past the next complete value in the current
// scope without decoding it, recursing into containers as needed.
func (it *Iterator) SkipValue() error {
	cur := it.current()
	if len(cur) == 0 {
		return fmt.Errorf("dbus: iterator: no more values to skip")
	}
	switch cur[0] {
	case 'y':
		_, err := it.NextByte()
		return err
	case 'b':
		_, err := it.NextBool()
		return err
	case 'n':
		_, err := it.NextInt16()
		return err
	case 'q':
		_, err := it.NextUint16()
		return err
	case 'i':
		_, err := it.NextInt32()
		return err
	case 'u':
		_, err := it.NextUint32()
		return err
	case 'x':
		_, err := it.NextInt64()
		return err
	case 't':
		_, err := it.NextUint64()
		return err
	case 'd':
		_, err := it.NextFloat64()
		return err
	case 's':
		_, err := it.NextString()
		return err
	case 'o':
		_, err := it.NextObjectPath()
		return err
	case 'g':
		_, err := it.NextSignature()
		return err
	case 'v':
		if _, err := it.EnterVariant(); err != nil {
			return err
		}
		if err := it.SkipValue(); err != nil {
			return err
		}
		return it.ExitVariant()
	case 'a':
		elemSig, err := it.EnterArray()
		if err != nil {
			return err
		}
		if elemSig[0] == '{' {
			for {
				more, err := it.InArray()
				if err != nil {
					return err
				}
				if !more {
					break
				}
				if err := it.EnterDictEntry(); err != nil {
					return err
				}
				if err := it.SkipValue(); err != nil {
					return err
				}
				if err := it.SkipValue(); err != nil {
					return err
				}
				if err := it.ExitDictEntry(); err != nil {
					return err
				}
			}
		} else {
			for {
				more, err := it.InArray()
				if err != nil {
					return err
				}
				if !more {
					break
				}
				if err := it.SkipValue(); err != nil {
					return err
				}
			}
		}
		return it.ExitArray()
	case '(':
		if err := it.EnterStruct(); err != nil {
			return err
		}
		top := &it.scopes[len(it.scopes)-1]
		for top.remaining != "" {
			if err := it.SkipValue(); err != nil {
				return err
			}
		}
		return it.ExitStruct()
	default:
		return fmt.Errorf("dbus: iterator: cannot skip type %q", cur[0])
	}
}
