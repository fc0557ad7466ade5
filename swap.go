package dbus

import "fmt"

// swapMessageBody flips every fixed-width primitive of the values
// described by sig, laid out in buf from offset on (UnmarshalMessage
// calls it once for the header at 0 and once for the body), from the
// wire endianness to the
// other one, recursing into containers. Strings only have their
// length prefix flipped; their byte content is endianness-agnostic.
//
// This replaces the teacher's per-primitive binary.LittleEndian /
// binary.BigEndian dispatch (design note §9, "hand-rolled endian
// conversion macros") with the single recursive value-swap routine
// the spec calls for: the iterator always runs in native mode after
// this one-pass flip, so next_* never branches on endianness.
func swapMessageBody(sig string, buf []byte, offset int) (int, error) {
	rest := sig
	for len(rest) > 0 {
		n, err := nextCompleteType(rest)
		if err != nil {
			return offset, err
		}
		newOffset, err := swapValue(rest[:n], buf, offset)
		if err != nil {
			return offset, err
		}
		offset = newOffset
		rest = rest[n:]
	}
	return offset, nil
}

func swapValue(sig string, buf []byte, offset int) (int, error) {
	c := sig[0]
	align := typeAlignment(c)
	offset += padLen(offset, align)
	switch c {
	case 'y', 'g':
		// 1-byte values (and the signature's own length prefix,
		// handled by its caller) need no swap.
		switch c {
		case 'y':
			return offset + 1, nil
		case 'g':
			if offset >= len(buf) {
				return offset, fmt.Errorf("dbus: truncated signature while swapping")
			}
			l := int(buf[offset])
			return offset + 1 + l + 1, nil
		}
	case 'n', 'q':
		swap2(buf[offset:])
		return offset + 2, nil
	case 'b', 'i', 'u':
		swap4(buf[offset:])
		return offset + 4, nil
	case 'x', 't', 'd':
		swap8(buf[offset:])
		return offset + 8, nil
	case 's', 'o':
		if offset+4 > len(buf) {
			return offset, fmt.Errorf("dbus: truncated string length while swapping")
		}
		swap4(buf[offset:])
		l := int(nativeUint32(buf[offset:]))
		return offset + 4 + l + 1, nil
	case 'v':
		if offset >= len(buf) {
			return offset, fmt.Errorf("dbus: truncated variant while swapping")
		}
		sigLen := int(buf[offset])
		sigStart := offset + 1
		if sigStart+sigLen+1 > len(buf) {
			return offset, fmt.Errorf("dbus: truncated variant signature while swapping")
		}
		embedded := string(buf[sigStart : sigStart+sigLen])
		next := sigStart + sigLen + 1
		return swapMessageBody(embedded, buf, next)
	case 'a':
		if offset+4 > len(buf) {
			return offset, fmt.Errorf("dbus: truncated array length while swapping")
		}
		swap4(buf[offset:])
		length := int(nativeUint32(buf[offset:]))
		offset += 4
		elemSig := sig[1:]
		elemAlign := typeAlignment(elemSig[0])
		offset += padLen(offset, elemAlign)
		end := offset + length
		if end > len(buf) {
			return offset, fmt.Errorf("dbus: truncated array body while swapping")
		}
		for offset < end {
			next, err := swapValue(elemSig, buf, offset)
			if err != nil {
				return offset, err
			}
			offset = next
		}
		return offset, nil
	case '(':
		rest := sig[1 : len(sig)-1]
		for len(rest) > 0 {
			n, err := nextCompleteType(rest)
			if err != nil {
				return offset, err
			}
			next, err := swapValue(rest[:n], buf, offset)
			if err != nil {
				return offset, err
			}
			offset = next
			rest = rest[n:]
		}
		return offset, nil
	case '{':
		keySig := sig[1:2]
		valSig := sig[2 : len(sig)-1]
		offset, err := swapValue(keySig, buf, offset)
		if err != nil {
			return offset, err
		}
		return swapValue(valSig, buf, offset)
	}
	return offset, fmt.Errorf("dbus: cannot swap unknown type %q", c)
}

func swap2(b []byte) { b[0], b[1] = b[1], b[0] }

func swap4(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
}

func swap8(b []byte) {
	b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7] =
		b[7], b[6], b[5], b[4], b[3], b[2], b[1], b[0]
}

// nativeUint32 reads a uint32 assuming little-endian byte order, the
// only host order the rest of the codec targets (matching the
// teacher's and the pack's blanket use of binary.LittleEndian). swap4
// has already normalized buf to this order by the time it is called.
func nativeUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
