package dbus

import "fmt"

// typeAlignment returns the alignment (1, 2, 4 or 8) of the type whose
// signature begins with c, or 0 if c is not a valid leading type
// character. Struct and dict-entry openers always align to 8
// regardless of their first field, per §3.
func typeAlignment(c byte) int {
	switch c {
	case 'y', 'g', 'v':
		return 1
	case 'n', 'q':
		return 2
	case 'b', 'i', 'u', 'a', 's', 'o':
		return 4
	case 'x', 't', 'd', '(', ')', '{', '}':
		return 8
	}
	return 0
}

// padLen returns the number of zero bytes needed so that offset+pad
// is a multiple of alignment.
func padLen(offset, alignment int) int {
	if alignment <= 1 {
		return 0
	}
	rem := offset % alignment
	if rem == 0 {
		return 0
	}
	return alignment - rem
}

// isBasicTypeCode reports whether c is a fixed-width or string-family
// basic type character (not a container opener/closer).
func isBasicTypeCode(c byte) bool {
	switch c {
	case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 's', 'o', 'g':
		return true
	}
	return false
}

// nextCompleteType returns the length, in bytes, of the complete type
// beginning at sig[0], descending into container types. It does not
// validate nesting depth; callers that need the depth limit enforced
// use validateSignature first.
func nextCompleteType(sig string) (int, error) {
	if len(sig) == 0 {
		return 0, fmt.Errorf("dbus: empty signature")
	}
	switch c := sig[0]; {
	case isBasicTypeCode(c):
		return 1, nil
	case c == 'v':
		return 1, nil
	case c == 'a':
		if len(sig) < 2 {
			return 0, fmt.Errorf("dbus: truncated array signature %q", sig)
		}
		elemLen, err := nextCompleteType(sig[1:])
		if err != nil {
			return 0, err
		}
		return 1 + elemLen, nil
	case c == '(':
		total := 1
		rest := sig[1:]
		for {
			if len(rest) == 0 {
				return 0, fmt.Errorf("dbus: unterminated struct signature %q", sig)
			}
			if rest[0] == ')' {
				return total + 1, nil
			}
			n, err := nextCompleteType(rest)
			if err != nil {
				return 0, err
			}
			total += n
			rest = rest[n:]
		}
	case c == '{':
		total := 1
		rest := sig[1:]
		// key: must be a single basic type
		if len(rest) == 0 || !isBasicTypeCode(rest[0]) {
			return 0, fmt.Errorf("dbus: dict entry key must be a basic type in %q", sig)
		}
		total += 1
		rest = rest[1:]
		n, err := nextCompleteType(rest)
		if err != nil {
			return 0, err
		}
		total += n
		rest = rest[n:]
		if len(rest) == 0 || rest[0] != '}' {
			return 0, fmt.Errorf("dbus: unterminated dict entry signature %q", sig)
		}
		return total + 1, nil
	default:
		return 0, fmt.Errorf("dbus: invalid signature character %q", c)
	}
}

// validateSignature checks that sig is a sequence of zero or more
// complete types, each well formed, within the nesting and length
// limits from §3. It returns the number of top-level complete types.
func validateSignature(sig string) (int, error) {
	if len(sig) > MaxSignatureLen {
		return 0, fmt.Errorf("dbus: signature exceeds %d bytes", MaxSignatureLen)
	}
	count := 0
	rest := sig
	for len(rest) > 0 {
		n, depth, err := typeLenAndDepth(rest)
		if err != nil {
			return 0, err
		}
		if depth > MaxNestingDepth {
			return 0, fmt.Errorf("dbus: signature %q exceeds nesting depth %d", sig, MaxNestingDepth)
		}
		rest = rest[n:]
		count++
	}
	return count, nil
}

// validateSingleCompleteType checks that sig denotes exactly one
// complete type, as required of a variant's embedded signature, §3/§8.
func validateSingleCompleteType(sig string) error {
	if len(sig) == 0 {
		return fmt.Errorf("dbus: variant signature must not be empty")
	}
	n, depth, err := typeLenAndDepth(sig)
	if err != nil {
		return err
	}
	if n != len(sig) {
		return fmt.Errorf("dbus: variant signature %q is not exactly one complete type", sig)
	}
	if depth > MaxNestingDepth {
		return fmt.Errorf("dbus: signature %q exceeds nesting depth %d", sig, MaxNestingDepth)
	}
	return nil
}

// typeLenAndDepth is nextCompleteType plus the container nesting depth
// of that single complete type. A bare basic type or 'v' has depth 0;
// 'v's embedded signature is opaque until entered at runtime, so it
// never contributes depth statically (runtime enter_variant tracks
// the live scope-stack depth instead, see builder.go/iterator.go).
func typeLenAndDepth(sig string) (int, int, error) {
	if len(sig) == 0 {
		return 0, 0, fmt.Errorf("dbus: empty signature")
	}
	switch c := sig[0]; {
	case isBasicTypeCode(c), c == 'v':
		return 1, 0, nil
	case c == 'a':
		if len(sig) < 2 {
			return 0, 0, fmt.Errorf("dbus: truncated array signature %q", sig)
		}
		n, d, err := typeLenAndDepth(sig[1:])
		if err != nil {
			return 0, 0, err
		}
		return 1 + n, 1 + d, nil
	case c == '(':
		total, depth := 1, 0
		rest := sig[1:]
		for {
			if len(rest) == 0 {
				return 0, 0, fmt.Errorf("dbus: unterminated struct signature %q", sig)
			}
			if rest[0] == ')' {
				return total + 1, 1 + depth, nil
			}
			n, d, err := typeLenAndDepth(rest)
			if err != nil {
				return 0, 0, err
			}
			if d > depth {
				depth = d
			}
			total += n
			rest = rest[n:]
		}
	case c == '{':
		if len(sig) < 2 || !isBasicTypeCode(sig[1]) {
			return 0, 0, fmt.Errorf("dbus: dict entry key must be a basic type in %q", sig)
		}
		total, depth := 2, 0
		rest := sig[2:]
		n, d, err := typeLenAndDepth(rest)
		if err != nil {
			return 0, 0, err
		}
		depth = d
		total += n
		rest = rest[n:]
		if len(rest) == 0 || rest[0] != '}' {
			return 0, 0, fmt.Errorf("dbus: unterminated dict entry signature %q", sig)
		}
		return total + 1, 1 + depth, nil
	default:
		return 0, 0, fmt.Errorf("dbus: invalid signature character %q", c)
	}
}
