package dbus

import "fmt"

func isPathSegmentChar(c byte) bool {
	return c == '_' ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9')
}

// ValidateObjectPath checks a path against §3: starts with '/', no
// trailing '/' unless the whole path is "/", no empty segments, each
// segment drawn from [A-Za-z0-9_]+.
func ValidateObjectPath(path ObjectPath) error {
	s := string(path)
	if len(s) == 0 || s[0] != '/' {
		return fmt.Errorf("dbus: object path %q must start with '/'", s)
	}
	if s == "/" {
		return nil
	}
	if s[len(s)-1] == '/' {
		return fmt.Errorf("dbus: object path %q must not end with '/'", s)
	}
	segStart := 1
	for i := 1; i <= len(s); i++ {
		if i == len(s) || s[i] == '/' {
			if i == segStart {
				return fmt.Errorf("dbus: object path %q has an empty segment", s)
			}
			for j := segStart; j < i; j++ {
				if !isPathSegmentChar(s[j]) {
					return fmt.Errorf("dbus: object path %q has invalid character %q", s, s[j])
				}
			}
			segStart = i + 1
		}
	}
	return nil
}

func isNameStartChar(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isNameChar(c byte) bool {
	return isNameStartChar(c) || (c >= '0' && c <= '9')
}

// ValidateInterfaceName checks §3: non-empty, <=255 bytes, components
// in [A-Za-z_][A-Za-z0-9_]*, at least one '.', no leading/trailing/
// doubled '.'.
func ValidateInterfaceName(name string) error {
	if err := validateDottedName(name, "interface"); err != nil {
		return err
	}
	dots := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			dots++
		}
	}
	if dots == 0 {
		return fmt.Errorf("dbus: interface name %q must contain at least one '.'", name)
	}
	return nil
}

// ValidateMemberName checks §3: non-empty, <=255 bytes, a single
// component in [A-Za-z_][A-Za-z0-9_]*, containing no '.'.
func ValidateMemberName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("dbus: member name must not be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("dbus: member name %q exceeds %d bytes", name, MaxNameLength)
	}
	if !isNameStartChar(name[0]) {
		return fmt.Errorf("dbus: member name %q has invalid leading character", name)
	}
	for i := 1; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return fmt.Errorf("dbus: member name %q contains invalid character %q", name, name[i])
		}
	}
	return nil
}

func validateDottedName(name, kind string) error {
	if len(name) == 0 {
		return fmt.Errorf("dbus: %s name must not be empty", kind)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("dbus: %s name %q exceeds %d bytes", kind, name, MaxNameLength)
	}
	compStart := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			if i == compStart {
				return fmt.Errorf("dbus: %s name %q has an empty component", kind, name)
			}
			if !isNameStartChar(name[compStart]) {
				return fmt.Errorf("dbus: %s name %q has invalid leading character in a component", kind, name)
			}
			for j := compStart + 1; j < i; j++ {
				if !isNameChar(name[j]) {
					return fmt.Errorf("dbus: %s name %q contains invalid character %q", kind, name, name[j])
				}
			}
			compStart = i + 1
		}
	}
	return nil
}

func isBusNameChar(c byte) bool {
	return isNameChar(c) || c == '-'
}

func isBusNameStartChar(c byte) bool {
	return isNameStartChar(c) || c == '-'
}

// ValidateBusName checks §3: <=255 bytes, either unique (starts ':'
// followed by '.'-separated segments whose first character may be a
// digit) or well-known ('.'-separated segments each
// [A-Za-z_-][A-Za-z0-9_-]*).
func ValidateBusName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("dbus: bus name must not be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("dbus: bus name %q exceeds %d bytes", name, MaxNameLength)
	}
	if name[0] == ':' {
		rest := name[1:]
		if len(rest) == 0 {
			return fmt.Errorf("dbus: unique bus name %q has no segments", name)
		}
		compStart := 0
		for i := 0; i <= len(rest); i++ {
			if i == len(rest) || rest[i] == '.' {
				if i == compStart {
					return fmt.Errorf("dbus: unique bus name %q has an empty segment", name)
				}
				for j := compStart; j < i; j++ {
					if !isBusNameChar(rest[j]) {
						return fmt.Errorf("dbus: unique bus name %q contains invalid character %q", name, rest[j])
					}
				}
				compStart = i + 1
			}
		}
		return nil
	}
	compStart := 0
	dots := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			if i == compStart {
				return fmt.Errorf("dbus: bus name %q has an empty segment", name)
			}
			if !isBusNameStartChar(name[compStart]) {
				return fmt.Errorf("dbus: bus name %q has invalid leading character in a segment", name)
			}
			for j := compStart + 1; j < i; j++ {
				if !isBusNameChar(name[j]) {
					return fmt.Errorf("dbus: bus name %q contains invalid character %q", name, name[j])
				}
			}
			compStart = i + 1
			if i < len(name) {
				dots++
			}
		}
	}
	if dots == 0 {
		return fmt.Errorf("dbus: well-known bus name %q must contain at least one '.'", name)
	}
	return nil
}
