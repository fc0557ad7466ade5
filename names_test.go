package dbus

import "testing"

func TestValidateObjectPath(t *testing.T) {
	valid := []ObjectPath{"/", "/org/freedesktop/DBus", "/a/b_1/C2"}
	for _, p := range valid {
		if err := ValidateObjectPath(p); err != nil {
			t.Errorf("ValidateObjectPath(%q): %v", p, err)
		}
	}
	invalid := []ObjectPath{"", "a/b", "/a/", "/a//b", "/a/b!"}
	for _, p := range invalid {
		if err := ValidateObjectPath(p); err == nil {
			t.Errorf("ValidateObjectPath(%q): expected error", p)
		}
	}
}

func TestValidateInterfaceName(t *testing.T) {
	valid := []string{"org.freedesktop.DBus", "a.b", "_a.B9"}
	for _, n := range valid {
		if err := ValidateInterfaceName(n); err != nil {
			t.Errorf("ValidateInterfaceName(%q): %v", n, err)
		}
	}
	invalid := []string{"", "noseparator", "a..b", ".a.b", "a.b.", "a.9b", "a.b$"}
	for _, n := range invalid {
		if err := ValidateInterfaceName(n); err == nil {
			t.Errorf("ValidateInterfaceName(%q): expected error", n)
		}
	}
}

func TestValidateMemberName(t *testing.T) {
	valid := []string{"Foo", "_bar9"}
	for _, n := range valid {
		if err := ValidateMemberName(n); err != nil {
			t.Errorf("ValidateMemberName(%q): %v", n, err)
		}
	}
	invalid := []string{"", "9Foo", "a.b", "a-b"}
	for _, n := range invalid {
		if err := ValidateMemberName(n); err == nil {
			t.Errorf("ValidateMemberName(%q): expected error", n)
		}
	}
}

func TestValidateBusName(t *testing.T) {
	valid := []string{"org.freedesktop.DBus", ":1.42", ":1.2.3", "a.b-c"}
	for _, n := range valid {
		if err := ValidateBusName(n); err != nil {
			t.Errorf("ValidateBusName(%q): %v", n, err)
		}
	}
	invalid := []string{"", "noseparator", ":", "a..b", "a.b.", "9a.b"}
	for _, n := range invalid {
		if err := ValidateBusName(n); err == nil {
			t.Errorf("ValidateBusName(%q): expected error", n)
		}
	}
}
