package dbus

import "testing"

func TestMatchRuleString(t *testing.T) {
	r := &MatchRule{
		Type:      TypeSignal,
		Interface: "org.freedesktop.DBus",
		Member:    "Foo",
		Path:      "/bar/foo",
	}
	want := "type='signal',path='/bar/foo',interface='org.freedesktop.DBus',member='Foo'"
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMatchRuleStringEscapesQuotesAndBackslashes(t *testing.T) {
	r := &MatchRule{Sender: `a\b'c`}
	want := `sender='a\\b\'c'`
	if got := r.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMatchRuleMatch(t *testing.T) {
	r := &MatchRule{Type: TypeSignal, Interface: "a.b", Member: "Changed"}
	hit := &Message{Type: TypeSignal, Interface: "a.b", Member: "Changed"}
	if !r.Match(hit) {
		t.Error("expected rule to match")
	}
	miss := &Message{Type: TypeSignal, Interface: "a.b", Member: "Other"}
	if r.Match(miss) {
		t.Error("expected rule not to match a different member")
	}
}

func TestMatchRuleArgsFilter(t *testing.T) {
	r := &MatchRule{Type: TypeSignal, Args: map[int]string{0: "com.example.Target"}}

	hit := NewSignal("/a", "a.b", "NameOwnerChanged")
	if err := hit.AppendArgs("com.example.Target", "", ":1.1"); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	if !r.Match(hit) {
		t.Error("expected rule to match on arg0 equality")
	}

	miss := NewSignal("/a", "a.b", "NameOwnerChanged")
	if err := miss.AppendArgs("com.example.Other", "", ":1.1"); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	if r.Match(miss) {
		t.Error("expected rule not to match a different arg0")
	}
}

func TestMatchRuleCloneIsIndependent(t *testing.T) {
	r := &MatchRule{Args: map[int]string{0: "x"}}
	c := r.Clone()
	c.Args[0] = "y"
	if r.Args[0] != "x" {
		t.Error("mutating the clone's Args must not affect the original")
	}
}
