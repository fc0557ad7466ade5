package introspect

import "testing"

const sampleXML = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN"
 "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">
<node name="/org/example/Object">
  <interface name="org.example.Iface">
    <method name="Frob">
      <arg name="input" type="s" direction="in"/>
      <arg name="count" type="i" direction="in"/>
      <arg name="result" type="b" direction="out"/>
    </method>
    <signal name="Changed">
      <arg name="value" type="s"/>
    </signal>
    <property name="Value" type="s" access="readwrite"/>
  </interface>
  <node name="child"/>
</node>`

func TestParse(t *testing.T) {
	n, err := Parse(sampleXML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n.Name != "/org/example/Object" {
		t.Errorf("Name = %q, want %q", n.Name, "/org/example/Object")
	}
	if len(n.Children) != 1 || n.Children[0].Name != "child" {
		t.Errorf("Children = %+v, want one child named %q", n.Children, "child")
	}

	iface, ok := n.Interface("org.example.Iface")
	if !ok {
		t.Fatal("expected to find org.example.Iface")
	}

	method, ok := iface.Method("Frob")
	if !ok {
		t.Fatal("expected to find method Frob")
	}
	if got := method.InSignature(); got != "si" {
		t.Errorf("InSignature() = %q, want %q", got, "si")
	}
	if got := method.OutSignature(); got != "b" {
		t.Errorf("OutSignature() = %q, want %q", got, "b")
	}

	signal, ok := iface.Signal("Changed")
	if !ok {
		t.Fatal("expected to find signal Changed")
	}
	if got := signal.Signature(); got != "s" {
		t.Errorf("Signature() = %q, want %q", got, "s")
	}
}

func TestCacheGetPut(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if _, ok := c.Get("dest", "/path"); ok {
		t.Error("expected a miss on an empty cache")
	}
	n := &Node{Name: "/path"}
	c.Put("dest", "/path", n)
	got, ok := c.Get("dest", "/path")
	if !ok || got != n {
		t.Errorf("Get after Put = (%v, %v), want (%v, true)", got, ok, n)
	}
	if _, ok := c.Get("other-dest", "/path"); ok {
		t.Error("expected distinct destinations to be cached separately")
	}
}
