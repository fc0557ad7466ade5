package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSignatureOf(t *testing.T) {
	cases := []struct {
		in   interface{}
		want Signature
	}{
		{byte(1), "y"},
		{true, "b"},
		{int16(1), "n"},
		{uint16(1), "q"},
		{int32(1), "i"},
		{uint32(1), "u"},
		{int64(1), "x"},
		{uint64(1), "t"},
		{float64(1), "d"},
		{"hello", "s"},
		{ObjectPath("/a"), "o"},
		{Signature("s"), "g"},
		{[]int32{1, 2}, "ai"},
		{map[string]bool{"a": true}, "a{sb}"},
		{Variant{Value: int32(1)}, "v"},
	}
	for _, c := range cases {
		got, err := SignatureOf(c.in)
		if err != nil {
			t.Errorf("SignatureOf(%#v): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("SignatureOf(%#v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSignatureOfStruct(t *testing.T) {
	type pair struct {
		One int32
		Two string
	}
	got, err := SignatureOf(pair{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "(is)" {
		t.Errorf("SignatureOf(pair{}) = %q, want %q", got, "(is)")
	}
}

func TestSignatureOfInterfaceRejected(t *testing.T) {
	var v interface{} = int32(1)
	if _, err := SignatureOf(v); err == nil {
		t.Error("expected SignatureOf(interface{}) to fail without a Variant wrapper")
	}
}

func roundTrip(t *testing.T, args ...interface{}) []byte {
	t.Helper()
	var sig Signature
	for _, a := range args {
		s, err := SignatureOf(a)
		if err != nil {
			t.Fatalf("SignatureOf: %v", err)
		}
		sig += s
	}
	b, err := NewBuilderWithSignature(string(sig))
	if err != nil {
		t.Fatalf("NewBuilderWithSignature(%q): %v", sig, err)
	}
	if err := AppendValues(b, args...); err != nil {
		t.Fatalf("AppendValues: %v", err)
	}
	data, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data
}

func TestAppendReadValuesRoundTrip(t *testing.T) {
	data := roundTrip(t, byte(7), true, "hello", int32(-42), []int32{1, 2, 3})

	it, err := NewIterator(data, "ybsiai")
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var (
		y    byte
		b    bool
		s    string
		i    int32
		arr  []int32
	)
	if err := ReadValues(it, &y, &b, &s, &i, &arr); err != nil {
		t.Fatalf("ReadValues: %v", err)
	}
	if y != 7 || !b || s != "hello" || i != -42 {
		t.Errorf("got (%d, %v, %q, %d), want (7, true, \"hello\", -42)", y, b, s, i)
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, arr); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}
	if !it.Done() {
		t.Error("expected iterator to be exhausted")
	}
}

func TestAppendReadValuesMapAndStruct(t *testing.T) {
	type pair struct {
		One int32
		Two string
	}
	data := roundTrip(t, map[string]int32{"a": 1, "b": 2}, pair{One: 5, Two: "x"})

	it, err := NewIterator(data, "a{si}(is)")
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var m map[string]int32
	var p pair
	if err := ReadValues(it, &m, &p); err != nil {
		t.Fatalf("ReadValues: %v", err)
	}
	if diff := cmp.Diff(map[string]int32{"a": 1, "b": 2}, m); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}
	if p.One != 5 || p.Two != "x" {
		t.Errorf("got %+v, want {5 x}", p)
	}
}

func TestVariantRoundTrip(t *testing.T) {
	data := roundTrip(t, Variant{Value: "payload"})
	it, err := NewIterator(data, "v")
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var v Variant
	if err := ReadValues(it, &v); err != nil {
		t.Fatalf("ReadValues: %v", err)
	}
	if v.Sig != "s" || v.Value != "payload" {
		t.Errorf("got %+v, want {s payload}", v)
	}
}

func TestReadAllGeneric(t *testing.T) {
	data := roundTrip(t, int32(1), "two", true)
	it, err := NewIterator(data, "isb")
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	values, err := ReadAll(it)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []interface{}{int32(1), "two", true}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("ReadAll mismatch (-want +got):\n%s", diff)
	}
}

func TestReadValuesNonPointerRejected(t *testing.T) {
	data := roundTrip(t, int32(1))
	it, err := NewIterator(data, "i")
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var x int32
	if err := ReadValues(it, x); err == nil {
		t.Error("expected ReadValues to reject a non-pointer argument")
	}
}
