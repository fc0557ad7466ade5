// Package introspect decodes org.freedesktop.DBus.Introspectable XML
// documents (decode-only — this module never emits introspection XML,
// a Non-goal the SPEC_FULL expansion carries forward) and caches them
// per (destination, path) with an LRU, since re-parsing the same
// object's XML on every call is wasted work for any client that calls
// the same remote object repeatedly.
package introspect

import (
	"bytes"
	"encoding/xml"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// Arg is one method or signal argument.
type Arg struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Direction string `xml:"direction,attr"`
}

// Annotation is a freeform name/value pair attached to a node, method,
// interface, or property.
type Annotation struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Method describes one interface method.
type Method struct {
	Name        string       `xml:"name,attr"`
	Args        []Arg        `xml:"arg"`
	Annotations []Annotation `xml:"annotation"`
}

// InSignature concatenates the types of this method's "in" arguments,
// in order, per the teacher's methodData.GetInSignature.
func (m Method) InSignature() string {
	var sig string
	for _, a := range m.Args {
		if a.Direction == "" || a.Direction == "in" {
			sig += a.Type
		}
	}
	return sig
}

// OutSignature concatenates the types of this method's "out" arguments.
func (m Method) OutSignature() string {
	var sig string
	for _, a := range m.Args {
		if a.Direction == "out" {
			sig += a.Type
		}
	}
	return sig
}

// Signal describes one interface signal.
type Signal struct {
	Name string `xml:"name,attr"`
	Args []Arg  `xml:"arg"`
}

// Signature concatenates this signal's argument types, in order.
func (s Signal) Signature() string {
	var sig string
	for _, a := range s.Args {
		sig += a.Type
	}
	return sig
}

// Property describes one interface property.
type Property struct {
	Name   string `xml:"name,attr"`
	Type   string `xml:"type,attr"`
	Access string `xml:"access,attr"`
}

// Interface is one <interface> block.
type Interface struct {
	Name       string     `xml:"name,attr"`
	Methods    []Method   `xml:"method"`
	Signals    []Signal   `xml:"signal"`
	Properties []Property `xml:"property"`
}

func (i Interface) Method(name string) (Method, bool) {
	for _, m := range i.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

func (i Interface) Signal(name string) (Signal, bool) {
	for _, s := range i.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

// Node is the root <node> element of an Introspectable reply: the
// interfaces this object implements plus any child node names (which
// do not themselves carry further introspection data until queried).
type Node struct {
	XMLName    xml.Name    `xml:"node"`
	Name       string      `xml:"name,attr"`
	Interfaces []Interface `xml:"interface"`
	Children   []struct {
		Name string `xml:"name,attr"`
	} `xml:"node"`
}

func (n Node) Interface(name string) (Interface, bool) {
	for _, i := range n.Interfaces {
		if i.Name == name {
			return i, true
		}
	}
	return Interface{}, false
}

// Parse decodes an Introspectable.Introspect reply body.
func Parse(xmlText string) (*Node, error) {
	var n Node
	dec := xml.NewDecoder(bytes.NewReader([]byte(xmlText)))
	// Real-world introspection XML carries a DOCTYPE the stdlib
	// decoder doesn't need to resolve; Strict/false lets unexpected
	// entity refs in bus-supplied XML pass through rather than erroring.
	dec.Strict = false
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("dbus: introspect: parsing XML: %w", err)
	}
	return &n, nil
}

// Cache memoizes parsed Nodes per "destination\x00path" key, bounded
// to a fixed number of entries via an LRU eviction policy — grounded
// on SPEC_FULL.md's domain-stack commitment to
// github.com/hashicorp/golang-lru, the one pack dependency whose
// concern (bounded key-value caching) this package actually needs.
type Cache struct {
	lru *lru.Cache
}

// NewCache builds a Cache holding at most size parsed documents.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("dbus: introspect: %w", err)
	}
	return &Cache{lru: c}, nil
}

func cacheKey(destination, path string) string { return destination + "\x00" + path }

// Get returns a cached Node for (destination, path), if present.
func (c *Cache) Get(destination, path string) (*Node, bool) {
	v, ok := c.lru.Get(cacheKey(destination, path))
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// Put stores a parsed Node for (destination, path), evicting the
// least recently used entry if the cache is full.
func (c *Cache) Put(destination, path string, n *Node) {
	c.lru.Add(cacheKey(destination, path), n)
}
