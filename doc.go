// Package dbus implements the wire-level core of a D-Bus client: the
// marshalling codec, the in-memory message representation, and the
// connection multiplexer that routes method calls, replies and
// signals to registered handlers.
//
// Socket transports, event-loop integration and generated interface
// stubs are deliberately not part of this package; see the
// sub-packages auth, transport, proxy, introspect and namewatch for
// the pieces built on top of the primitives exposed here.
package dbus
