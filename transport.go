package dbus

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Transport is the byte-stream contract a Conn is built on, per §6:
// "the core consumes a byte stream and produces a byte stream via
// three callbacks." Socket transports are an external collaborator
// (§1) — concrete dialers live in the transport subpackage, not here;
// this interface is the only thing core depends on.
type Transport interface {
	// Recv reads into buf, returning the number of bytes read. It
	// blocks until at least one byte is available, the transport is
	// closed, or an error occurs.
	Recv(buf []byte) (int, error)
	// Send writes buf in full or returns an error; partial writes are
	// not a supported outcome.
	Send(buf []byte) error
	// Close releases the underlying transport. Recv unblocks with an
	// error after Close.
	Close() error
}

// Credentials carries the identity a transport can vouch for, fed to
// the EXTERNAL auth mechanism's initial response. The teacher's
// AuthExternal.InitialResponse only ever used os.Getuid(); the real
// adbus sends the actual peer uid/pid of the transport socket when
// the platform can supply it (DBusClient/, original_source/) — the
// transport/unix package fills this in via SO_PEERCRED, core accepts
// whatever the caller already resolved.
type Credentials struct {
	UID int64
	PID int64
}

// Address is one parsed D-Bus server address, e.g.
// "unix:path=/var/run/dbus/system_bus_socket,guid=...".
type Address struct {
	Kind    string
	Options map[string]string
}

// ParseAddress parses a single transport descriptor. The core parses
// only as far as splitting the kind from its key=value options (§6);
// a registered transport factory interprets the options it needs.
func ParseAddress(s string) (Address, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return Address{}, fmt.Errorf("dbus: address %q has no ':'", s)
	}
	kind := s[:i]
	opts := make(map[string]string)
	rest := s[i+1:]
	if rest != "" {
		for _, pair := range strings.Split(rest, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return Address{}, fmt.Errorf("dbus: address %q has a malformed option %q", s, pair)
			}
			key, err := url.QueryUnescape(kv[0])
			if err != nil {
				return Address{}, fmt.Errorf("dbus: address %q: %w", s, err)
			}
			val, err := url.QueryUnescape(kv[1])
			if err != nil {
				return Address{}, fmt.Errorf("dbus: address %q: %w", s, err)
			}
			opts[key] = val
		}
	}
	return Address{Kind: kind, Options: opts}, nil
}

// ParseAddresses splits a semicolon-separated list of alternative
// server addresses (the form DBUS_SESSION_BUS_ADDRESS etc. actually
// take) and parses each.
func ParseAddresses(s string) ([]Address, error) {
	var addrs []Address
	for _, one := range strings.Split(s, ";") {
		if one == "" {
			continue
		}
		a, err := ParseAddress(one)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// TransportFactory dials a concrete Transport for an Address of its
// registered kind.
type TransportFactory func(Address) (Transport, error)

var transportFactories = make(map[string]TransportFactory)

// RegisterTransport makes factory available to DialAddresses under
// the given address kind (e.g. "unix", "tcp"). Called from transport
// subpackage init functions, keeping concrete dialers out of core.
func RegisterTransport(kind string, factory TransportFactory) {
	transportFactories[kind] = factory
}

// DialAddresses tries each address in order, returning the first
// transport that dials successfully.
func DialAddresses(addrs []Address) (Transport, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("dbus: no addresses to dial")
	}
	var lastErr error
	for _, a := range addrs {
		factory, ok := transportFactories[a.Kind]
		if !ok {
			lastErr = fmt.Errorf("dbus: no registered transport for address kind %q (forgot to import a transport subpackage?)", a.Kind)
			continue
		}
		t, err := factory(a)
		if err != nil {
			lastErr = err
			continue
		}
		return t, nil
	}
	return nil, lastErr
}

// SessionBusAddress returns the session bus address from
// DBUS_SESSION_BUS_ADDRESS, per §6's "well-known variable names"
// default-bus lookup.
func SessionBusAddress() (string, bool) {
	return os.LookupEnv("DBUS_SESSION_BUS_ADDRESS")
}

// SystemBusAddress returns the system bus address from
// DBUS_SYSTEM_BUS_ADDRESS, falling back to the conventional well-known
// socket path the teacher hard-coded in Connect.
func SystemBusAddress() string {
	if addr, ok := os.LookupEnv("DBUS_SYSTEM_BUS_ADDRESS"); ok {
		return addr
	}
	return "unix:path=/var/run/dbus/system_bus_socket"
}
