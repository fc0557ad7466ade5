package dbus

import (
	"fmt"

	"github.com/dbuscore/dbuscore/auth"
)

// StandardBus names one of the two well-known bus instances, per the
// teacher's Connect(StandardBus).
type StandardBus int

const (
	SessionBus StandardBus = iota
	SystemBus
)

// Connect dials the named standard bus, authenticates with
// mechanisms, and runs Hello — the one-call convenience the teacher's
// Connect provided, now built on the registered-transport-factory
// path (transport/unix, transport/tcp) instead of a hard-coded
// unix-socket dial.
func Connect(which StandardBus, mechanisms []auth.Mechanism, opts ...Option) (*Conn, error) {
	var addrStr string
	switch which {
	case SessionBus:
		s, ok := SessionBusAddress()
		if !ok {
			return nil, fmt.Errorf("dbus: DBUS_SESSION_BUS_ADDRESS is not set")
		}
		addrStr = s
	case SystemBus:
		addrStr = SystemBusAddress()
	default:
		return nil, fmt.Errorf("dbus: unknown bus %d", which)
	}

	addrs, err := ParseAddresses(addrStr)
	if err != nil {
		return nil, err
	}
	t, err := DialAddresses(addrs)
	if err != nil {
		return nil, err
	}
	return Dial(t, mechanisms, opts...)
}
