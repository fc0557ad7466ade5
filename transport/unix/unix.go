// Package unix registers the "unix" address kind with dbuscore: a
// concrete net.Conn-backed dialer for D-Bus's predominant transport,
// plus SO_PEERCRED credential lookup for the EXTERNAL auth mechanism.
// Importing this package for its init() side effect is the intended
// usage, mirroring how the teacher's transport.go switched on address
// kind inline — dbuscore moves that switch into per-kind registered
// factories (see ../../transport.go) so core never imports a
// platform-specific socket package.
package unix

import (
	"fmt"
	"net"
	"time"

	"github.com/dbuscore/dbuscore"
	"golang.org/x/sys/unix"
)

func init() {
	dbus.RegisterTransport("unix", dial)
}

// conn adapts a *net.UnixConn to dbus.Transport, additionally
// exposing SetReadDeadline so auth.ClientHandshake's LineTimeout has
// teeth over a real socket.
type conn struct {
	c *net.UnixConn
}

func (t *conn) Recv(buf []byte) (int, error) { return t.c.Read(buf) }

func (t *conn) Send(buf []byte) error {
	for len(buf) > 0 {
		n, err := t.c.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (t *conn) Close() error { return t.c.Close() }

func (t *conn) SetReadDeadline(d time.Time) error { return t.c.SetReadDeadline(d) }

// dial satisfies dbus.TransportFactory for address kind "unix", per
// the teacher's unixTransport.Dial — supporting both a filesystem path
// and Linux's abstract-namespace "@"-prefixed form.
func dial(addr dbus.Address) (dbus.Transport, error) {
	var sockAddr string
	if abstract, ok := addr.Options["abstract"]; ok {
		sockAddr = "@" + abstract
	} else if path, ok := addr.Options["path"]; ok {
		sockAddr = path
	} else {
		return nil, fmt.Errorf("dbus: unix transport requires a 'path' or 'abstract' option")
	}
	raw, err := net.Dial("unix", sockAddr)
	if err != nil {
		return nil, fmt.Errorf("dbus: dialing unix socket %q: %w", sockAddr, err)
	}
	uc, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return nil, fmt.Errorf("dbus: unix transport: unexpected conn type %T", raw)
	}
	return &conn{c: uc}, nil
}

// PeerCredentials reads the SO_PEERCRED credential off a unix-domain
// dbus.Transport returned by this package's dialer, for use as the
// EXTERNAL mechanism's identity — the real uid/pid the kernel vouches
// for, rather than the teacher's AuthExternal always sending
// os.Getuid() regardless of which socket it actually opened.
func PeerCredentials(t dbus.Transport) (dbus.Credentials, error) {
	c, ok := t.(*conn)
	if !ok {
		return dbus.Credentials{}, fmt.Errorf("dbus: PeerCredentials: not a unix transport")
	}
	sc, err := c.c.SyscallConn()
	if err != nil {
		return dbus.Credentials{}, err
	}
	var cred *unix.Ucred
	var ctrlErr error
	err = sc.Control(func(fd uintptr) {
		cred, ctrlErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return dbus.Credentials{}, err
	}
	if ctrlErr != nil {
		return dbus.Credentials{}, ctrlErr
	}
	return dbus.Credentials{UID: int64(cred.Uid), PID: int64(cred.Pid)}, nil
}
