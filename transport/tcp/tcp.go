// Package tcp registers the "tcp" and "nonce-tcp" address kinds with
// dbuscore, grounded on the teacher's tcpTransport/nonceTcpTransport.
package tcp

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dbuscore/dbuscore"
)

func init() {
	dbus.RegisterTransport("tcp", dialTCP)
	dbus.RegisterTransport("nonce-tcp", dialNonceTCP)
}

type conn struct {
	c net.Conn
}

func (t *conn) Recv(buf []byte) (int, error)           { return t.c.Read(buf) }
func (t *conn) Close() error                           { return t.c.Close() }
func (t *conn) SetReadDeadline(d time.Time) error      { return t.c.SetReadDeadline(d) }

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

func family(addr dbus.Address) (string, error) {
	switch addr.Options["family"] {
	case "", "ipv4":
		return "tcp4", nil
	case "ipv6":
		return "tcp6", nil
	default:
		return "", fmt.Errorf("dbus: tcp transport: unknown family %q", addr.Options["family"])
	}
}

func dialTCP(addr dbus.Address) (dbus.Transport, error) {
	fam, err := family(addr)
	if err != nil {
		return nil, err
	}
	hostport := addr.Options["host"] + ":" + addr.Options["port"]
	c, err := net.Dial(fam, hostport)
	if err != nil {
		return nil, fmt.Errorf("dbus: dialing tcp %q: %w", hostport, err)
	}
	return &conn{c: c}, nil
}

// dialNonceTCP dials like dialTCP but first writes the contents of the
// address's noncefile to the freshly opened socket, per the
// "nonce-tcp" transport kind's authentication cookie step.
func dialNonceTCP(addr dbus.Address) (dbus.Transport, error) {
	fam, err := family(addr)
	if err != nil {
		return nil, err
	}
	nonce, err := os.ReadFile(addr.Options["noncefile"])
	if err != nil {
		return nil, fmt.Errorf("dbus: reading noncefile: %w", err)
	}
	hostport := addr.Options["host"] + ":" + addr.Options["port"]
	c, err := net.Dial(fam, hostport)
	if err != nil {
		return nil, fmt.Errorf("dbus: dialing nonce-tcp %q: %w", hostport, err)
	}
	if _, err := c.Write(nonce); err != nil {
		c.Close()
		return nil, fmt.Errorf("dbus: writing nonce: %w", err)
	}
	return &conn{c: c}, nil
}
