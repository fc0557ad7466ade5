package tcp

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dbuscore/dbuscore"
)

func TestFamilyOptions(t *testing.T) {
	cases := []struct {
		family  string
		want    string
		wantErr bool
	}{
		{"", "tcp4", false},
		{"ipv4", "tcp4", false},
		{"ipv6", "tcp6", false},
		{"ipv9", "", true},
	}
	for _, c := range cases {
		got, err := family(dbus.Address{Options: map[string]string{"family": c.family}})
		if c.wantErr {
			if err == nil {
				t.Errorf("family(%q): expected an error", c.family)
			}
			continue
		}
		if err != nil {
			t.Errorf("family(%q): %v", c.family, err)
		}
		if got != c.want {
			t.Errorf("family(%q) = %q, want %q", c.family, got, c.want)
		}
	}
}

func listen(t *testing.T) (net.Listener, string, string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	return ln, host, port
}

func TestDialTCPRoundTrip(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	tr, err := dialTCP(dbus.Address{Options: map[string]string{"host": host, "port": port}})
	if err != nil {
		t.Fatalf("dialTCP: %v", err)
	}
	defer tr.Close()

	var accepted net.Conn
	select {
	case accepted = <-acceptedCh:
		defer accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed connection")
	}

	if err := tr.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := accepted.Read(buf); err != nil {
		t.Fatalf("reading from accepted conn: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("accepted side read %q, want %q", buf, "hello")
	}

	if _, err := accepted.Write([]byte("world")); err != nil {
		t.Fatalf("writing from accepted conn: %v", err)
	}
	got := make([]byte, 5)
	n, err := tr.Recv(got)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got[:n]) != "world" {
		t.Errorf("Recv = %q, want %q", got[:n], "world")
	}
}

func TestDialTCPUnknownFamily(t *testing.T) {
	_, err := dialTCP(dbus.Address{Options: map[string]string{"family": "carrier-pigeon"}})
	if err == nil {
		t.Error("expected an error for an unknown family")
	}
}

func TestDialNonceTCPWritesNonce(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	dir := t.TempDir()
	noncePath := filepath.Join(dir, "nonce")
	if err := os.WriteFile(noncePath, []byte("s3cr3t-nonce"), 0o600); err != nil {
		t.Fatalf("writing nonce fixture: %v", err)
	}

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	tr, err := dialNonceTCP(dbus.Address{Options: map[string]string{
		"host": host, "port": port, "noncefile": noncePath,
	}})
	if err != nil {
		t.Fatalf("dialNonceTCP: %v", err)
	}
	defer tr.Close()

	var accepted net.Conn
	select {
	case accepted = <-acceptedCh:
		defer accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed connection")
	}

	buf := make([]byte, len("s3cr3t-nonce"))
	if _, err := accepted.Read(buf); err != nil {
		t.Fatalf("reading nonce bytes: %v", err)
	}
	if string(buf) != "s3cr3t-nonce" {
		t.Errorf("bus received nonce %q, want %q", buf, "s3cr3t-nonce")
	}
}

func TestDialNonceTCPMissingFile(t *testing.T) {
	_, err := dialNonceTCP(dbus.Address{Options: map[string]string{
		"host": "127.0.0.1", "port": "1", "noncefile": "/nonexistent/path/to/nonce-" + strconv.Itoa(os.Getpid()),
	}})
	if err == nil {
		t.Error("expected an error for a missing noncefile")
	}
}
