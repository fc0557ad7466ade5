package unix

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dbuscore/dbuscore"
)

func TestDialMissingOption(t *testing.T) {
	_, err := dial(dbus.Address{Options: map[string]string{}})
	if err == nil {
		t.Error("expected an error when neither path nor abstract is set")
	}
}

func TestDialPathRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "dbuscore-test.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	tr, err := dial(dbus.Address{Options: map[string]string{"path": sockPath}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	var accepted net.Conn
	select {
	case accepted = <-acceptedCh:
		defer accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed connection")
	}

	if err := tr.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := accepted.Read(buf); err != nil {
		t.Fatalf("reading from accepted conn: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("accepted side read %q, want %q", buf, "ping")
	}
}

func TestDialAbstractRoundTrip(t *testing.T) {
	name := "dbuscore-test-" + strconv.Itoa(os.Getpid())
	ln, err := net.Listen("unix", "@"+name)
	if err != nil {
		t.Skipf("abstract unix sockets unavailable: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	tr, err := dial(dbus.Address{Options: map[string]string{"abstract": name}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	select {
	case accepted := <-acceptedCh:
		defer accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed connection")
	}
}

func TestPeerCredentials(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "dbuscore-test-creds.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			acceptedCh <- c
		}
	}()

	tr, err := dial(dbus.Address{Options: map[string]string{"path": sockPath}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tr.Close()

	select {
	case accepted := <-acceptedCh:
		defer accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted the dialed connection")
	}

	creds, err := PeerCredentials(tr)
	if err != nil {
		t.Fatalf("PeerCredentials: %v", err)
	}
	if creds.UID != int64(os.Getuid()) {
		t.Errorf("UID = %d, want %d", creds.UID, os.Getuid())
	}
	if creds.PID != int64(os.Getpid()) {
		t.Errorf("PID = %d, want %d", creds.PID, os.Getpid())
	}
}

func TestPeerCredentialsRejectsForeignTransport(t *testing.T) {
	_, err := PeerCredentials(fakeTransport{})
	if err == nil {
		t.Error("expected an error for a non-unix transport")
	}
}

type fakeTransport struct{}

func (fakeTransport) Recv([]byte) (int, error) { return 0, nil }
func (fakeTransport) Send([]byte) error        { return nil }
func (fakeTransport) Close() error             { return nil }
