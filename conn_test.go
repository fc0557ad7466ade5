package dbus

import (
	"net"
	"testing"
	"time"

	"github.com/dbuscore/dbuscore/auth"
)

// pipeTransport adapts a net.Conn to Transport for tests that need a
// real Conn talking to a fake bus daemon on the other end of an
// in-memory pipe.
type pipeTransport struct {
	net.Conn
}

func (p pipeTransport) Recv(buf []byte) (int, error) { return p.Conn.Read(buf) }
func (p pipeTransport) Send(buf []byte) error {
	_, err := p.Conn.Write(buf)
	return err
}

// fakeBus runs the server side of the handshake plus a minimal
// dispatch loop that answers Hello with uniqueName and AddMatch with
// an empty reply, enough to exercise Dial/Call/AddMatch end to end
// without a real bus daemon.
type fakeBus struct {
	conn       net.Conn
	uniqueName string
}

func (b *fakeBus) run(t *testing.T) {
	sh := &auth.ServerHandshake{
		Mechanisms:  []auth.ServerMechanism{&auth.ExternalServerMechanism{PeerUID: 1000}},
		LineTimeout: time.Second,
		GUID:        "cafef00d",
	}
	stream := pipeTransport{b.conn}
	if _, err := sh.Run(stream); err != nil {
		t.Errorf("fake bus handshake: %v", err)
		return
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		for {
			total, ok, err := PeekMessageLength(buf)
			if err != nil {
				return
			}
			if !ok || len(buf) < total {
				break
			}
			msg, consumed, err := UnmarshalMessage(buf[:total])
			if err != nil {
				return
			}
			buf = buf[consumed:]
			if !b.handle(msg, stream) {
				return
			}
		}
		n, err := b.conn.Read(chunk)
		if err != nil {
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

func (b *fakeBus) handle(msg *Message, stream pipeTransport) bool {
	if msg.Type != TypeMethodCall {
		return true
	}
	var reply *Message
	switch msg.Member {
	case "Hello":
		reply = NewMethodReturn(msg)
		if err := reply.AppendArgs(b.uniqueName); err != nil {
			return false
		}
	case "AddMatch":
		reply = NewMethodReturn(msg)
	default:
		reply = NewErrorReply(msg, ErrorUnknownMethod, "no such method")
	}
	reply.Serial = msg.Serial + 1000
	wire, err := reply.Marshal()
	if err != nil {
		return false
	}
	return stream.Send(wire) == nil
}

func dialOverPipe(t *testing.T) (*Conn, *fakeBus) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	bus := &fakeBus{conn: serverConn, uniqueName: ":1.42"}
	go bus.run(t)

	conn, err := Dial(pipeTransport{clientConn}, []auth.Mechanism{&auth.ExternalMechanism{UID: 1000}},
		WithHelloTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn, bus
}

func TestDialAndHello(t *testing.T) {
	conn, _ := dialOverPipe(t)
	defer conn.Close()

	if conn.UniqueName != ":1.42" {
		t.Errorf("UniqueName = %q, want %q", conn.UniqueName, ":1.42")
	}
	if conn.State() != "ready" {
		t.Errorf("State() = %q, want %q", conn.State(), "ready")
	}
}

func TestConnBindAndDispatch(t *testing.T) {
	conn, bus := dialOverPipe(t)
	defer conn.Close()
	_ = bus

	called := make(chan string, 1)
	err := conn.Bind("/obj", "com.example.Iface", "Ping", func(call *Message) (*Message, error) {
		called <- "called"
		reply := NewMethodReturn(call)
		if err := reply.AppendArgs("pong"); err != nil {
			return nil, err
		}
		return reply, nil
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// Hand-deliver an incoming method call by going through dispatch on
	// the connection's own thread, as the read loop would.
	call := NewMethodCall("/obj", "com.example.Iface", "Ping")
	call.Serial = 777
	conn.call(func() { conn.dispatchCall(call) })

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestConnSerialSkipsLivePending(t *testing.T) {
	conn, _ := dialOverPipe(t)
	defer conn.Close()

	done := make(chan uint32, 1)
	conn.call(func() {
		conn.serial = 4
		conn.replies.add(5, replyReg{})
		done <- conn.nextSerial()
	})
	got := <-done
	if got != 6 {
		t.Errorf("nextSerial() = %d, want 6 (serial 5 is live and must be skipped)", got)
	}
}

func TestConnCloseDrainsPendingReplies(t *testing.T) {
	conn, _ := dialOverPipe(t)

	errCh := make(chan error, 1)
	conn.call(func() {
		conn.replies.add(999, replyReg{
			onError: func(re *RemoteError) { errCh <- re },
		})
	})

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected a non-nil disposition error for the drained reply")
		}
	case <-time.After(time.Second):
		t.Fatal("pending reply was not drained on Close")
	}
}

func TestConnCloseReleasesBindsAndMatches(t *testing.T) {
	conn, _ := dialOverPipe(t)

	if err := conn.Bind("/obj", "com.example.Iface", "Ping", func(call *Message) (*Message, error) {
		return NewMethodReturn(call), nil
	}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := conn.AddMatch(&MatchRule{Type: TypeSignal}, func(*Message) {}); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// fail() runs synchronously inside Close's conn.call, so by the time
	// Close returns the tables have already been replaced.
	if len(conn.binds.entries) != 0 {
		t.Error("Conn.binds was not reset by fail()")
	}
	if len(conn.matches.entries) != 0 {
		t.Error("Conn.matches was not reset by fail()")
	}
}

func TestConnReadLoopEnforcesMaxMessageSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	bus := &fakeBus{conn: serverConn, uniqueName: ":1.77"}
	go bus.run(t)

	conn, err := Dial(pipeTransport{clientConn}, []auth.Mechanism{&auth.ExternalMechanism{UID: 1000}},
		WithHelloTimeout(2*time.Second), WithMaxMessageSize(64))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	big := NewSignal("/obj", "com.example.Iface", "Changed")
	big.Serial = 1
	if err := big.AppendArgs(make([]byte, 4096)); err != nil {
		t.Fatalf("AppendArgs: %v", err)
	}
	wire, err := big.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	bus.conn.Write(wire)

	select {
	case <-conn.stopCh:
	case <-time.After(time.Second):
		t.Fatal("connection was not closed after receiving a message past the configured maximum")
	}
}
