package auth

import (
	"net"
	"testing"
	"time"
)

// pipeStream adapts a net.Conn to ByteStream for tests, and also
// implements deadlineSetter so LineTimeout plumbing gets exercised.
type pipeStream struct {
	net.Conn
}

func (p pipeStream) Recv(buf []byte) (int, error) { return p.Conn.Read(buf) }
func (p pipeStream) Send(buf []byte) error {
	_, err := p.Conn.Write(buf)
	return err
}

func TestExternalHandshakeAccepted(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientDone := make(chan struct{})
	var clientMech string
	var clientErr error
	go func() {
		defer close(clientDone)
		ch := &ClientHandshake{
			Mechanisms:  []Mechanism{&ExternalMechanism{UID: 1000}},
			LineTimeout: time.Second,
		}
		clientMech, _, clientErr = ch.Run(pipeStream{clientConn})
	}()

	sh := &ServerHandshake{
		Mechanisms:  []ServerMechanism{&ExternalServerMechanism{PeerUID: 1000}},
		LineTimeout: time.Second,
		GUID:        "deadbeef",
	}
	serverMech, serverErr := sh.Run(pipeStream{serverConn})
	<-clientDone

	if clientErr != nil {
		t.Fatalf("client handshake: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server handshake: %v", serverErr)
	}
	if clientMech != "EXTERNAL" || serverMech != "EXTERNAL" {
		t.Errorf("got client=%q server=%q, want both EXTERNAL", clientMech, serverMech)
	}
}

func TestExternalHandshakeRejectedOnUIDMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientDone := make(chan struct{})
	var clientErr error
	go func() {
		defer close(clientDone)
		ch := &ClientHandshake{
			Mechanisms:  []Mechanism{&ExternalMechanism{UID: 1000}},
			LineTimeout: time.Second,
		}
		_, _, clientErr = ch.Run(pipeStream{clientConn})
	}()

	sh := &ServerHandshake{
		Mechanisms:  []ServerMechanism{&ExternalServerMechanism{PeerUID: 2000}},
		LineTimeout: 100 * time.Millisecond,
	}
	_, serverErr := sh.Run(pipeStream{serverConn})
	<-clientDone

	if clientErr == nil {
		t.Error("expected the client handshake to fail when every mechanism is rejected")
	}
	if serverErr == nil {
		t.Error("expected the server handshake to report an error once no mechanism matched")
	}
}
