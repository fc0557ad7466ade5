// Package auth implements the D-Bus SASL-profile authentication
// handshake (§4.3): a line-oriented, CRLF-terminated state machine run
// before any message traffic, for both the client (initiator) and
// server (responder) roles. The state machine itself is
// mechanism-agnostic — see mechanisms.go for EXTERNAL and
// DBUS_COOKIE_SHA1, which the teacher's auth.go bakes directly into
// the Authenticator interface rather than separating state machine
// from mechanism.
package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ByteStream is the minimal read/write contract the handshake needs.
// Satisfied structurally by dbuscore's Transport (Recv/Send/Close) —
// auth does not import the core package, avoiding an import cycle,
// since Go interface satisfaction only requires matching method sets.
type ByteStream interface {
	Recv(buf []byte) (int, error)
	Send(buf []byte) error
}

// deadlineSetter is implemented by streams that can bound a Recv call
// (e.g. a net.Conn-backed transport). lineReader type-asserts for it
// so LineTimeout has teeth on a transport that supports it, and is a
// no-op otherwise.
type deadlineSetter interface {
	SetReadDeadline(t time.Time) error
}

// Mechanism is a single SASL mechanism's challenge-response logic. The
// handshake state machine delegates all mechanism-specific work here,
// per spec §4.3 ("mechanism-agnostic, delegating challenge handling to
// a per-mechanism callback set").
type Mechanism interface {
	// Name is the mechanism's wire name, e.g. "EXTERNAL".
	Name() string
	// InitialResponse is hex-encoded and sent on the AUTH line.
	InitialResponse() (string, error)
	// HandleChallenge computes the client's DATA response to a
	// server challenge (already hex-decoded). Mechanisms with no
	// challenge round-trip (EXTERNAL) can return an error; the state
	// machine only calls this after a server DATA line, which such a
	// mechanism does not expect to receive.
	HandleChallenge(challenge []byte) (response []byte, err error)
}

type clientState int

const (
	stateStart clientState = iota
	stateWaitData
	stateDone
)

// ClientHandshake runs the client (initiator) role of §4.3 against one
// or more candidate mechanisms, trying each in turn until one is
// accepted.
type ClientHandshake struct {
	Mechanisms  []Mechanism
	LineTimeout time.Duration
}

// Run drives stream through the handshake. On success it returns the
// negotiated mechanism's name and any bytes read past the server's OK
// line that already belong to the message stream — a
// pipelined server may have written its first reply in the same
// packet as OK — which the caller must prepend to its own receive
// buffer rather than discard.
func (h *ClientHandshake) Run(stream ByteStream) (mechanism string, leftover []byte, err error) {
	if len(h.Mechanisms) == 0 {
		return "", nil, fmt.Errorf("dbus: auth: no mechanisms configured")
	}
	r := &lineReader{stream: stream}

	if err := stream.Send([]byte{0}); err != nil {
		return "", nil, fmt.Errorf("dbus: auth: send initial NUL: %w", err)
	}

	for _, mech := range h.Mechanisms {
		accepted, err := h.tryMechanism(stream, r, mech)
		if err != nil {
			return "", nil, err
		}
		if accepted {
			return mech.Name(), r.buf, nil
		}
	}
	return "", nil, fmt.Errorf("dbus: auth: server rejected every offered mechanism")
}

// tryMechanism runs wait-data for a single AUTH attempt, returning
// (true, nil) on OK, (false, nil) on REJECTED (so the caller may try
// the next mechanism), and a non-nil error for anything fatal
// (ERROR, a malformed line, or a mechanism callback failure).
func (h *ClientHandshake) tryMechanism(stream ByteStream, r *lineReader, mech Mechanism) (bool, error) {
	initial, err := mech.InitialResponse()
	if err != nil {
		return false, fmt.Errorf("dbus: auth: %s initial response: %w", mech.Name(), err)
	}
	line := "AUTH " + mech.Name()
	if initial != "" {
		line += " " + initial
	}
	if err := r.writeLine(stream, line); err != nil {
		return false, err
	}

	state := stateWaitData
	for state == stateWaitData {
		reply, err := r.readLine(h.LineTimeout)
		if err != nil {
			return false, fmt.Errorf("dbus: auth: %w", err)
		}
		switch {
		case strings.HasPrefix(reply, "OK "):
			if err := r.writeLine(stream, "BEGIN"); err != nil {
				return false, err
			}
			state = stateDone
			return true, nil
		case strings.HasPrefix(reply, "DATA "):
			challengeHex := strings.TrimSpace(reply[len("DATA "):])
			challenge, err := hex.DecodeString(challengeHex)
			if err != nil {
				_ = r.writeLine(stream, "CANCEL")
				return false, fmt.Errorf("dbus: auth: malformed DATA: %w", err)
			}
			resp, err := mech.HandleChallenge(challenge)
			if err != nil {
				_ = r.writeLine(stream, "CANCEL")
				return false, fmt.Errorf("dbus: auth: %s: %w", mech.Name(), err)
			}
			if err := r.writeLine(stream, "DATA "+hex.EncodeToString(resp)); err != nil {
				return false, err
			}
		case strings.HasPrefix(reply, "REJECTED"):
			return false, nil
		case strings.HasPrefix(reply, "ERROR"):
			return false, fmt.Errorf("dbus: auth: server error: %s", reply)
		default:
			_ = r.writeLine(stream, "ERROR")
			return false, fmt.Errorf("dbus: auth: unexpected line %q", reply)
		}
	}
	return false, fmt.Errorf("dbus: auth: unreachable")
}

// lineReader buffers partial CRLF-terminated lines read off a
// ByteStream, per §4.3's "partial lines are buffered until a CRLF
// arrives."
type lineReader struct {
	stream ByteStream
	buf    []byte
}

func (r *lineReader) writeLine(stream ByteStream, line string) error {
	if err := stream.Send([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("dbus: auth: write %q: %w", line, err)
	}
	return nil
}

func (r *lineReader) readLine(timeout time.Duration) (string, error) {
	if ds, ok := r.stream.(deadlineSetter); ok && timeout > 0 {
		defer ds.SetReadDeadline(time.Time{})
	}
	for {
		if i := indexCRLF(r.buf); i >= 0 {
			line := string(r.buf[:i])
			r.buf = r.buf[i+2:]
			return line, nil
		}
		if ds, ok := r.stream.(deadlineSetter); ok && timeout > 0 {
			if err := ds.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return "", fmt.Errorf("set read deadline: %w", err)
			}
		}
		chunk := make([]byte, 4096)
		n, err := r.stream.Recv(chunk)
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
		r.buf = append(r.buf, chunk[:n]...)
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}
