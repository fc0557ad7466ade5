package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ServerMechanism is the responder-side half of a SASL mechanism:
// given the hex-decoded initial response from AUTH (or empty, if the
// client sent none), decide whether to accept, reject, or challenge.
type ServerMechanism interface {
	Name() string
	// Authenticate inspects the initial response and returns either
	// ok=true (accept immediately), or a non-nil (possibly empty)
	// challenge to send as a DATA line, or ok=false with a nil
	// challenge to reject.
	Authenticate(initialResponse []byte) (ok bool, challenge []byte, err error)
	// HandleResponse validates a client DATA reply to a challenge
	// this mechanism issued.
	HandleResponse(response []byte) (ok bool, err error)
}

// ServerHandshake runs the server (responder) role of §4.3 against a
// single client connection. It exists primarily so this package's own
// tests can exercise ClientHandshake against a real peer instead of a
// canned byte fixture, and so an embedder implementing a test bus or
// peer-to-peer listener (§4.3 allows either end to be the responder)
// doesn't have to hand-rol the line state machine twice.
type ServerHandshake struct {
	Mechanisms  []ServerMechanism
	LineTimeout time.Duration
	// GUID is sent on the OK line, identifying this server instance
	// per §4.3's "OK <server-guid>".
	GUID string
}

func (h *ServerHandshake) mechanism(name string) ServerMechanism {
	for _, m := range h.Mechanisms {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// Run drives stream through the handshake, returning the name of the
// mechanism the client successfully authenticated with.
func (h *ServerHandshake) Run(stream ByteStream) (string, error) {
	r := &lineReader{stream: stream}

	// The client's leading NUL byte, per §4.3.
	var nul [1]byte
	if _, err := stream.Recv(nul[:]); err != nil {
		return "", fmt.Errorf("dbus: auth: reading initial NUL: %w", err)
	}

	for {
		line, err := r.readLine(h.LineTimeout)
		if err != nil {
			return "", fmt.Errorf("dbus: auth: %w", err)
		}
		if !strings.HasPrefix(line, "AUTH") {
			if err := r.writeLine(stream, "ERROR"); err != nil {
				return "", err
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			if err := r.writeLine(stream, "ERROR \"no mechanism given\""); err != nil {
				return "", err
			}
			continue
		}
		mechName := fields[1]
		mech := h.mechanism(mechName)
		if mech == nil {
			if err := r.writeLine(stream, "REJECTED "+h.mechanismNames()); err != nil {
				return "", err
			}
			continue
		}

		var initial []byte
		if len(fields) >= 3 {
			initial, err = hex.DecodeString(fields[2])
			if err != nil {
				if err := r.writeLine(stream, "ERROR \"bad hex\""); err != nil {
					return "", err
				}
				continue
			}
		}

		accepted, err := h.negotiate(stream, r, mech, initial)
		if err != nil {
			return "", err
		}
		if accepted {
			return mechName, nil
		}
		if err := r.writeLine(stream, "REJECTED "+h.mechanismNames()); err != nil {
			return "", err
		}
	}
}

// negotiate runs one mechanism's challenge/response loop to
// completion, sending OK and consuming BEGIN on success.
func (h *ServerHandshake) negotiate(stream ByteStream, r *lineReader, mech ServerMechanism, initial []byte) (bool, error) {
	ok, challenge, err := mech.Authenticate(initial)
	if err != nil {
		return false, fmt.Errorf("dbus: auth: %s: %w", mech.Name(), err)
	}
	for !ok && challenge != nil {
		if err := r.writeLine(stream, "DATA "+hex.EncodeToString(challenge)); err != nil {
			return false, err
		}
		reply, err := r.readLine(h.LineTimeout)
		if err != nil {
			return false, fmt.Errorf("dbus: auth: %w", err)
		}
		switch {
		case strings.HasPrefix(reply, "DATA "):
			resp, err := hex.DecodeString(strings.TrimSpace(reply[len("DATA "):]))
			if err != nil {
				return false, fmt.Errorf("dbus: auth: malformed DATA: %w", err)
			}
			ok, err = mech.HandleResponse(resp)
			if err != nil {
				return false, fmt.Errorf("dbus: auth: %s: %w", mech.Name(), err)
			}
			challenge = nil
		case strings.HasPrefix(reply, "CANCEL"), strings.HasPrefix(reply, "ERROR"):
			return false, nil
		default:
			return false, fmt.Errorf("dbus: auth: unexpected line %q mid-negotiation", reply)
		}
	}
	if !ok {
		return false, nil
	}
	if err := r.writeLine(stream, "OK "+h.GUID); err != nil {
		return false, err
	}
	line, err := r.readLine(h.LineTimeout)
	if err != nil {
		return false, fmt.Errorf("dbus: auth: waiting for BEGIN: %w", err)
	}
	if !strings.HasPrefix(line, "BEGIN") {
		return false, fmt.Errorf("dbus: auth: expected BEGIN, got %q", line)
	}
	return true, nil
}

func (h *ServerHandshake) mechanismNames() string {
	names := make([]string, len(h.Mechanisms))
	for i, m := range h.Mechanisms {
		names[i] = m.Name()
	}
	return strings.Join(names, " ")
}
