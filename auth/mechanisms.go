package auth

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ExternalMechanism authenticates by the transport's own peer identity
// (e.g. SO_PEERCRED on a unix socket) rather than any challenge
// exchange — the server reads the credential off the connection
// itself and only checks that the hex-decoded initial response names
// the same uid. HandleChallenge is never expected to be called; the
// teacher's AuthExternal.ProcessData returns the same "unexpected"
// error for the same reason.
type ExternalMechanism struct {
	// UID is hex-encoded as the initial response, per §4.3's EXTERNAL
	// grammar. The teacher always sends os.Getuid(); dbuscore accepts
	// whatever credential the transport resolved so a non-unix
	// transport (or a uid-namespaced container) can supply its own.
	UID int64
}

func (m *ExternalMechanism) Name() string { return "EXTERNAL" }

func (m *ExternalMechanism) InitialResponse() (string, error) {
	return hex.EncodeToString([]byte(strconv.FormatInt(m.UID, 10))), nil
}

func (m *ExternalMechanism) HandleChallenge(challenge []byte) ([]byte, error) {
	return nil, fmt.Errorf("dbus: auth: EXTERNAL does not expect a server challenge")
}

// CookieSHA1Mechanism implements DBUS_COOKIE_SHA1 (§4.3): the client
// names a cookie context and its own hex-encoded username; the server
// challenges with "<context> <cookie-id> <server-challenge>"; the
// client looks up the matching cookie in its keyring file, generates
// its own challenge, and responds with
// hex(client-challenge + " " + sha1(server-challenge:client-challenge:cookie)).
type CookieSHA1Mechanism struct {
	// KeyringDir overrides the default "$HOME/.dbus-keyrings" — tests
	// can point this at a fixture directory instead of the real home.
	KeyringDir string
}

func (m *CookieSHA1Mechanism) Name() string { return "DBUS_COOKIE_SHA1" }

func (m *CookieSHA1Mechanism) InitialResponse() (string, error) {
	user := os.Getenv("USER")
	if user == "" {
		return "", fmt.Errorf("dbus: auth: DBUS_COOKIE_SHA1 needs $USER set")
	}
	return hex.EncodeToString([]byte(user)), nil
}

func (m *CookieSHA1Mechanism) HandleChallenge(challenge []byte) ([]byte, error) {
	parts := bytes.SplitN(challenge, []byte(" "), 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("dbus: auth: malformed DBUS_COOKIE_SHA1 challenge %q", challenge)
	}
	context, cookieID, serverChallenge := parts[0], parts[1], parts[2]

	cookie, err := m.lookupCookie(string(context), string(cookieID))
	if err != nil {
		return nil, err
	}

	rawChallenge := make([]byte, 16)
	if _, err := rand.Read(rawChallenge); err != nil {
		return nil, fmt.Errorf("dbus: auth: generating client challenge: %w", err)
	}
	clientChallenge := []byte(hex.EncodeToString(rawChallenge))

	h := sha1.New()
	h.Write(serverChallenge)
	h.Write([]byte(":"))
	h.Write(clientChallenge)
	h.Write([]byte(":"))
	h.Write(cookie)
	digest := hex.EncodeToString(h.Sum(nil))

	return append(append(clientChallenge, ' '), []byte(digest)...), nil
}

// lookupCookie reads the named keyring file looking for a line
// "<id> <created> <cookie>" whose id matches cookieID, per §4.3's
// "DBUS_COOKIE_SHA1... a shared-secret lookup against a local keyring
// file."
func (m *CookieSHA1Mechanism) lookupCookie(context, cookieID string) ([]byte, error) {
	dir := m.KeyringDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("dbus: auth: resolving keyring dir: %w", err)
		}
		dir = filepath.Join(home, ".dbus-keyrings")
	}
	f, err := os.Open(filepath.Join(dir, context))
	if err != nil {
		return nil, fmt.Errorf("dbus: auth: opening keyring %q: %w", context, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			fields := bytes.SplitN([]byte(line), []byte(" "), 3)
			if len(fields) == 3 && string(fields[0]) == cookieID {
				return bytes.TrimSpace(fields[2]), nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dbus: auth: reading keyring %q: %w", context, err)
		}
	}
	return nil, fmt.Errorf("dbus: auth: no cookie %q in keyring %q", cookieID, context)
}

// ExternalServerMechanism is the responder side of EXTERNAL: it trusts
// a uid the transport itself vouched for (PeerUID, typically read via
// SO_PEERCRED by the accepting transport before the handshake starts)
// and accepts a client whose hex-decoded initial response names that
// same uid. There is no challenge round-trip.
type ExternalServerMechanism struct {
	PeerUID int64
}

func (m *ExternalServerMechanism) Name() string { return "EXTERNAL" }

func (m *ExternalServerMechanism) Authenticate(initialResponse []byte) (bool, []byte, error) {
	if len(initialResponse) == 0 {
		// §4.3 allows an empty initial response followed by a DATA
		// round-trip; ask for it explicitly.
		return false, []byte{}, nil
	}
	claimed, err := strconv.ParseInt(string(initialResponse), 10, 64)
	if err != nil {
		return false, nil, fmt.Errorf("dbus: auth: EXTERNAL: malformed uid %q", initialResponse)
	}
	return claimed == m.PeerUID, nil, nil
}

func (m *ExternalServerMechanism) HandleResponse(response []byte) (bool, error) {
	claimed, err := strconv.ParseInt(string(response), 10, 64)
	if err != nil {
		return false, fmt.Errorf("dbus: auth: EXTERNAL: malformed uid %q", response)
	}
	return claimed == m.PeerUID, nil
}
