package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestCookieSHA1HandleChallenge(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "org_example"), []byte("1 1700000000 supersecret\n"), 0o600); err != nil {
		t.Fatalf("writing keyring fixture: %v", err)
	}

	m := &CookieSHA1Mechanism{KeyringDir: dir}
	challenge := []byte("org_example 1 deadbeef")
	resp, err := m.HandleChallenge(challenge)
	if err != nil {
		t.Fatalf("HandleChallenge: %v", err)
	}

	fields := splitOnce(resp)
	if len(fields) != 2 {
		t.Fatalf("response %q does not have the form \"<challenge> <digest>\"", resp)
	}
	clientChallenge, digest := fields[0], fields[1]
	if len(clientChallenge) != 32 { // 16 random bytes, hex-encoded
		t.Errorf("client challenge %q has length %d, want 32", clientChallenge, len(clientChallenge))
	}

	h := sha1.New()
	h.Write([]byte("deadbeef"))
	h.Write([]byte(":"))
	h.Write([]byte(clientChallenge))
	h.Write([]byte(":"))
	h.Write([]byte("supersecret"))
	want := hex.EncodeToString(h.Sum(nil))
	if digest != want {
		t.Errorf("digest = %q, want %q", digest, want)
	}
}

func TestCookieSHA1UnknownCookieID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "org_example"), []byte("1 1700000000 supersecret\n"), 0o600); err != nil {
		t.Fatalf("writing keyring fixture: %v", err)
	}
	m := &CookieSHA1Mechanism{KeyringDir: dir}
	if _, err := m.HandleChallenge([]byte("org_example 999 deadbeef")); err == nil {
		t.Error("expected an error for a cookie id absent from the keyring")
	}
}

func splitOnce(b []byte) [2]string {
	s := string(b)
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}

func TestExternalServerMechanismRequestsDataOnEmptyInitial(t *testing.T) {
	m := &ExternalServerMechanism{PeerUID: 1000}
	ok, challenge, err := m.Authenticate(nil)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if ok {
		t.Error("expected Authenticate to ask for a DATA round-trip on an empty initial response")
	}
	if challenge == nil {
		t.Error("expected a non-nil (possibly empty) challenge to request DATA")
	}

	ok, err = m.HandleResponse([]byte("1000"))
	if err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if !ok {
		t.Error("expected HandleResponse to accept the matching uid")
	}
}
