package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nats-io/nkeys"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	seed, err := kp.Seed()
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error: %v", err)
	}

	id := &Identity{ID: "dev-a", PubKey: pub, seed: string(seed)}

	msg := []byte("nonce-123|dev-a")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !Verify(pub, msg, sig) {
		t.Error("Verify() = false for a genuine signature")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, _ := nkeys.CreateUser()
	seed, _ := kp.Seed()
	pub, _ := kp.PublicKey()
	id := &Identity{ID: "dev-a", PubKey: pub, seed: string(seed)}

	sig, err := id.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Error("Verify() = true for a tampered message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := nkeys.CreateUser()
	seed1, _ := kp1.Seed()
	pub1, _ := kp1.PublicKey()
	id1 := &Identity{ID: "dev-a", PubKey: pub1, seed: string(seed1)}

	kp2, _ := nkeys.CreateUser()
	pub2, _ := kp2.PublicKey()

	sig, err := id1.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if Verify(pub2, []byte("hello"), sig) {
		t.Error("Verify() = true under the wrong public key")
	}
}

func TestVerifyMalformedInputsReject(t *testing.T) {
	kp, _ := nkeys.CreateUser()
	pub, _ := kp.PublicKey()

	if Verify(pub, []byte("hello"), "not-base64!!!") {
		t.Error("Verify() should reject a non-base64 signature")
	}
	if Verify("not-a-valid-pubkey", []byte("hello"), "c2lnbmF0dXJl") {
		t.Error("Verify() should reject a malformed public key")
	}
}

func TestSeedValid(t *testing.T) {
	kp, _ := nkeys.CreateUser()
	seed, _ := kp.Seed()

	if !seedValid(string(seed)) {
		t.Error("seedValid() = false for a genuine seed")
	}
	if seedValid("") {
		t.Error("seedValid() = true for an empty seed")
	}
	if seedValid("   ") {
		t.Error("seedValid() = true for a whitespace-only seed")
	}
	if seedValid("not-a-real-seed") {
		t.Error("seedValid() = true for garbage input")
	}
}

func TestLoadOrGenerateCreatesAndPersists(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	id, err := LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate() error: %v", err)
	}
	if id.ID == "" || id.PubKey == "" {
		t.Fatalf("LoadOrGenerate() produced an incomplete identity: %+v", id)
	}

	path := filepath.Join(dir, ".local", "share", "avena", "device.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected persisted state at %s: %v", path, err)
	}

	again, err := LoadOrGenerate()
	if err != nil {
		t.Fatalf("second LoadOrGenerate() error: %v", err)
	}
	if again.ID != id.ID || again.PubKey != id.PubKey {
		t.Errorf("second load produced different identity: got %+v, want %+v", again, id)
	}
}

func TestLoadOrGenerateRegeneratesCorruptSeed(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	statePath := filepath.Join(dir, ".local", "share", "avena", "device.json")
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		t.Fatalf("MkdirAll() error: %v", err)
	}
	corrupt := `{"id":"dev-fixed-id","pubkey":"garbage","seed":"not-a-real-seed"}`
	if err := os.WriteFile(statePath, []byte(corrupt), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	id, err := LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate() error: %v", err)
	}
	if id.ID != "dev-fixed-id" {
		t.Errorf("device id should survive seed regeneration: got %q, want %q", id.ID, "dev-fixed-id")
	}
	if id.PubKey == "garbage" {
		t.Error("pubkey should have been regenerated, not left as garbage")
	}
}

func TestLoadTokenFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("AVENA_NETWORK_TOKEN", "shared-secret-token")

	id, err := LoadOrGenerate()
	if err != nil {
		t.Fatalf("LoadOrGenerate() error: %v", err)
	}
	if id.NetworkToken != "shared-secret-token" {
		t.Errorf("NetworkToken = %q, want %q", id.NetworkToken, "shared-secret-token")
	}
}
