package jwtauth

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nats-io/nkeys"
)

// TestJWTHeaderExact is Testable Property 4: every minted JWT's header
// segment decodes to exactly {"typ":"JWT","alg":"ed25519-nkey"}.
func TestJWTHeaderExact(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	jwt, err := mgr.GenerateOperatorJWT("Avena", "")
	if err != nil {
		t.Fatalf("GenerateOperatorJWT() error: %v", err)
	}

	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		t.Fatalf("JWT should have 3 dot-separated segments, got %d: %q", len(parts), jwt)
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		t.Fatalf("header segment is not valid base64url (no padding): %v", err)
	}
	if string(headerBytes) != `{"typ":"JWT","alg":"ed25519-nkey"}` {
		t.Errorf("header = %q, want exact literal %q", headerBytes, `{"typ":"JWT","alg":"ed25519-nkey"}`)
	}
}

func TestJWTSignatureVerifies(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	pub, err := mgr.OperatorPubKey()
	if err != nil {
		t.Fatalf("OperatorPubKey() error: %v", err)
	}
	jwt, err := mgr.GenerateOperatorJWT("Avena", "")
	if err != nil {
		t.Fatalf("GenerateOperatorJWT() error: %v", err)
	}

	parts := strings.Split(jwt, ".")
	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		t.Fatalf("signature segment is not valid base64url: %v", err)
	}

	verifier, err := nkeys.FromPublicKey(pub)
	if err != nil {
		t.Fatalf("FromPublicKey() error: %v", err)
	}
	if err := verifier.Verify([]byte(signingInput), sig); err != nil {
		t.Errorf("signature did not verify: %v", err)
	}
}

func TestOperatorClaimsShape(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	pub, _ := mgr.OperatorPubKey()
	jwt, err := mgr.GenerateOperatorJWT("Avena", "sys-pub-key")
	if err != nil {
		t.Fatalf("GenerateOperatorJWT() error: %v", err)
	}

	parts := strings.Split(jwt, ".")
	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("claims segment is not valid base64url: %v", err)
	}
	var claims OperatorClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		t.Fatalf("claims did not unmarshal: %v", err)
	}
	if claims.ISS != pub || claims.Sub != pub {
		t.Errorf("iss/sub should equal operator pubkey: iss=%q sub=%q want %q", claims.ISS, claims.Sub, pub)
	}
	if claims.Nats.ClaimType != "operator" || claims.Nats.Version != 2 {
		t.Errorf("nats claim type/version = %q/%d, want operator/2", claims.Nats.ClaimType, claims.Nats.Version)
	}
	if claims.Nats.SystemAccount != "sys-pub-key" {
		t.Errorf("system_account = %q, want %q", claims.Nats.SystemAccount, "sys-pub-key")
	}
}

func TestAccountClaimsJetStreamTier(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	accountKP, err := nkeys.CreateAccount()
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	jwt, err := mgr.GenerateAccountJWT("AVENA", accountKP, true)
	if err != nil {
		t.Fatalf("GenerateAccountJWT() error: %v", err)
	}
	parts := strings.Split(jwt, ".")
	claimsBytes, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var claims AccountClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		t.Fatalf("claims did not unmarshal: %v", err)
	}
	if claims.Nats.Limits == nil || claims.Nats.Limits.TieredLimits == nil {
		t.Fatal("expected a tiered JetStream limit when enableJetStream is true")
	}
	if _, ok := claims.Nats.Limits.TieredLimits["R1"]; !ok {
		t.Error("expected an R1 tier entry")
	}

	jwtNoJS, err := mgr.GenerateAccountJWT("SYS", accountKP, false)
	if err != nil {
		t.Fatalf("GenerateAccountJWT() error: %v", err)
	}
	parts = strings.Split(jwtNoJS, ".")
	claimsBytes, _ = base64.RawURLEncoding.DecodeString(parts[1])
	var claimsNoJS AccountClaims
	if err := json.Unmarshal(claimsBytes, &claimsNoJS); err != nil {
		t.Fatalf("claims did not unmarshal: %v", err)
	}
	if claimsNoJS.Nats.Limits.TieredLimits != nil {
		t.Error("expected no tiered limits when enableJetStream is false")
	}
}

func TestUserJWTScopedPermissions(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	accountKP, err := nkeys.CreateAccount()
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	jwt, userKP, err := mgr.GenerateUserJWT(accountKP, "leaf-dev-b", []string{">"}, []string{">"})
	if err != nil {
		t.Fatalf("GenerateUserJWT() error: %v", err)
	}
	if userKP == nil {
		t.Fatal("expected a freshly minted user keypair")
	}

	parts := strings.Split(jwt, ".")
	claimsBytes, _ := base64.RawURLEncoding.DecodeString(parts[1])
	var claims UserClaims
	if err := json.Unmarshal(claimsBytes, &claims); err != nil {
		t.Fatalf("claims did not unmarshal: %v", err)
	}
	accountPub, _ := accountKP.PublicKey()
	if claims.ISS != accountPub {
		t.Errorf("iss = %q, want account pubkey %q", claims.ISS, accountPub)
	}
	if claims.Name != "leaf-dev-b" {
		t.Errorf("name = %q, want %q", claims.Name, "leaf-dev-b")
	}
	if claims.Nats.Pub == nil || len(claims.Nats.Pub.Allow) != 1 || claims.Nats.Pub.Allow[0] != ">" {
		t.Errorf("pub allow = %+v, want [\">\"]", claims.Nats.Pub)
	}
}

func TestCreateCredsFileFormat(t *testing.T) {
	userKP, err := nkeys.CreateUser()
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	creds, err := CreateCredsFile("fake.jwt.value", userKP)
	if err != nil {
		t.Fatalf("CreateCredsFile() error: %v", err)
	}
	if !strings.Contains(creds, "-----BEGIN NATS USER JWT-----") {
		t.Error("missing JWT begin banner")
	}
	if !strings.Contains(creds, "-----BEGIN USER NKEY SEED-----") {
		t.Error("missing seed begin banner")
	}
	if !strings.Contains(creds, "fake.jwt.value") {
		t.Error("creds file should embed the jwt")
	}
	seed, _ := userKP.Seed()
	if !strings.Contains(creds, string(seed)) {
		t.Error("creds file should embed the user seed")
	}
}

func TestLoadOrGeneratePersistsOperatorSeed(t *testing.T) {
	dir := t.TempDir()

	mgr1, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error: %v", err)
	}
	pub1, _ := mgr1.OperatorPubKey()

	if _, err := os.Stat(filepath.Join(dir, "operator.nk")); err != nil {
		t.Fatalf("expected operator.nk to be written: %v", err)
	}

	mgr2, err := LoadOrGenerate(dir)
	if err != nil {
		t.Fatalf("second LoadOrGenerate() error: %v", err)
	}
	pub2, _ := mgr2.OperatorPubKey()

	if pub1 != pub2 {
		t.Errorf("operator identity should survive reload: got %q, want %q", pub2, pub1)
	}
}

func TestSetupOperatorModeWritesFullChain(t *testing.T) {
	dir := t.TempDir()

	boot, err := SetupOperatorMode(dir)
	if err != nil {
		t.Fatalf("SetupOperatorMode() error: %v", err)
	}
	if boot.SysAccountKP == nil || boot.AvenaAccountKP == nil {
		t.Fatal("expected SYS and AVENA account keypairs")
	}

	for _, name := range []string{
		"operator.nk", "operator.jwt",
		"SYS.nk", "SYS.jwt", "sys-admin.creds",
		"AVENA.nk", "AVENA.jwt", "avena-admin.creds",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "avena-admin.creds"))
	if err != nil {
		t.Fatalf("read avena-admin.creds: %v", err)
	}
	if !strings.Contains(string(data), "BEGIN NATS USER JWT") {
		t.Error("avena-admin.creds missing JWT banner")
	}
}

func TestSetupOperatorModeIdempotent(t *testing.T) {
	dir := t.TempDir()

	boot1, err := SetupOperatorMode(dir)
	if err != nil {
		t.Fatalf("first SetupOperatorMode() error: %v", err)
	}
	sysPub1, _ := boot1.SysAccountKP.PublicKey()

	boot2, err := SetupOperatorMode(dir)
	if err != nil {
		t.Fatalf("second SetupOperatorMode() error: %v", err)
	}
	sysPub2, _ := boot2.SysAccountKP.PublicKey()

	if sysPub1 != sysPub2 {
		t.Errorf("SYS account identity should survive re-running setup: got %q, want %q", sysPub2, sysPub1)
	}
}

func TestGenerateLeafUserCredsWritesFile(t *testing.T) {
	mgr, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	avenaKP, err := nkeys.CreateAccount()
	if err != nil {
		t.Fatalf("CreateAccount() error: %v", err)
	}

	dir := t.TempDir()
	creds, path, err := GenerateLeafUserCreds(mgr, avenaKP, "dev-remote-id", dir)
	if err != nil {
		t.Fatalf("GenerateLeafUserCreds() error: %v", err)
	}
	if path != filepath.Join(dir, "dev-remote-id.creds") {
		t.Errorf("path = %q, want %q", path, filepath.Join(dir, "dev-remote-id.creds"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(data) != creds {
		t.Error("written creds file should match returned creds string")
	}
}
