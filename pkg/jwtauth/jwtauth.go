/*
Package jwtauth implements the operator/account/user credential authority for
the local NATS mesh: it mints the JWT chain that authorizes leaf-node peers
and writes the dual-banner creds files nats.go expects to find on disk.

The JWTs produced here are hand-signed rather than built with nats-io/jwt/v2:
the wire format (header, claim field order, and signing input) must match
exactly what the local broker's JWT account resolver expects, and that
format is reproduced faithfully from the operator-mode bootstrap this
package replaces.
*/
package jwtauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nkeys"
)

const jwtHeader = `{"typ":"JWT","alg":"ed25519-nkey"}`

// OperatorNats is the nats.v2 operator claim body.
type OperatorNats struct {
	ClaimType    string   `json:"type"`
	Version      uint8    `json:"version"`
	SystemAccount string  `json:"system_account,omitempty"`
	SigningKeys  []string `json:"signing_keys"`
}

// OperatorClaims is the top-level operator JWT claim set.
type OperatorClaims struct {
	JTI  string       `json:"jti"`
	IAT  int64        `json:"iat"`
	ISS  string       `json:"iss"`
	Name string       `json:"name"`
	Sub  string       `json:"sub"`
	Nats OperatorNats `json:"nats"`
}

// JetStreamLimits is the per-tier JetStream resource ceiling.
type JetStreamLimits struct {
	MemStorage         int64 `json:"mem_storage"`
	DiskStorage        int64 `json:"disk_storage"`
	Streams            int64 `json:"streams"`
	Consumer           int64 `json:"consumer"`
	MaxAckPending      *int64 `json:"max_ack_pending,omitempty"`
	MemMaxStreamBytes  *int64 `json:"mem_max_stream_bytes,omitempty"`
	DiskMaxStreamBytes *int64 `json:"disk_max_stream_bytes,omitempty"`
	MaxBytesRequired   *bool  `json:"max_bytes_required,omitempty"`
}

// AccountLimits is the account-level connection/subscription/storage ceiling.
type AccountLimits struct {
	Subs         int64                       `json:"subs"`
	Conn         int64                       `json:"conn"`
	LeafNodeConn int64                       `json:"leaf"`
	Imports      int64                       `json:"imports"`
	Exports      int64                       `json:"exports"`
	Data         int64                       `json:"data"`
	Payload      int64                       `json:"payload"`
	Wildcards    bool                        `json:"wildcards"`
	TieredLimits map[string]JetStreamLimits  `json:"tiered_limits,omitempty"`
}

// PermissionRules is an allow/deny subject list.
type PermissionRules struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Permissions is the default pub/sub permission set an account grants its users.
type Permissions struct {
	Publish   PermissionRules `json:"publish"`
	Subscribe PermissionRules `json:"subscribe"`
}

// AccountNats is the nats.v2 account claim body.
type AccountNats struct {
	ClaimType          string       `json:"type"`
	Version            uint8        `json:"version"`
	Limits             *AccountLimits `json:"limits,omitempty"`
	DefaultPermissions *Permissions   `json:"default_permissions,omitempty"`
}

// AccountClaims is the top-level account JWT claim set.
type AccountClaims struct {
	JTI  string      `json:"jti"`
	IAT  int64       `json:"iat"`
	ISS  string      `json:"iss"`
	Name string      `json:"name"`
	Sub  string      `json:"sub"`
	Nats AccountNats `json:"nats"`
}

// ResponsePermission bounds how many replies, and for how long, a user may send.
type ResponsePermission struct {
	Max int32 `json:"max"`
	TTL int64 `json:"ttl"`
}

// UserNats is the nats.v2 user claim body.
type UserNats struct {
	ClaimType string               `json:"type"`
	Version   uint8                `json:"version"`
	Pub       *PermissionRules     `json:"pub,omitempty"`
	Sub       *PermissionRules     `json:"sub,omitempty"`
	Resp      *ResponsePermission  `json:"resp,omitempty"`
	Subs      *int64               `json:"subs,omitempty"`
	Data      *int64               `json:"data,omitempty"`
	Payload   *int64               `json:"payload,omitempty"`
}

// UserClaims is the top-level user JWT claim set.
type UserClaims struct {
	JTI  string   `json:"jti"`
	IAT  int64    `json:"iat"`
	ISS  string   `json:"iss"`
	Name string   `json:"name"`
	Sub  string   `json:"sub"`
	Nats UserNats `json:"nats"`
}

// Manager holds the operator keypair and mints the JWT chain beneath it.
type Manager struct {
	operator nkeys.KeyPair
}

// New creates a manager around a fresh, in-memory-only operator keypair.
func New() (*Manager, error) {
	kp, err := nkeys.CreateOperator()
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate operator keypair: %w", err)
	}
	return &Manager{operator: kp}, nil
}

// FromKeyPair wraps an already-loaded operator keypair.
func FromKeyPair(kp nkeys.KeyPair) *Manager { return &Manager{operator: kp} }

// LoadOrGenerate loads the operator seed from <cfgDir>/operator.nk, creating
// it if absent.
func LoadOrGenerate(cfgDir string) (*Manager, error) {
	path := filepath.Join(cfgDir, "operator.nk")
	kp, err := loadOrCreateSeed(path, cfgDir, nkeys.CreateOperator)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: load or generate operator keypair: %w", err)
	}
	return &Manager{operator: kp}, nil
}

func loadOrCreateSeed(path, dir string, create func() (nkeys.KeyPair, error)) (nkeys.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return nkeys.FromSeed([]byte(strings.TrimSpace(string(data))))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	kp, err := create()
	if err != nil {
		return nil, err
	}
	seed, err := kp.Seed()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}

// OperatorPubKey returns the operator's public key.
func (m *Manager) OperatorPubKey() (string, error) { return m.operator.PublicKey() }

// GenerateOperatorJWT mints and signs the operator claim.
func (m *Manager) GenerateOperatorJWT(name string, systemAccount string) (string, error) {
	pub, err := m.operator.PublicKey()
	if err != nil {
		return "", fmt.Errorf("jwtauth: operator public key: %w", err)
	}
	claims := OperatorClaims{
		JTI:  uuid.NewString(),
		IAT:  time.Now().Unix(),
		ISS:  pub,
		Name: name,
		Sub:  pub,
		Nats: OperatorNats{ClaimType: "operator", Version: 2, SystemAccount: systemAccount, SigningKeys: []string{}},
	}
	return signJWT(claims, m.operator)
}

// GenerateAccountJWT mints an account claim signed by the operator, enabling
// a single unlimited JetStream tier when enableJetStream is set.
func (m *Manager) GenerateAccountJWT(name string, accountKP nkeys.KeyPair, enableJetStream bool) (string, error) {
	pub, err := accountKP.PublicKey()
	if err != nil {
		return "", fmt.Errorf("jwtauth: account public key: %w", err)
	}
	issuer, err := m.operator.PublicKey()
	if err != nil {
		return "", fmt.Errorf("jwtauth: operator public key: %w", err)
	}

	var tiered map[string]JetStreamLimits
	if enableJetStream {
		unlimited := int64(-1)
		falseVal := false
		tiered = map[string]JetStreamLimits{
			"R1": {
				MemStorage: -1, DiskStorage: -1, Streams: -1, Consumer: -1,
				MaxAckPending: &unlimited, MemMaxStreamBytes: &unlimited,
				DiskMaxStreamBytes: &unlimited, MaxBytesRequired: &falseVal,
			},
		}
	}

	claims := AccountClaims{
		JTI:  uuid.NewString(),
		IAT:  time.Now().Unix(),
		ISS:  issuer,
		Name: name,
		Sub:  pub,
		Nats: AccountNats{
			ClaimType: "account",
			Version:   2,
			Limits: &AccountLimits{
				Subs: -1, Conn: -1, LeafNodeConn: -1, Imports: -1, Exports: -1,
				Data: -1, Payload: -1, Wildcards: true, TieredLimits: tiered,
			},
		},
	}
	return signJWT(claims, m.operator)
}

// GenerateUserJWT mints a fresh user keypair and a user claim signed by
// accountKP, scoped to pubAllow/subAllow subjects.
func (m *Manager) GenerateUserJWT(accountKP nkeys.KeyPair, name string, pubAllow, subAllow []string) (string, nkeys.KeyPair, error) {
	userKP, err := nkeys.CreateUser()
	if err != nil {
		return "", nil, fmt.Errorf("jwtauth: generate user keypair: %w", err)
	}
	pub, err := userKP.PublicKey()
	if err != nil {
		return "", nil, fmt.Errorf("jwtauth: user public key: %w", err)
	}
	issuer, err := accountKP.PublicKey()
	if err != nil {
		return "", nil, fmt.Errorf("jwtauth: account public key: %w", err)
	}

	subs, data, payload := int64(-1), int64(-1), int64(-1)
	claims := UserClaims{
		JTI:  uuid.NewString(),
		IAT:  time.Now().Unix(),
		ISS:  issuer,
		Name: name,
		Sub:  pub,
		Nats: UserNats{
			ClaimType: "user",
			Version:   2,
			Pub:       &PermissionRules{Allow: pubAllow},
			Sub:       &PermissionRules{Allow: subAllow},
			Subs:      &subs,
			Data:      &data,
			Payload:   &payload,
		},
	}
	jwt, err := signJWT(claims, accountKP)
	if err != nil {
		return "", nil, err
	}
	return jwt, userKP, nil
}

func signJWT(claims interface{}, signer nkeys.KeyPair) (string, error) {
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("jwtauth: marshal claims: %w", err)
	}
	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)
	headerB64 := base64.RawURLEncoding.EncodeToString([]byte(jwtHeader))

	signingInput := headerB64 + "." + claimsB64
	sig, err := signer.Sign([]byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("jwtauth: sign: %w", err)
	}
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return signingInput + "." + sigB64, nil
}

// CreateCredsFile renders the dual-banner creds file format nats.go's
// nats.UserCredentials loader expects: a JWT block followed by an NKEY seed
// block.
func CreateCredsFile(jwt string, userKP nkeys.KeyPair) (string, error) {
	seed, err := userKP.Seed()
	if err != nil {
		return "", fmt.Errorf("jwtauth: extract user seed: %w", err)
	}
	return fmt.Sprintf(
		"-----BEGIN NATS USER JWT-----\n%s\n------END NATS USER JWT------\n\n"+
			"************************* IMPORTANT *************************\n"+
			"NKEY Seed printed below can be used to sign and prove identity.\n"+
			"NKEYs are sensitive and should be treated as secrets.\n\n"+
			"-----BEGIN USER NKEY SEED-----\n%s\n------END USER NKEY SEED------\n\n"+
			"*************************************************************\n",
		jwt, seed,
	), nil
}

// Bootstrap is the result of standing up the full operator/SYS/AVENA chain.
type Bootstrap struct {
	Manager        *Manager
	SysAccountKP   nkeys.KeyPair
	AvenaAccountKP nkeys.KeyPair
}

// SetupOperatorMode bootstraps (or loads, if already present) the full
// operator → {SYS, AVENA} account → admin user credential chain under
// cfgDir, writing every JWT/seed/creds file the rendered broker config and
// the mesh reconciler's reload path depend on.
func SetupOperatorMode(cfgDir string) (*Bootstrap, error) {
	mgr, err := LoadOrGenerate(cfgDir)
	if err != nil {
		return nil, err
	}

	sysKP, err := loadOrCreateSeed(filepath.Join(cfgDir, "SYS.nk"), cfgDir, nkeys.CreateAccount)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: load or generate SYS account keypair: %w", err)
	}
	sysJWT, err := mgr.GenerateAccountJWT("SYS", sysKP, false)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate SYS account jwt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "SYS.jwt"), []byte(sysJWT), 0o644); err != nil {
		return nil, fmt.Errorf("jwtauth: write SYS.jwt: %w", err)
	}

	sysPub, err := sysKP.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("jwtauth: SYS account public key: %w", err)
	}
	operatorJWT, err := mgr.GenerateOperatorJWT("Avena", sysPub)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate operator jwt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "operator.jwt"), []byte(operatorJWT), 0o644); err != nil {
		return nil, fmt.Errorf("jwtauth: write operator.jwt: %w", err)
	}

	sysAdminJWT, sysAdminKP, err := mgr.GenerateUserJWT(sysKP, "sys-admin", []string{">"}, []string{">"})
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate sys-admin user jwt: %w", err)
	}
	sysAdminCreds, err := CreateCredsFile(sysAdminJWT, sysAdminKP)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "sys-admin.creds"), []byte(sysAdminCreds), 0o600); err != nil {
		return nil, fmt.Errorf("jwtauth: write sys-admin.creds: %w", err)
	}

	avenaKP, err := loadOrCreateSeed(filepath.Join(cfgDir, "AVENA.nk"), cfgDir, nkeys.CreateAccount)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: load or generate AVENA account keypair: %w", err)
	}
	avenaJWT, err := mgr.GenerateAccountJWT("AVENA", avenaKP, true)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate AVENA account jwt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "AVENA.jwt"), []byte(avenaJWT), 0o644); err != nil {
		return nil, fmt.Errorf("jwtauth: write AVENA.jwt: %w", err)
	}

	avenaAdminJWT, avenaAdminKP, err := mgr.GenerateUserJWT(avenaKP, "avena-admin", []string{">"}, []string{">"})
	if err != nil {
		return nil, fmt.Errorf("jwtauth: generate avena-admin user jwt: %w", err)
	}
	avenaAdminCreds, err := CreateCredsFile(avenaAdminJWT, avenaAdminKP)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "avena-admin.creds"), []byte(avenaAdminCreds), 0o600); err != nil {
		return nil, fmt.Errorf("jwtauth: write avena-admin.creds: %w", err)
	}

	return &Bootstrap{Manager: mgr, SysAccountKP: sysKP, AvenaAccountKP: avenaKP}, nil
}

// GenerateLeafUserCreds mints a wildcard-scoped leaf user under the AVENA
// account for a freshly accepted mesh peer and writes its creds file to
// <credsDir>/<name>.creds, returning the rendered creds and the path.
func GenerateLeafUserCreds(mgr *Manager, avenaAccountKP nkeys.KeyPair, peerDeviceID, credsDir string) (creds string, path string, err error) {
	jwt, userKP, err := mgr.GenerateUserJWT(avenaAccountKP, "leaf-"+peerDeviceID, []string{">"}, []string{">"})
	if err != nil {
		return "", "", fmt.Errorf("jwtauth: generate leaf user jwt: %w", err)
	}
	creds, err = CreateCredsFile(jwt, userKP)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(credsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("jwtauth: create creds dir: %w", err)
	}
	path = filepath.Join(credsDir, peerDeviceID+".creds")
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		return "", "", fmt.Errorf("jwtauth: write leaf creds: %w", err)
	}
	return creds, path, nil
}
