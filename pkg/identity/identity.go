/*
Package identity manages the device's persistent ed25519 identity: a uuid
device id paired with an nkey user keypair used to sign and verify link
handshake challenges, and the owner-issued network token gating which peers
may link.
*/
package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nkeys"
)

func stateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "avena")
	}
	return filepath.Join("~", ".local", "share", "avena")
}

func statePath() string {
	return filepath.Join(stateDir(), "device.json")
}

// persisted is the on-disk shape of a device identity: only the fields that
// must survive a restart are stored; the network token never is.
type persisted struct {
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
	Seed   string `json:"seed"`
}

// Identity is the device's signing identity plus the network token it
// presents during link offers.
type Identity struct {
	ID           string
	PubKey       string
	seed         string
	NetworkToken string
}

// LoadOrGenerate loads the persisted identity from disk, regenerating the
// keypair in place if the stored seed is missing or corrupt while preserving
// the device id, or creates a brand new identity if none exists yet.
func LoadOrGenerate() (*Identity, error) {
	path := statePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("identity: read %s: %w", path, err)
		}
		return generate(path)
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}

	if !seedValid(p.Seed) {
		kp, err := nkeys.CreateUser()
		if err != nil {
			return nil, fmt.Errorf("identity: generate replacement keypair: %w", err)
		}
		seed, err := kp.Seed()
		if err != nil {
			return nil, fmt.Errorf("identity: extract seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("identity: extract public key: %w", err)
		}
		p.Seed = string(seed)
		p.PubKey = pub
		if err := writePersisted(path, p); err != nil {
			return nil, err
		}
	}

	kp, err := nkeys.FromSeed([]byte(p.Seed))
	if err != nil {
		return nil, fmt.Errorf("identity: load keypair from seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}

	id := &Identity{ID: p.ID, PubKey: pub, seed: p.Seed}
	id.loadToken()
	return id, nil
}

func generate(path string) (*Identity, error) {
	kp, err := nkeys.CreateUser()
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	seed, err := kp.Seed()
	if err != nil {
		return nil, fmt.Errorf("identity: extract seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("identity: extract public key: %w", err)
	}

	p := persisted{ID: uuid.NewString(), PubKey: pub, Seed: string(seed)}
	if err := writePersisted(path, p); err != nil {
		return nil, err
	}

	id := &Identity{ID: p.ID, PubKey: pub, seed: p.Seed}
	id.loadToken()
	return id, nil
}

func seedValid(seed string) bool {
	if strings.TrimSpace(seed) == "" {
		return false
	}
	_, err := nkeys.FromSeed([]byte(seed))
	return err == nil
}

func writePersisted(path string, p persisted) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("identity: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// loadToken populates NetworkToken from AVENA_NETWORK_TOKEN if it is not
// already set.
func (id *Identity) loadToken() {
	if id.NetworkToken == "" {
		id.NetworkToken = os.Getenv("AVENA_NETWORK_TOKEN")
	}
}

// Sign signs msg with the device's seed and returns a base64url (no padding)
// encoded signature.
func (id *Identity) Sign(msg []byte) (string, error) {
	kp, err := nkeys.FromSeed([]byte(id.seed))
	if err != nil {
		return "", fmt.Errorf("identity: load signing keypair: %w", err)
	}
	sig, err := kp.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("identity: sign: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify reports whether sigB64 is a valid signature over msg under pubkey.
// A malformed pubkey or signature is treated as a failed verification, not
// an error, matching the handshake's "any failure means reject" semantics.
func Verify(pubkey string, msg []byte, sigB64 string) bool {
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	kp, err := nkeys.FromPublicKey(pubkey)
	if err != nil {
		return false
	}
	return kp.Verify(msg, sig) == nil
}
