/*
Package meshconfig renders the local broker's configuration file from the
current link set and credential chain, and triggers an administrative
reload once the file is written.
*/
package meshconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

const (
	hostname   = "avena"
	jsStoreDir = "/data/jetstream"
	jsMaxMem   = "1G"
	jsMaxFile  = "10G"
	jsDomain   = "avena"

	natsRequestTimeout = 5 * time.Second
)

// LeafRemote is one leafnodes.remotes{} entry: a peer URL and the path to
// the creds file used to authenticate against it.
type LeafRemote struct {
	URL       string
	CredsPath string
}

// Render builds the broker configuration text from the account keys/JWTs
// found in natsCfgDir and the given leaf remotes, per the credential
// authority's operator/SYS/AVENA chain.
func Render(natsCfgDir string, remotes []LeafRemote) (string, error) {
	sysSeed, err := os.ReadFile(filepath.Join(natsCfgDir, "SYS.nk"))
	if err != nil {
		return "", fmt.Errorf("meshconfig: read SYS.nk: %w", err)
	}
	sysKP, err := nkeys.FromSeed([]byte(strings.TrimSpace(string(sysSeed))))
	if err != nil {
		return "", fmt.Errorf("meshconfig: parse SYS seed: %w", err)
	}
	sysAccountKey, err := sysKP.PublicKey()
	if err != nil {
		return "", fmt.Errorf("meshconfig: SYS public key: %w", err)
	}

	avenaSeed, err := os.ReadFile(filepath.Join(natsCfgDir, "AVENA.nk"))
	if err != nil {
		return "", fmt.Errorf("meshconfig: read AVENA.nk: %w", err)
	}
	avenaKP, err := nkeys.FromSeed([]byte(strings.TrimSpace(string(avenaSeed))))
	if err != nil {
		return "", fmt.Errorf("meshconfig: parse AVENA seed: %w", err)
	}
	avenaAccountKey, err := avenaKP.PublicKey()
	if err != nil {
		return "", fmt.Errorf("meshconfig: AVENA public key: %w", err)
	}

	sysJWT, err := os.ReadFile(filepath.Join(natsCfgDir, "SYS.jwt"))
	if err != nil {
		return "", fmt.Errorf("meshconfig: read SYS.jwt: %w", err)
	}
	avenaJWT, err := os.ReadFile(filepath.Join(natsCfgDir, "AVENA.jwt"))
	if err != nil {
		return "", fmt.Errorf("meshconfig: read AVENA.jwt: %w", err)
	}
	operatorJWT, err := os.ReadFile(filepath.Join(natsCfgDir, "operator.jwt"))
	if err != nil {
		return "", fmt.Errorf("meshconfig: read operator.jwt: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "server_name: %q\n", hostname)
	fmt.Fprintf(&b, "port: 4222\n\n")
	fmt.Fprintf(&b, "jetstream {\n")
	fmt.Fprintf(&b, "  store_dir: %q\n", jsStoreDir)
	fmt.Fprintf(&b, "  max_mem: %s\n", jsMaxMem)
	fmt.Fprintf(&b, "  max_file: %s\n", jsMaxFile)
	fmt.Fprintf(&b, "  domain: %s\n", jsDomain)
	fmt.Fprintf(&b, "}\n\n")
	fmt.Fprintf(&b, "operator: %q\n", strings.TrimSpace(string(operatorJWT)))
	fmt.Fprintf(&b, "system_account: %q\n\n", sysAccountKey)
	fmt.Fprintf(&b, "resolver: MEMORY\n")
	fmt.Fprintf(&b, "resolver_preload: {\n")
	fmt.Fprintf(&b, "  %s: %q\n", sysAccountKey, strings.TrimSpace(string(sysJWT)))
	fmt.Fprintf(&b, "  %s: %q\n", avenaAccountKey, strings.TrimSpace(string(avenaJWT)))
	fmt.Fprintf(&b, "}\n\n")

	fmt.Fprintf(&b, "leafnodes {\n")
	fmt.Fprintf(&b, "  remotes [\n")
	for _, r := range remotes {
		fmt.Fprintf(&b, "    { url: %q, credentials: %q }\n", r.URL, r.CredsPath)
	}
	fmt.Fprintf(&b, "  ]\n")
	fmt.Fprintf(&b, "}\n")

	return b.String(), nil
}

// WritePath is the fixed location the agent renders the broker config to.
func WritePath(configDir string) string {
	return filepath.Join(configDir, "containers", "systemd", "server.conf")
}

// RenderAndWrite renders the broker config and writes it to WritePath(configDir).
func RenderAndWrite(natsCfgDir, configDir string, remotes []LeafRemote) error {
	conf, err := Render(natsCfgDir, remotes)
	if err != nil {
		return err
	}
	path := WritePath(configDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("meshconfig: create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		return fmt.Errorf("meshconfig: write %s: %w", path, err)
	}
	return nil
}

// Reload connects to the broker using the system admin credentials and
// issues a $SYS.REQ.SERVER.<id>.RELOAD request, discarding the response.
// A reload failure is treated as retryable by the caller's reconciler loop.
func Reload(natsURL, sysAdminCredsPath string) error {
	nc, err := nats.Connect(natsURL, nats.UserCredentials(sysAdminCredsPath))
	if err != nil {
		return fmt.Errorf("meshconfig: connect for reload: %w", err)
	}
	defer nc.Close()

	serverID := nc.ConnectedServerId()
	subject := fmt.Sprintf("$SYS.REQ.SERVER.%s.RELOAD", serverID)
	if _, err := nc.Request(subject, nil, natsRequestTimeout); err != nil {
		return fmt.Errorf("meshconfig: reload request: %w", err)
	}
	return nil
}
