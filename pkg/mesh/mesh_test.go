package mesh

import (
	"os"
	"testing"
)

func TestLinkKeyPrefixed(t *testing.T) {
	got := linkKey("nats://peer.example:4222")
	want := "link:nats://peer.example:4222"
	if got != want {
		t.Errorf("linkKey() = %q, want %q", got, want)
	}
}

func TestWriteAtomicCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/leaf.creds"
	if err := writeAtomic(path, []byte("creds-content")); err != nil {
		t.Fatalf("writeAtomic() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "creds-content" {
		t.Errorf("content = %q, want %q", data, "creds-content")
	}
	// no .tmp file should remain
	if _, err := os.ReadFile(path + ".tmp"); err == nil {
		t.Error("expected .tmp file to be renamed away, but it still exists")
	}
}
