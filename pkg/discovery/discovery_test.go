package discovery

import (
	"testing"
	"time"
)

func TestAnnounceReflectsPublisherState(t *testing.T) {
	started := time.Now().Add(-5 * time.Second)
	p := &Publisher{
		DeviceID: "dev-1",
		PubKey:   "pubkey-abc",
		Version:  "0.1.0",
		NatsName: "dev-1.avena",
		Started:  started,
	}
	a := p.announce()
	if a.Device != "dev-1" {
		t.Errorf("Device = %q, want %q", a.Device, "dev-1")
	}
	if a.AvenaVersion != "0.1.0" {
		t.Errorf("AvenaVersion = %q, want %q", a.AvenaVersion, "0.1.0")
	}
	if a.NatsName != "dev-1.avena" {
		t.Errorf("NatsName = %q, want %q", a.NatsName, "dev-1.avena")
	}
	if a.PubKey == nil || *a.PubKey != "pubkey-abc" {
		t.Errorf("PubKey = %v, want pubkey-abc", a.PubKey)
	}
	if a.UptimeMS < 4000 {
		t.Errorf("UptimeMS = %d, want at least ~5000", a.UptimeMS)
	}
}

func TestNowMillisIncreasesOverTime(t *testing.T) {
	a := nowMillis()
	time.Sleep(2 * time.Millisecond)
	b := nowMillis()
	if b <= a {
		t.Errorf("nowMillis did not increase: %d then %d", a, b)
	}
}
