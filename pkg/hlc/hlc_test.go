package hlc

import (
	"math"
	"testing"
	"time"
)

func TestNowWithoutPrior(t *testing.T) {
	ts := now("node1", nil)
	if ts.WallMS == 0 {
		t.Error("now() with no prior should have a non-zero wall time")
	}
	if ts.Counter != 0 {
		t.Errorf("now() with no prior: Counter = %d, want 0", ts.Counter)
	}
	if ts.NodeID != "node1" {
		t.Errorf("now() NodeID = %q, want %q", ts.NodeID, "node1")
	}
}

func TestNowWithPriorOlder(t *testing.T) {
	prior := Timestamp{WallMS: 1000, Counter: 5, NodeID: "old"}
	ts := now("node1", &prior)
	if ts.WallMS <= prior.WallMS {
		t.Errorf("now() with older prior: WallMS = %d, want > %d", ts.WallMS, prior.WallMS)
	}
	if ts.Counter != 0 {
		t.Errorf("now() with older prior: Counter = %d, want 0", ts.Counter)
	}
}

func TestNowWithPriorFuture(t *testing.T) {
	prior := Timestamp{WallMS: math.MaxUint64 - 1000, Counter: 5, NodeID: "future"}
	ts := now("node1", &prior)
	if ts.WallMS != prior.WallMS {
		t.Errorf("now() with future prior: WallMS = %d, want %d", ts.WallMS, prior.WallMS)
	}
	if ts.Counter != 6 {
		t.Errorf("now() with future prior: Counter = %d, want 6", ts.Counter)
	}
}

func TestOrdering(t *testing.T) {
	ts1 := Timestamp{WallMS: 1000, Counter: 0, NodeID: "a"}
	ts2 := Timestamp{WallMS: 1000, Counter: 1, NodeID: "a"}
	ts3 := Timestamp{WallMS: 1001, Counter: 0, NodeID: "a"}

	if !ts1.Less(ts2) {
		t.Error("ts1 should sort before ts2")
	}
	if !ts2.Less(ts3) {
		t.Error("ts2 should sort before ts3")
	}
	if !ts1.Less(ts3) {
		t.Error("ts1 should sort before ts3")
	}
}

func TestNodeIDTiebreaker(t *testing.T) {
	ts1 := Timestamp{WallMS: 1000, Counter: 0, NodeID: "a"}
	ts2 := Timestamp{WallMS: 1000, Counter: 0, NodeID: "b"}

	if !ts1.Less(ts2) {
		t.Error("ts1 (node a) should sort before ts2 (node b)")
	}
	if !ts2.After(ts1) {
		t.Error("ts2 should report itself as newer than ts1")
	}
}

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ts   Timestamp
	}{
		{"zero counter", Timestamp{WallMS: 1700000000000, Counter: 0, NodeID: "dev-a"}},
		{"nonzero counter", Timestamp{WallMS: 1700000000000, Counter: 42, NodeID: "dev-b"}},
		{"node id with dashes", Timestamp{WallMS: 1, Counter: 1, NodeID: "dev-with-dashes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.ts.String()
			parsed, err := ParseTimestamp(s)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error: %v", s, err)
			}
			if parsed != tt.ts {
				t.Errorf("round trip mismatch: got %+v, want %+v", parsed, tt.ts)
			}
		})
	}
}

func TestParseTimestampMalformed(t *testing.T) {
	tests := []string{"", "nocolon@node", "1000:notanumber@node", "1000:5", "notanumber:5@node"}
	for _, s := range tests {
		if _, err := ParseTimestamp(s); err == nil {
			t.Errorf("ParseTimestamp(%q) expected error, got nil", s)
		}
	}
}

// TestClockTickMonotonic is Testable Property 1: HLC monotonicity.
func TestClockTickMonotonic(t *testing.T) {
	c := New("node1")
	last := c.Current()
	for i := 0; i < 50; i++ {
		next := c.Tick()
		if !next.After(last) {
			t.Fatalf("tick %d: %v is not strictly after %v", i, next, last)
		}
		last = next
	}
}

// TestClockReceiveDominance is Testable Property 2: HLC merge dominance.
func TestClockReceiveDominance(t *testing.T) {
	local := New("local")
	local.Tick()
	local.Tick()
	l := local.Current()

	remote := Timestamp{WallMS: l.WallMS + 10, Counter: 3, NodeID: "remote"}

	merged := local.Receive(remote)
	if !merged.After(l) {
		t.Errorf("merged %v is not after local %v", merged, l)
	}
	if !merged.After(remote) {
		t.Errorf("merged %v is not after remote %v", merged, remote)
	}
}

func TestClockReceiveThenTickStillMonotonic(t *testing.T) {
	c := New("node1")
	last := c.Tick()
	for i := 0; i < 10; i++ {
		remote := Timestamp{WallMS: last.WallMS, Counter: last.Counter, NodeID: "other"}
		merged := c.Receive(remote)
		if !merged.After(last) {
			t.Fatalf("iteration %d: merged %v not after last %v", i, merged, last)
		}
		last = merged
		next := c.Tick()
		if !next.After(last) {
			t.Fatalf("iteration %d: tick %v not after %v", i, next, last)
		}
		last = next
	}
}

func TestSaturatingCounter(t *testing.T) {
	prior := Timestamp{WallMS: math.MaxUint64 - 1000, Counter: math.MaxUint32, NodeID: "n"}
	ts := now("n", &prior)
	if ts.Counter != math.MaxUint32 {
		t.Errorf("saturating add: Counter = %d, want %d", ts.Counter, uint32(math.MaxUint32))
	}
}

func TestClockSaveLoad(t *testing.T) {
	c := New("node1")
	c.Tick()
	c.Tick()
	before := c.Current()

	path := t.TempDir() + "/hlc.json"
	if err := c.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded := LoadOrNew("node1", path)
	after := loaded.Current()
	if !after.After(before) && after != before {
		t.Errorf("loaded clock %v should be >= saved state %v", after, before)
	}
}

func TestLoadOrNewMissingFile(t *testing.T) {
	c := LoadOrNew("node1", "/nonexistent/path/hlc.json")
	if c.NodeID() != "node1" {
		t.Errorf("NodeID() = %q, want %q", c.NodeID(), "node1")
	}
}

func TestAttachAndMergeHeader(t *testing.T) {
	sender := New("sender")
	receiver := New("receiver")

	hdr := make(map[string][]string)
	sender.AttachHeader(hdr)

	raw := hdr[HeaderName]
	if len(raw) == 0 {
		t.Fatal("AttachHeader did not set the header")
	}

	sent := sender.Current()

	merged, ok := receiver.MergeFromHeader(hdr)
	if !ok {
		t.Fatal("MergeFromHeader returned false for a well-formed header")
	}
	if !merged.After(sent) {
		t.Errorf("merged %v should be after sent %v", merged, sent)
	}
}

func TestMergeFromHeaderAbsent(t *testing.T) {
	c := New("node1")
	_, ok := c.MergeFromHeader(nil)
	if ok {
		t.Error("MergeFromHeader(nil) should return false")
	}
	_, ok = c.MergeFromHeader(map[string][]string{})
	if ok {
		t.Error("MergeFromHeader with no Avena-HLC key should return false")
	}
}

func TestMergeFromHeaderMalformed(t *testing.T) {
	c := New("node1")
	hdr := map[string][]string{HeaderName: {"not-a-timestamp"}}
	_, ok := c.MergeFromHeader(hdr)
	if ok {
		t.Error("MergeFromHeader with malformed value should return false")
	}
}

func TestClockConcurrentTick(t *testing.T) {
	c := New("node1")
	done := make(chan struct{})
	const goroutines = 8
	const perGoroutine = 100

	seen := make(chan Timestamp, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < perGoroutine; j++ {
				seen <- c.Tick()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}
	close(seen)

	all := make([]Timestamp, 0, goroutines*perGoroutine)
	for ts := range seen {
		all = append(all, ts)
	}
	if len(all) != goroutines*perGoroutine {
		t.Fatalf("expected %d timestamps, got %d", goroutines*perGoroutine, len(all))
	}

	unique := make(map[Timestamp]bool, len(all))
	for _, ts := range all {
		if unique[ts] {
			t.Fatalf("duplicate timestamp %v observed across concurrent ticks", ts)
		}
		unique[ts] = true
	}
}

func TestHeaderNameConstant(t *testing.T) {
	if HeaderName != "Avena-HLC" {
		t.Errorf("HeaderName = %q, want %q", HeaderName, "Avena-HLC")
	}
}

func TestNowWallClockAdvances(t *testing.T) {
	before := nowMillis()
	time.Sleep(2 * time.Millisecond)
	after := nowMillis()
	if after <= before {
		t.Error("nowMillis() did not advance after sleeping")
	}
}
