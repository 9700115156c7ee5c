/*
Package hlc implements a hybrid logical clock: a wall-clock-anchored logical
timestamp that totalizes causal order across devices. Every reply the
request handlers send, and every link accept, carries one in the Avena-HLC
header; the initiator's outbound link offer is sent without it.
*/
package hlc

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// HeaderName is the custom header attached to every request/reply the agent emits.
const HeaderName = "Avena-HLC"

// Timestamp is a hybrid logical timestamp: wall_ms:counter@node_id. The total
// order is lexicographic on that tuple.
type Timestamp struct {
	WallMS  uint64 `json:"wall_time_ms"`
	Counter uint32 `json:"counter"`
	NodeID  string `json:"node_id"`
}

// String renders the canonical wire form: wall_ms:counter@node_id.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d:%d@%s", t.WallMS, t.Counter, t.NodeID)
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater than o
// under the total order (wall_ms, then counter, then node_id).
func (t Timestamp) Compare(o Timestamp) int {
	if t.WallMS != o.WallMS {
		if t.WallMS < o.WallMS {
			return -1
		}
		return 1
	}
	if t.Counter != o.Counter {
		if t.Counter < o.Counter {
			return -1
		}
		return 1
	}
	return strings.Compare(t.NodeID, o.NodeID)
}

// Less reports whether t sorts strictly before o.
func (t Timestamp) Less(o Timestamp) bool { return t.Compare(o) < 0 }

// After reports whether t sorts strictly after o.
func (t Timestamp) After(o Timestamp) bool { return t.Compare(o) > 0 }

// ParseTimestamp parses the wall_ms:counter@node_id wire form.
func ParseTimestamp(s string) (Timestamp, error) {
	colon := strings.IndexByte(s, ':')
	at := strings.IndexByte(s, '@')
	if colon < 0 || at < 0 || at < colon {
		return Timestamp{}, fmt.Errorf("hlc: invalid timestamp %q", s)
	}
	wall, err := strconv.ParseUint(s[:colon], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: invalid wall_ms in %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(s[colon+1:at], 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: invalid counter in %q: %w", s, err)
	}
	return Timestamp{WallMS: wall, Counter: uint32(counter), NodeID: s[at+1:]}, nil
}

func saturatingAdd1(c uint32) uint32 {
	if c == math.MaxUint32 {
		return c
	}
	return c + 1
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// now computes the next timestamp for nodeID given an optional previous value,
// per the tick algorithm: if wall-clock exceeds the previous wall_ms, reset
// the counter; otherwise hold wall_ms and increment the counter (saturating).
func now(nodeID string, last *Timestamp) Timestamp {
	wall := nowMillis()
	if last == nil {
		return Timestamp{WallMS: wall, Counter: 0, NodeID: nodeID}
	}
	if wall > last.WallMS {
		return Timestamp{WallMS: wall, Counter: 0, NodeID: nodeID}
	}
	return Timestamp{WallMS: last.WallMS, Counter: saturatingAdd1(last.Counter), NodeID: nodeID}
}

// merge computes the receive-merge of self and other for nodeID: the max of
// system wall-clock, self.WallMS, and other.WallMS wins; the counter resets
// to 0 only if the fresh wall-clock strictly exceeds both inputs, otherwise
// it is one above whichever input(s) tie the winning wall_ms.
func merge(self, other Timestamp, nodeID string) Timestamp {
	wall := nowMillis()
	maxWall := wall
	if self.WallMS > maxWall {
		maxWall = self.WallMS
	}
	if other.WallMS > maxWall {
		maxWall = other.WallMS
	}

	var counter uint32
	switch {
	case maxWall == wall && wall > self.WallMS && wall > other.WallMS:
		counter = 0
	case maxWall == self.WallMS && self.WallMS == other.WallMS:
		c := self.Counter
		if other.Counter > c {
			c = other.Counter
		}
		counter = saturatingAdd1(c)
	case maxWall == self.WallMS:
		counter = saturatingAdd1(self.Counter)
	default:
		counter = saturatingAdd1(other.Counter)
	}

	return Timestamp{WallMS: maxWall, Counter: counter, NodeID: nodeID}
}

// Clock is a per-process hybrid logical clock. Its current timestamp is
// guarded by a mutex; the critical section is O(1) and never encloses I/O.
type Clock struct {
	nodeID string
	mu     sync.Mutex
	state  Timestamp
}

// New creates a clock for nodeID with no prior state.
func New(nodeID string) *Clock {
	return &Clock{nodeID: nodeID, state: now(nodeID, nil)}
}

// FromPersisted creates a clock for nodeID, merging a previously-persisted
// timestamp as though it had just been received from a remote peer, so local
// time cannot regress across a restart.
func FromPersisted(nodeID string, persisted Timestamp) *Clock {
	c := New(nodeID)
	c.Receive(persisted)
	return c
}

// LoadOrNew loads a persisted snapshot from path if present and parseable,
// merging it in via FromPersisted; otherwise returns a fresh clock.
func LoadOrNew(nodeID, path string) *Clock {
	data, err := os.ReadFile(path)
	if err != nil {
		return New(nodeID)
	}
	var persisted Timestamp
	if err := json.Unmarshal(data, &persisted); err != nil {
		return New(nodeID)
	}
	return FromPersisted(nodeID, persisted)
}

// Save persists the clock's current timestamp to path.
func (c *Clock) Save(path string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("hlc: marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("hlc: create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("hlc: write snapshot: %w", err)
	}
	return nil
}

// Tick advances the clock and returns the new timestamp.
func (c *Clock) Tick() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := now(c.nodeID, &c.state)
	c.state = next
	return next
}

// Receive merges remote into the clock and returns the merged timestamp.
func (c *Clock) Receive(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := merge(c.state, remote, c.nodeID)
	c.state = merged
	return merged
}

// Current returns the clock's current timestamp without advancing it.
func (c *Clock) Current() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NodeID returns the node id the clock was constructed with.
func (c *Clock) NodeID() string { return c.nodeID }

// AttachHeader ticks the clock and sets the Avena-HLC header on hdr.
func (c *Clock) AttachHeader(hdr nats.Header) {
	ts := c.Tick()
	hdr.Set(HeaderName, ts.String())
}

// MergeFromHeader parses the Avena-HLC header from hdr, if present and
// well-formed, and merges it into the clock. Returns the merged timestamp and
// true, or the zero Timestamp and false if no valid header was present.
func (c *Clock) MergeFromHeader(hdr nats.Header) (Timestamp, bool) {
	if hdr == nil {
		return Timestamp{}, false
	}
	raw := hdr.Get(HeaderName)
	if raw == "" {
		return Timestamp{}, false
	}
	remote, err := ParseTimestamp(raw)
	if err != nil {
		return Timestamp{}, false
	}
	return c.Receive(remote), true
}
