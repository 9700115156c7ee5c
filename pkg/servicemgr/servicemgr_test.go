package servicemgr

import "testing"

func TestActiveStatus(t *testing.T) {
	cases := map[string]string{
		"active":   "running",
		"inactive": "stopped",
		"failed":   "error",
		"reloading": "unknown",
		"":          "unknown",
	}
	for in, want := range cases {
		if got := ActiveStatus(in); got != want {
			t.Errorf("ActiveStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsAvenaUnit(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"avena-hello.service", true},
		{"avena-nats.service", true},
		{"avena-nats-js-volume.service", true},
		{"ssh.service", false},
		{"avena-hello.timer", false},
		{"nginx-avena.service", false},
	}
	for _, tc := range cases {
		if got := IsAvenaUnit(tc.name); got != tc.want {
			t.Errorf("IsAvenaUnit(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
