/*
Package servicemgr talks to the local service manager over its D-Bus
manager interface: list units, start/stop/restart a unit, and trigger a
daemon-reload after writing new unit files. It is the Go side of the
org.freedesktop.systemd1.Manager interface the original device agent drove
over zbus.
*/
package servicemgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

const jobWaitTimeout = 30 * time.Second

// Unit is the subset of a systemd unit's list-units fields the reconciler
// and status handler care about.
type Unit struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
}

// Manager wraps a system-bus connection to org.freedesktop.systemd1. It adds
// no locking of its own: the workload reconciler and the request handlers
// share one Manager and call it from their own goroutines.
type Manager struct {
	conn *dbus.Conn
}

// Connect opens a connection to the system bus's systemd manager. The
// system bus is used rather than the session bus because unit files under
// <config_dir>/containers/systemd are system-manager units, and the system
// bus is guaranteed present regardless of whether a user session exists.
func Connect(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("servicemgr: connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Close releases the D-Bus connection.
func (m *Manager) Close() { m.conn.Close() }

// Reload asks systemd to re-read unit files from disk (daemon-reload).
func (m *Manager) Reload(ctx context.Context) error {
	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("servicemgr: reload: %w", err)
	}
	return nil
}

// ListUnits returns every unit systemd currently knows about.
func (m *Manager) ListUnits(ctx context.Context) ([]Unit, error) {
	statuses, err := m.conn.ListUnitsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("servicemgr: list units: %w", err)
	}
	units := make([]Unit, 0, len(statuses))
	for _, s := range statuses {
		units = append(units, Unit{
			Name:        s.Name,
			Description: s.Description,
			LoadState:   s.LoadState,
			ActiveState: s.ActiveState,
			SubState:    s.SubState,
		})
	}
	return units, nil
}

// StartUnit starts unitName with the given job mode (typically "replace"),
// blocking until the job completes or jobWaitTimeout elapses.
func (m *Manager) StartUnit(ctx context.Context, unitName, mode string) error {
	return m.runJob(ctx, func(ch chan<- string) (int, error) {
		return m.conn.StartUnitContext(ctx, unitName, mode, ch)
	})
}

// StopUnit stops unitName with the given job mode.
func (m *Manager) StopUnit(ctx context.Context, unitName, mode string) error {
	return m.runJob(ctx, func(ch chan<- string) (int, error) {
		return m.conn.StopUnitContext(ctx, unitName, mode, ch)
	})
}

// RestartUnit restarts unitName with the given job mode.
func (m *Manager) RestartUnit(ctx context.Context, unitName, mode string) error {
	return m.runJob(ctx, func(ch chan<- string) (int, error) {
		return m.conn.RestartUnitContext(ctx, unitName, mode, ch)
	})
}

func (m *Manager) runJob(ctx context.Context, start func(chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return err
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("servicemgr: job result %q", result)
		}
		return nil
	case <-time.After(jobWaitTimeout):
		return fmt.Errorf("servicemgr: job timed out after %s", jobWaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveStatus maps systemd's ActiveState into the coarse workload status
// vocabulary the request handlers report.
func ActiveStatus(activeState string) string {
	switch activeState {
	case "active":
		return "running"
	case "inactive":
		return "stopped"
	case "failed":
		return "error"
	default:
		return "unknown"
	}
}

// IsAvenaUnit reports whether name is one of this agent's managed workload
// units: avena-<name>.service.
func IsAvenaUnit(name string) bool {
	return strings.HasPrefix(name, "avena-") && strings.HasSuffix(name, ".service")
}
