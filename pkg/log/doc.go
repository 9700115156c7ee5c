/*
Package log provides structured logging for the Avena device agent using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("mesh")                    │          │
	│  │  - WithWorkload("hello")                     │          │
	│  │  - WithDeviceID("peer-dev-abc123")           │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("agent starting")

	// pkg/agent calls this once, right after loading identity, so every
	// component logger below carries this process's own device_id.
	log.SetSelfDeviceID(identity.ID)

	meshLog := log.WithComponent("mesh")
	meshLog.Info().Str("remote_url", url).Msg("link accepted")

	wlog := log.WithWorkload("hello")
	wlog.Info().Str("unit", unitName).Msg("deployed workload")

	// WithDeviceID tags a device_id that is NOT this process's own — e.g. a
	// peer learned from an announce.
	peerLog := log.WithDeviceID(announce.Device)
	peerLog.Warn().Err(err).Msg("failed to upsert observed device entry")

# Integration points

pkg/agent, pkg/broker, pkg/mesh, pkg/workload, pkg/discovery, pkg/handlers,
and cmd/avenad all obtain a scoped logger via WithComponent rather than passing
*zerolog.Logger through constructors, mirroring the teacher's convention that
the logger is ambient package state, not an injected dependency. Because one
avenad process always speaks for exactly one device, pkg/agent calls
SetSelfDeviceID once at startup instead of threading the device ID through
every constructor the way a multi-node manager like warren would have to.

Never log secrets: device seeds, nkey seeds, and JWT creds-file contents must
never reach a log line, even at Debug level.
*/
package log
