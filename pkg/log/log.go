package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// selfDeviceID holds the ID of the device this avenad process represents,
// set once by pkg/agent right after identity load. Unlike warren, which logs
// on behalf of a whole fleet from one manager process, every avenad process
// speaks for exactly one device for its entire lifetime, so it's worth
// stamping that device's ID onto every component logger automatically
// instead of threading it through every constructor.
var selfDeviceID atomic.Value

// SetSelfDeviceID records the ID of the device this process represents.
// Call it once, as early as possible (pkg/agent does this right after
// loading identity); every WithComponent logger created afterward carries
// device_id automatically.
func SetSelfDeviceID(id string) {
	selfDeviceID.Store(id)
}

// WithComponent creates a child logger with a component field, plus this
// process's own device_id if SetSelfDeviceID has been called.
func WithComponent(component string) zerolog.Logger {
	ctx := Logger.With().Str("component", component)
	if id, ok := selfDeviceID.Load().(string); ok && id != "" {
		ctx = ctx.Str("device_id", id)
	}
	return ctx.Logger()
}

// WithWorkload creates a logger scoped to the workload component and a
// single managed workload name, for the deploy/restart/stop lines
// pkg/workload emits once per unit it converges.
func WithWorkload(name string) zerolog.Logger {
	return WithComponent("workload").With().Str("workload", name).Logger()
}

// WithDeviceID creates a logger tagging a device_id that is NOT this
// process's own — e.g. a peer discovered via announce or named in a link
// handshake. Distinct from the device_id SetSelfDeviceID attaches to every
// WithComponent logger, which always refers to the local device.
func WithDeviceID(deviceID string) zerolog.Logger {
	return Logger.With().Str("device_id", deviceID).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
