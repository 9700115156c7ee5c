/*
Package broker bootstraps the agent's connection to the local message
broker: the single nats.Conn every handler, reconciler, and discovery loop
publishes and subscribes through.
*/
package broker

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oats-center/avena/pkg/log"
)

// Options configures the connection the agent opens to its local broker.
type Options struct {
	URL          string
	Name         string
	CredsPath    string
	ReconnectMax int
}

// DefaultOptions returns the connection options used when the caller hasn't
// overridden them: reconnect indefinitely with the library's own backoff.
func DefaultOptions(url, name string) Options {
	return Options{URL: url, Name: name, ReconnectMax: -1}
}

// Connect opens a connection to the local broker, registering disconnect/
// reconnect/close handlers that log through the component logger rather
// than letting nats.go's defaults write to stderr.
func Connect(opts Options) (*nats.Conn, error) {
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.ReconnectMax),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithComponent("broker").Warn().Err(err).Msg("disconnected from broker")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithComponent("broker").Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to broker")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.WithComponent("broker").Warn().Msg("broker connection closed")
		}),
	}
	if opts.CredsPath != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(opts.CredsPath))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("broker: connect to %s: %w", opts.URL, err)
	}
	return nc, nil
}
