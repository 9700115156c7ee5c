/*
Package discovery publishes periodic device announces and observes the
announces of other devices on the mesh, upserting what it learns into a
shared "known devices" KV bucket.
*/
package discovery

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/oats-center/avena/pkg/kv"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/messages"
	"github.com/oats-center/avena/pkg/metrics"
)

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Publisher periodically announces this device's presence.
type Publisher struct {
	NC       *nats.Conn
	Store    *kv.Store // optional; nil disables the local device-KV upsert
	DeviceID string
	PubKey   string
	Version  string
	NatsName string
	Started  time.Time
	Interval time.Duration
}

func (p *Publisher) announce() messages.Announce {
	pubkey := p.PubKey
	return messages.Announce{
		Device:       p.DeviceID,
		AvenaVersion: p.Version,
		UptimeMS:     uint64(time.Since(p.Started).Milliseconds()),
		NatsName:     p.NatsName,
		PubKey:       &pubkey,
	}
}

// Run publishes an announce immediately, then every Interval, until stopCh
// is closed.
func (p *Publisher) Run(stopCh <-chan struct{}) {
	logger := log.WithComponent("discovery")
	p.publish(logger)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			p.publish(logger)
		}
	}
}

func (p *Publisher) publish(logger zerolog.Logger) {
	announce := p.announce()
	data, err := announce.Encode()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode announce")
		return
	}
	if err := p.NC.Publish(messages.AnnounceSubject, data); err != nil {
		logger.Warn().Err(err).Msg("failed to publish announce")
		return
	}
	metrics.AnnouncesSentTotal.Inc()

	if p.Store != nil {
		last := nowMillis()
		natsName := p.NatsName
		pubkey := p.PubKey
		device := messages.Device{
			ID:         p.DeviceID,
			Version:    p.Version,
			LastSeenMS: &last,
			NatsName:   &natsName,
			PubKey:     &pubkey,
		}
		devData, err := device.Encode()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to encode self device entry")
			return
		}
		if _, err := p.Store.Put(p.DeviceID, devData); err != nil {
			logger.Warn().Err(err).Msg("failed to upsert self device entry")
		}
	}
}

// Observer subscribes to the announce subject and upserts every device it
// hears from into the shared known-devices KV bucket.
type Observer struct {
	NC    *nats.Conn
	Store *kv.Store
}

// Start subscribes and returns the subscription; callers unsubscribe (or let
// the connection close) to stop observing.
func (o *Observer) Start() (*nats.Subscription, error) {
	logger := log.WithComponent("discovery")
	return o.NC.Subscribe(messages.AnnounceSubject, func(msg *nats.Msg) {
		announce, err := messages.DecodeAnnounce(msg.Data)
		if err != nil {
			logger.Debug().Err(err).Msg("ignoring malformed announce")
			return
		}
		last := nowMillis()
		natsName := announce.NatsName
		device := messages.Device{
			ID:         announce.Device,
			Version:    announce.AvenaVersion,
			LastSeenMS: &last,
			NatsName:   &natsName,
			PubKey:     announce.PubKey,
		}
		data, err := device.Encode()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to encode observed device entry")
			return
		}
		if _, err := o.Store.Put(announce.Device, data); err != nil {
			log.WithDeviceID(announce.Device).Warn().Err(err).Msg("failed to upsert observed device entry")
			return
		}
		metrics.AnnouncesObservedTotal.Inc()
		if keys, err := o.Store.Keys(); err == nil {
			metrics.KnownDevicesTotal.Set(float64(len(keys)))
		}
	})
}
