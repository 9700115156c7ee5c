/*
Package client provides the thin wrapper cmd/avenactl uses to talk to a
single device's local broker: connect once, then apply workload manifests
or drive link register/unregister requests through it.
*/
package client

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oats-center/avena/pkg/broker"
	"github.com/oats-center/avena/pkg/kv"
	"github.com/oats-center/avena/pkg/messages"
)

const (
	workloadsBucket = "avena_workloads"
	kvHistory       = 5
	requestTimeout  = 5 * time.Second
)

// Client holds the connection to one device's local broker.
type Client struct {
	nc *nats.Conn
}

// NewClient connects to the device's broker at natsURL, authenticating with
// the creds file at credsPath (empty for no credentials).
func NewClient(natsURL, credsPath string) (*Client, error) {
	opts := broker.DefaultOptions(natsURL, "avenactl")
	opts.CredsPath = credsPath
	nc, err := broker.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", natsURL, err)
	}
	return &Client{nc: nc}, nil
}

// Close flushes and closes the underlying broker connection.
func (c *Client) Close() {
	_ = c.nc.Flush()
	c.nc.Close()
}

// ApplyWorkload upserts a workload's desired state directly into the
// device's workload KV bucket, under device/<device>/<name>.
func (c *Client) ApplyWorkload(device string, desired messages.WorkloadDesiredState) error {
	payload, err := desired.Encode()
	if err != nil {
		return fmt.Errorf("client: encode desired state: %w", err)
	}

	store, err := kv.Open(c.nc, workloadsBucket, kvHistory)
	if err != nil {
		return fmt.Errorf("client: open workload bucket: %w", err)
	}

	key := fmt.Sprintf("device/%s/%s", device, desired.Name)
	if _, err := store.Put(key, payload); err != nil {
		return fmt.Errorf("client: put desired state: %w", err)
	}
	return nil
}

// RegisterLink asks the device to initiate a link handshake against remoteURL.
func (c *Client) RegisterLink(remoteURL string) (messages.LinkRegisterResponse, error) {
	req, err := messages.LinkRegisterRequest{RemoteURL: remoteURL}.Encode()
	if err != nil {
		return messages.LinkRegisterResponse{}, fmt.Errorf("client: encode register request: %w", err)
	}
	msg, err := c.nc.Request(messages.LinkRegisterSubject, req, requestTimeout)
	if err != nil {
		return messages.LinkRegisterResponse{}, fmt.Errorf("client: link register request: %w", err)
	}
	return messages.DecodeLinkRegisterResponse(msg.Data)
}

// UnregisterLink asks the device to remove its link to remoteURL.
func (c *Client) UnregisterLink(remoteURL string) (messages.LinkUnregisterResponse, error) {
	req, err := messages.LinkUnregisterRequest{RemoteURL: remoteURL}.Encode()
	if err != nil {
		return messages.LinkUnregisterResponse{}, fmt.Errorf("client: encode unregister request: %w", err)
	}
	msg, err := c.nc.Request(messages.LinkUnregisterSubject, req, requestTimeout)
	if err != nil {
		return messages.LinkUnregisterResponse{}, fmt.Errorf("client: link unregister request: %w", err)
	}
	return messages.DecodeLinkUnregisterResponse(msg.Data)
}
