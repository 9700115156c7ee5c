/*
Package messages defines the complete set of typed request/response/event
messages the device agent exchanges over the broker, their subject builders,
and JSON encode/decode with malformed-input detection.
*/
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when bytes do not decode to the expected message
// shape, or a required field is missing after decode.
var ErrMalformed = errors.New("messages: malformed")

// Broadcast subjects.
const (
	BroadcastPingSubject = "avena.ping"
	AnnounceSubject      = "avena.announce"
	LinkOfferSubject     = "avena.link.offer"
	LinkRegisterSubject  = "avena.link.register"
	LinkUnregisterSubject = "avena.link.unregister"
)

// PingSubject returns the per-device ping request subject.
func PingSubject(deviceID string) string { return fmt.Sprintf("avena.device.%s.ping", deviceID) }

// StatusSubject returns the per-device status request subject.
func StatusSubject(deviceID string) string { return fmt.Sprintf("avena.device.%s.status", deviceID) }

// WorkloadsListSubject returns the per-device workload-list request subject.
func WorkloadsListSubject(deviceID string) string {
	return fmt.Sprintf("avena.device.%s.workloads.list", deviceID)
}

// WorkloadCommandSubject returns the per-device workload-command request subject.
func WorkloadCommandSubject(deviceID string) string {
	return fmt.Sprintf("avena.device.%s.workload.cmd", deviceID)
}

// decode is a small helper shared by every message type: unmarshal, then let
// the caller validate required fields are non-zero.
func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// --- Ping ---

// PingRequest carries no fields; presence of the message is the request.
type PingRequest struct{}

// Encode serializes the request to JSON bytes.
func (m PingRequest) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodePingRequest decodes a PingRequest from JSON bytes.
func DecodePingRequest(data []byte) (PingRequest, error) {
	var m PingRequest
	err := decode(data, &m)
	return m, err
}

// PingResponse is the reply on PingSubject and BroadcastPingSubject.
type PingResponse struct {
	Device       string `json:"device"`
	AvenaVersion string `json:"avena_version"`
	UptimeMS     uint64 `json:"uptime_ms"`
	NatsName     string `json:"nats_name"`
}

// Encode serializes the response to JSON bytes.
func (m PingResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodePingResponse decodes a PingResponse from JSON bytes, rejecting an
// empty device field as malformed.
func DecodePingResponse(data []byte) (PingResponse, error) {
	var m PingResponse
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Device == "" {
		return m, fmt.Errorf("%w: missing device field", ErrMalformed)
	}
	return m, nil
}

// --- Status ---

// WorkloadStatus is the runtime state of a workload, derived on demand from
// the service manager.
type WorkloadStatus string

const (
	WorkloadStatusRunning WorkloadStatus = "running"
	WorkloadStatusStopped WorkloadStatus = "stopped"
	WorkloadStatusError   WorkloadStatus = "error"
	WorkloadStatusUnknown WorkloadStatus = "unknown"
)

// WorkloadState is the derived runtime state of one workload.
type WorkloadState struct {
	Name         string         `json:"name"`
	State        WorkloadStatus `json:"state"`
	ExitCode     *int32         `json:"exit_code,omitempty"`
	RestartCount uint32         `json:"restart_count"`
	StartedAt    *uint64        `json:"started_at,omitempty"`
	Image        string         `json:"image"`
}

// StatusResponse is the reply on StatusSubject.
type StatusResponse struct {
	Device       string          `json:"device"`
	AvenaVersion string          `json:"avena_version"`
	UptimeMS     uint64          `json:"uptime_ms"`
	Workloads    []WorkloadState `json:"workloads"`
}

// Encode serializes the response to JSON bytes.
func (m StatusResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeStatusResponse decodes a StatusResponse from JSON bytes.
func DecodeStatusResponse(data []byte) (StatusResponse, error) {
	var m StatusResponse
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Device == "" {
		return m, fmt.Errorf("%w: missing device field", ErrMalformed)
	}
	return m, nil
}

// --- Workload desired state / spec ---

// MountSpec is a bind mount from the host into the workload container.
type MountSpec struct {
	Host      string `json:"host"`
	Container string `json:"container"`
	ReadOnly  bool   `json:"readonly"`
}

// PortSpec is a published port mapping.
type PortSpec struct {
	Container uint16 `json:"container"`
	Host      uint16 `json:"host"`
}

// PermSpec is the set of subjects a workload is permitted to publish/subscribe.
type PermSpec struct {
	Publish   []string `json:"publish"`
	Subscribe []string `json:"subscribe"`
}

// WorkloadSpec is the desired specification of a workload's container.
type WorkloadSpec struct {
	Image   string      `json:"image"`
	Tag     *string     `json:"tag,omitempty"`
	Cmd     *string     `json:"cmd,omitempty"`
	Args    []string    `json:"args"`
	Env     []string    `json:"env"`
	Mounts  []MountSpec `json:"mounts"`
	Devices []string    `json:"devices"`
	Perms   PermSpec    `json:"perms"`
	Ports   []PortSpec  `json:"ports"`
	Volumes []string    `json:"volumes"`
}

// WorkloadDesiredState is the KV value stored under device/<id>/<workload>.
type WorkloadDesiredState struct {
	Name string       `json:"name"`
	Spec WorkloadSpec `json:"spec"`
}

// Encode serializes the desired state to JSON bytes.
func (m WorkloadDesiredState) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeWorkloadDesiredState decodes a WorkloadDesiredState from JSON bytes.
// Unparseable values are the caller's responsibility to skip, per the
// reconciler's "entries with unparseable values are skipped" rule.
func DecodeWorkloadDesiredState(data []byte) (WorkloadDesiredState, error) {
	var m WorkloadDesiredState
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Name == "" || m.Spec.Image == "" {
		return m, fmt.Errorf("%w: missing name or image field", ErrMalformed)
	}
	return m, nil
}

// WorkloadStatusLite is the status summary embedded in a WorkloadListItem.
type WorkloadStatusLite struct {
	Status    WorkloadStatus `json:"status"`
	Since     *uint64        `json:"since,omitempty"`
}

// WorkloadListItem is one entry in a WorkloadsListResponse.
type WorkloadListItem struct {
	Name  string              `json:"name"`
	Spec  WorkloadSpec        `json:"spec"`
	State WorkloadStatusLite  `json:"state"`
}

// WorkloadsListResponse is the reply on WorkloadsListSubject.
type WorkloadsListResponse struct {
	Device    string             `json:"device"`
	Workloads []WorkloadListItem `json:"workloads"`
}

// Encode serializes the response to JSON bytes.
func (m WorkloadsListResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeWorkloadsListResponse decodes a WorkloadsListResponse from JSON bytes.
func DecodeWorkloadsListResponse(data []byte) (WorkloadsListResponse, error) {
	var m WorkloadsListResponse
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Device == "" {
		return m, fmt.Errorf("%w: missing device field", ErrMalformed)
	}
	return m, nil
}

// --- Workload command ---

// WorkloadCommandKind is the tagged-variant discriminant for a workload
// command: start | stop | restart | logs{tail?}.
type WorkloadCommandKind string

const (
	WorkloadCommandStart   WorkloadCommandKind = "start"
	WorkloadCommandStop    WorkloadCommandKind = "stop"
	WorkloadCommandRestart WorkloadCommandKind = "restart"
	WorkloadCommandLogs    WorkloadCommandKind = "logs"
)

// WorkloadCommandRequest names the workload and the tagged command variant to
// perform against it. Tail is only meaningful for the logs command.
type WorkloadCommandRequest struct {
	Workload string              `json:"workload"`
	Command  WorkloadCommandKind `json:"command"`
	Tail     *uint32             `json:"tail,omitempty"`
}

// Encode serializes the request to JSON bytes.
func (m WorkloadCommandRequest) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeWorkloadCommandRequest decodes a WorkloadCommandRequest from JSON
// bytes, rejecting an unknown command tag as malformed.
func DecodeWorkloadCommandRequest(data []byte) (WorkloadCommandRequest, error) {
	var m WorkloadCommandRequest
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Workload == "" {
		return m, fmt.Errorf("%w: missing workload field", ErrMalformed)
	}
	switch m.Command {
	case WorkloadCommandStart, WorkloadCommandStop, WorkloadCommandRestart, WorkloadCommandLogs:
	default:
		return m, fmt.Errorf("%w: unknown command tag %q", ErrMalformed, m.Command)
	}
	return m, nil
}

// WorkloadCommandResponse is the reply on WorkloadCommandSubject.
type WorkloadCommandResponse struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message"`
	Logs    *string `json:"logs,omitempty"`
}

// Encode serializes the response to JSON bytes.
func (m WorkloadCommandResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeWorkloadCommandResponse decodes a WorkloadCommandResponse from JSON bytes.
func DecodeWorkloadCommandResponse(data []byte) (WorkloadCommandResponse, error) {
	var m WorkloadCommandResponse
	err := decode(data, &m)
	return m, err
}

// --- Announce / device ---

// Announce is the periodic publish-only message carrying the device's presence.
type Announce struct {
	Device       string  `json:"device"`
	AvenaVersion string  `json:"avena_version"`
	UptimeMS     uint64  `json:"uptime_ms"`
	NatsName     string  `json:"nats_name"`
	PubKey       *string `json:"pubkey,omitempty"`
}

// Encode serializes the announce to JSON bytes.
func (m Announce) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeAnnounce decodes an Announce from JSON bytes.
func DecodeAnnounce(data []byte) (Announce, error) {
	var m Announce
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.Device == "" {
		return m, fmt.Errorf("%w: missing device field", ErrMalformed)
	}
	return m, nil
}

// Device is the value stored in the avena_devices KV bucket, keyed by device id.
type Device struct {
	ID         string  `json:"id"`
	Version    string  `json:"version"`
	LastSeenMS *uint64 `json:"last_seen_ms,omitempty"`
	NatsName   *string `json:"nats_name,omitempty"`
	PubKey     *string `json:"pubkey,omitempty"`
}

// Encode serializes the device entry to JSON bytes.
func (m Device) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeDevice decodes a Device entry from JSON bytes.
func DecodeDevice(data []byte) (Device, error) {
	var m Device
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.ID == "" {
		return m, fmt.Errorf("%w: missing id field", ErrMalformed)
	}
	return m, nil
}

// --- Link handshake ---

// LinkOffer is the initiator's request body on LinkOfferSubject.
type LinkOffer struct {
	FromID     string  `json:"from_id"`
	FromPubKey string  `json:"from_pubkey"`
	Nonce      string  `json:"nonce"`
	LeafURL    string  `json:"leaf_url"`
	Signature  string  `json:"signature"`
	Token      *string `json:"token,omitempty"`
}

// Encode serializes the offer to JSON bytes.
func (m LinkOffer) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkOffer decodes a LinkOffer from JSON bytes.
func DecodeLinkOffer(data []byte) (LinkOffer, error) {
	var m LinkOffer
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.FromID == "" || m.FromPubKey == "" || m.Nonce == "" || m.Signature == "" {
		return m, fmt.Errorf("%w: missing required link offer field", ErrMalformed)
	}
	return m, nil
}

// LinkAccept is the acceptor's reply to a LinkOffer.
type LinkAccept struct {
	ToID          string  `json:"to_id"`
	ToPubKey      string  `json:"to_pubkey"`
	NonceResponse string  `json:"nonce_response"`
	LeafURL       string  `json:"leaf_url"`
	CredsInline   *string `json:"creds_inline,omitempty"`
	Signature     string  `json:"signature"`
	Token         *string `json:"token,omitempty"`
}

// Encode serializes the accept to JSON bytes.
func (m LinkAccept) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkAccept decodes a LinkAccept from JSON bytes.
func DecodeLinkAccept(data []byte) (LinkAccept, error) {
	var m LinkAccept
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.ToID == "" || m.ToPubKey == "" || m.NonceResponse == "" || m.Signature == "" {
		return m, fmt.Errorf("%w: missing required link accept field", ErrMalformed)
	}
	return m, nil
}

// LinkEntry is the value stored under link:<url> in the avena_links KV bucket.
type LinkEntry struct {
	URL          string  `json:"url"`
	CredsPath    *string `json:"creds_path,omitempty"`
	InlineCreds  *string `json:"inline_creds,omitempty"`
}

// Encode serializes the link entry to JSON bytes.
func (m LinkEntry) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkEntry decodes a LinkEntry from JSON bytes.
func DecodeLinkEntry(data []byte) (LinkEntry, error) {
	var m LinkEntry
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.URL == "" {
		return m, fmt.Errorf("%w: missing url field", ErrMalformed)
	}
	return m, nil
}

// --- Link register/unregister (administrative) ---

// LinkRegisterRequest requests an outbound handshake to remote_url.
type LinkRegisterRequest struct {
	RemoteURL string `json:"remote_url"`
}

// Encode serializes the request to JSON bytes.
func (m LinkRegisterRequest) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkRegisterRequest decodes a LinkRegisterRequest from JSON bytes.
func DecodeLinkRegisterRequest(data []byte) (LinkRegisterRequest, error) {
	var m LinkRegisterRequest
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.RemoteURL == "" {
		return m, fmt.Errorf("%w: missing remote_url field", ErrMalformed)
	}
	return m, nil
}

// LinkRegisterResponse is the {ok, message} reply to a register request.
type LinkRegisterResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Encode serializes the response to JSON bytes.
func (m LinkRegisterResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkRegisterResponse decodes a LinkRegisterResponse from JSON bytes.
func DecodeLinkRegisterResponse(data []byte) (LinkRegisterResponse, error) {
	var m LinkRegisterResponse
	err := decode(data, &m)
	return m, err
}

// LinkUnregisterRequest requests removal of the link:<remote_url> entry.
type LinkUnregisterRequest struct {
	RemoteURL string `json:"remote_url"`
}

// Encode serializes the request to JSON bytes.
func (m LinkUnregisterRequest) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkUnregisterRequest decodes a LinkUnregisterRequest from JSON bytes.
func DecodeLinkUnregisterRequest(data []byte) (LinkUnregisterRequest, error) {
	var m LinkUnregisterRequest
	if err := decode(data, &m); err != nil {
		return m, err
	}
	if m.RemoteURL == "" {
		return m, fmt.Errorf("%w: missing remote_url field", ErrMalformed)
	}
	return m, nil
}

// LinkUnregisterResponse is the {ok, message} reply to an unregister request.
// ok=false means "nothing to remove", returned literally, never reinterpreted.
type LinkUnregisterResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Encode serializes the response to JSON bytes.
func (m LinkUnregisterResponse) Encode() ([]byte, error) { return json.Marshal(m) }

// DecodeLinkUnregisterResponse decodes a LinkUnregisterResponse from JSON bytes.
func DecodeLinkUnregisterResponse(data []byte) (LinkUnregisterResponse, error) {
	var m LinkUnregisterResponse
	err := decode(data, &m)
	return m, err
}
