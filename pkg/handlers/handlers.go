/*
Package handlers implements the device's direct request/reply services:
ping, status, workload listing, and workload commands (start/stop/restart/
logs). Each handler is a standing subscription; every reply carries the
Avena-HLC header merged from, then re-ticked past, the incoming request.
*/
package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oats-center/avena/pkg/hlc"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/messages"
	"github.com/oats-center/avena/pkg/metrics"
	"github.com/oats-center/avena/pkg/servicemgr"
	"github.com/oats-center/avena/pkg/workload"
)

// AvenaVersion is the version string reported in ping/status replies.
const AvenaVersion = "0.1.0"

// Server wires the device's identity and runtime dependencies into the
// request handlers.
type Server struct {
	NC         *nats.Conn
	Clock      *hlc.Clock
	DeviceID   string
	NatsName   string
	Started    time.Time
	Manager    *servicemgr.Manager
}

func (s *Server) reply(msg *nats.Msg, payload []byte) {
	hdr := make(nats.Header)
	s.Clock.AttachHeader(hdr)
	resp := &nats.Msg{Subject: msg.Reply, Header: hdr, Data: payload}
	if err := s.NC.PublishMsg(resp); err != nil {
		log.WithComponent("handlers").Warn().Err(err).Msg("failed to publish reply")
	}
}

func (s *Server) mergeIncoming(msg *nats.Msg) {
	if msg.Header != nil {
		s.Clock.MergeFromHeader(msg.Header)
	}
}

func (s *Server) uptimeMS() uint64 {
	return uint64(time.Since(s.Started).Milliseconds())
}

func observe(subject string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.HandlerRequestsTotal.WithLabelValues(subject, outcome).Inc()
	metrics.HandlerLatency.WithLabelValues(subject).Observe(time.Since(start).Seconds())
}

// ServePing answers broadcast and per-device ping requests on subject.
func (s *Server) ServePing(subject string) (*nats.Subscription, error) {
	return s.NC.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		s.mergeIncoming(msg)
		if msg.Reply == "" {
			return
		}
		resp := messages.PingResponse{
			Device:       s.DeviceID,
			AvenaVersion: AvenaVersion,
			UptimeMS:     s.uptimeMS(),
			NatsName:     s.NatsName,
		}
		data, err := resp.Encode()
		if err != nil {
			observe(subject, start, err)
			return
		}
		s.reply(msg, data)
		observe(subject, start, nil)
	})
}

// ServeStatus answers status requests, reporting every avena-* unit's
// derived runtime state.
func (s *Server) ServeStatus(subject string) (*nats.Subscription, error) {
	return s.NC.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		s.mergeIncoming(msg)
		if msg.Reply == "" {
			return
		}
		workloads, err := s.currentWorkloads(context.Background())
		if err != nil {
			log.WithComponent("handlers").Warn().Err(err).Msg("status: list units failed")
			workloads = nil
		}
		resp := messages.StatusResponse{
			Device:       s.DeviceID,
			AvenaVersion: AvenaVersion,
			UptimeMS:     s.uptimeMS(),
			Workloads:    workloads,
		}
		data, err := resp.Encode()
		if err != nil {
			observe(subject, start, err)
			return
		}
		s.reply(msg, data)
		observe(subject, start, nil)
	})
}

// ServeWorkloadsList answers workload-listing requests with each avena-*
// unit's name and derived status. The desired spec is not looked up at this
// layer: every item's image is the placeholder "unknown".
func (s *Server) ServeWorkloadsList(subject string) (*nats.Subscription, error) {
	return s.NC.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		s.mergeIncoming(msg)
		if msg.Reply == "" {
			return
		}
		units, err := s.Manager.ListUnits(context.Background())
		if err != nil {
			observe(subject, start, err)
			return
		}
		items := make([]messages.WorkloadListItem, 0, len(units))
		for _, u := range units {
			if !servicemgr.IsAvenaUnit(u.Name) {
				continue
			}
			name := u.Name[:len(u.Name)-len(".service")]
			items = append(items, messages.WorkloadListItem{
				Name: name,
				Spec: messages.WorkloadSpec{Image: "unknown"},
				State: messages.WorkloadStatusLite{
					Status: messages.WorkloadStatus(servicemgr.ActiveStatus(u.ActiveState)),
				},
			})
		}
		resp := messages.WorkloadsListResponse{Device: s.DeviceID, Workloads: items}
		data, err := resp.Encode()
		if err != nil {
			observe(subject, start, err)
			return
		}
		s.reply(msg, data)
		observe(subject, start, nil)
	})
}

// ServeWorkloadCommand answers start/stop/restart/logs requests against a
// single named workload.
func (s *Server) ServeWorkloadCommand(subject string) (*nats.Subscription, error) {
	return s.NC.Subscribe(subject, func(msg *nats.Msg) {
		start := time.Now()
		s.mergeIncoming(msg)
		if msg.Reply == "" {
			return
		}

		req, err := messages.DecodeWorkloadCommandRequest(msg.Data)
		resp := messages.WorkloadCommandResponse{}
		if err != nil {
			resp.OK = false
			resp.Message = err.Error()
		} else {
			resp = s.handleWorkloadCommand(req)
		}

		data, encErr := resp.Encode()
		if encErr != nil {
			observe(subject, start, encErr)
			return
		}
		s.reply(msg, data)
		observe(subject, start, err)
	})
}

func (s *Server) handleWorkloadCommand(req messages.WorkloadCommandRequest) messages.WorkloadCommandResponse {
	unitName := workload.UnitName(req.Workload) + ".service"
	ctx := context.Background()

	switch req.Command {
	case messages.WorkloadCommandStart:
		if err := s.Manager.StartUnit(ctx, unitName, "replace"); err != nil {
			return messages.WorkloadCommandResponse{OK: false, Message: err.Error()}
		}
		return messages.WorkloadCommandResponse{OK: true, Message: fmt.Sprintf("Started %s", req.Workload)}
	case messages.WorkloadCommandStop:
		if err := s.Manager.StopUnit(ctx, unitName, "replace"); err != nil {
			return messages.WorkloadCommandResponse{OK: false, Message: err.Error()}
		}
		return messages.WorkloadCommandResponse{OK: true, Message: fmt.Sprintf("Stopped %s", req.Workload)}
	case messages.WorkloadCommandRestart:
		if err := s.Manager.RestartUnit(ctx, unitName, "replace"); err != nil {
			return messages.WorkloadCommandResponse{OK: false, Message: err.Error()}
		}
		return messages.WorkloadCommandResponse{OK: true, Message: fmt.Sprintf("Restarted %s", req.Workload)}
	case messages.WorkloadCommandLogs:
		return s.tailLogs(unitName, req.Tail)
	default:
		return messages.WorkloadCommandResponse{OK: false, Message: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (s *Server) tailLogs(unitName string, tail *uint32) messages.WorkloadCommandResponse {
	args := []string{"-u", unitName, "--no-pager"}
	if tail != nil {
		args = append(args, "-n", strconv.FormatUint(uint64(*tail), 10))
	}
	cmd := exec.Command("journalctl", args...)
	out, err := cmd.Output()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return messages.WorkloadCommandResponse{OK: false, Message: err.Error()}
		}
	}
	logs := string(out)
	return messages.WorkloadCommandResponse{
		OK:      exitCode == 0,
		Message: fmt.Sprintf("journalctl exited with status %d", exitCode),
		Logs:    &logs,
	}
}

func (s *Server) currentWorkloads(ctx context.Context) ([]messages.WorkloadState, error) {
	units, err := s.Manager.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]messages.WorkloadState, 0, len(units))
	for _, u := range units {
		if !servicemgr.IsAvenaUnit(u.Name) {
			continue
		}
		name := u.Name[:len(u.Name)-len(".service")]
		states = append(states, messages.WorkloadState{
			Name:  name,
			State: messages.WorkloadStatus(servicemgr.ActiveStatus(u.ActiveState)),
			Image: "unknown",
		})
	}
	return states, nil
}
