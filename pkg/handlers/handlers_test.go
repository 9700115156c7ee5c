package handlers

import (
	"testing"
	"time"

	"github.com/oats-center/avena/pkg/messages"
)

func TestHandleWorkloadCommandUnknown(t *testing.T) {
	s := &Server{DeviceID: "dev-1"}
	resp := s.handleWorkloadCommand(messages.WorkloadCommandRequest{
		Workload: "hello",
		Command:  messages.WorkloadCommandKind("frobnicate"),
	})
	if resp.OK {
		t.Fatal("expected OK=false for an unknown command kind")
	}
	if resp.Message == "" {
		t.Error("expected a non-empty message explaining the failure")
	}
}

func TestUptimeMSSmallJustAfterStart(t *testing.T) {
	s := &Server{Started: time.Now()}
	if got := s.uptimeMS(); got > 1000 {
		t.Errorf("uptimeMS() = %d, want a small value just after Started", got)
	}
}
