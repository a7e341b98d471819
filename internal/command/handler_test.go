package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"firestige.xyz/udpin/internal/pipeline"
	"firestige.xyz/udpin/internal/session"
)

type fakeSession struct {
	status session.Status
	stats  session.Stats
	caps   session.Capabilities
}

func (f *fakeSession) Status() session.Status             { return f.status }
func (f *fakeSession) Stats() session.Stats               { return f.stats }
func (f *fakeSession) Capabilities() session.Capabilities { return f.caps }

type fakePipeline struct {
	stats pipeline.Stats
}

func (f *fakePipeline) Stats() pipeline.Stats { return f.stats }

func newTestHandler() *CommandHandler {
	sess := &fakeSession{
		status: session.Status{ID: "s-1", State: session.StateRunning, Local: "127.0.0.1:1234"},
		stats:  session.Stats{Received: 7, Bytes: 700},
		caps:   session.Capabilities{CanPause: true, PTSDelay: time.Second},
	}
	pl := &fakePipeline{stats: pipeline.Stats{Sink: "discard", Read: 7, Written: 7}}
	return NewCommandHandler(sess, pl)
}

func TestCommandHandler_SessionStatus(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "session_status", ID: "req-1"})
	if resp.ID != "req-1" {
		t.Errorf("response ID = %s, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	st, ok := resp.Result.(session.Status)
	if !ok {
		t.Fatalf("result type = %T, want session.Status", resp.Result)
	}
	if st.ID != "s-1" || st.State != session.StateRunning {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestCommandHandler_SessionStats(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "session_stats", ID: "req-2"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	result, ok := resp.Result.(SessionStatsResult)
	if !ok {
		t.Fatalf("result type = %T, want SessionStatsResult", resp.Result)
	}
	if result.Session.Received != 7 {
		t.Errorf("session received = %d, want 7", result.Session.Received)
	}
	if result.Pipeline == nil || result.Pipeline.Written != 7 {
		t.Errorf("unexpected pipeline stats %+v", result.Pipeline)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["pipeline"]["sink"] != "discard" {
		t.Errorf("pipeline.sink = %v, want discard", decoded["pipeline"]["sink"])
	}
}

func TestCommandHandler_SessionStatsWithoutPipeline(t *testing.T) {
	handler := NewCommandHandler(&fakeSession{}, nil)

	resp := handler.Handle(context.Background(), Command{Method: "session_stats", ID: "req-3"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	if result := resp.Result.(SessionStatsResult); result.Pipeline != nil {
		t.Error("pipeline stats should be omitted")
	}
}

func TestCommandHandler_SessionCapabilities(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "session_capabilities", ID: "req-4"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	caps := resp.Result.(session.Capabilities)
	if !caps.CanPause || caps.PTSDelay != time.Second {
		t.Errorf("unexpected capabilities %+v", caps)
	}
}

func TestCommandHandler_NoSession(t *testing.T) {
	handler := NewCommandHandler(nil, nil)

	for _, method := range []string{"session_status", "session_stats", "session_capabilities"} {
		t.Run(method, func(t *testing.T) {
			resp := handler.Handle(context.Background(), Command{Method: method, ID: "req"})
			if resp.Error == nil || resp.Error.Code != ErrCodeInternalError {
				t.Errorf("expected internal error, got %+v", resp.Error)
			}
		})
	}

	resp := handler.Handle(context.Background(), Command{Method: "daemon_status", ID: "req"})
	if resp.Error != nil {
		t.Errorf("daemon_status should work without a session: %s", resp.Error.Message)
	}
}

func TestCommandHandler_DaemonStatus(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "daemon_status", ID: "req-5"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	result := resp.Result.(map[string]any)
	for _, key := range []string{"version", "pid", "uptime_sec", "session_id", "session_state"} {
		if _, ok := result[key]; !ok {
			t.Errorf("result missing %q", key)
		}
	}
	if result["session_id"] != "s-1" {
		t.Errorf("session_id = %v, want s-1", result["session_id"])
	}
}

func TestCommandHandler_DaemonShutdown(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "req-6"})
	if resp.Error == nil {
		t.Fatal("expected error without shutdown func")
	}

	called := make(chan struct{})
	handler.SetShutdownFunc(func() { close(called) })

	resp = handler.Handle(context.Background(), Command{Method: "daemon_shutdown", ID: "req-7"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s", resp.Error.Message)
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("shutdown func not called")
	}
}

func TestCommandHandler_UnknownMethod(t *testing.T) {
	handler := newTestHandler()

	resp := handler.Handle(context.Background(), Command{Method: "task_create", ID: "req-8"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}
