package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/streambus"
)

type fakeHandle struct {
	ch       chan provider.Chunk
	stopped  bool
	replied  []string
	replyErr error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{ch: make(chan provider.Chunk, 16)}
}

func (h *fakeHandle) Stream() <-chan provider.Chunk { return h.ch }

func (h *fakeHandle) Stop(ctx context.Context) error {
	h.stopped = true
	return nil
}

func (h *fakeHandle) Reply(ctx context.Context, questionID, answer string) error {
	h.replied = append(h.replied, questionID+":"+answer)
	return h.replyErr
}

type fakeAdapter struct {
	name    string
	caps    provider.Capabilities
	handle  *fakeHandle
	runErr  error
	lastIn  provider.RunInput
}

func (a *fakeAdapter) Name() string                        { return a.name }
func (a *fakeAdapter) Capabilities() provider.Capabilities { return a.caps }
func (a *fakeAdapter) Run(ctx context.Context, input provider.RunInput) (provider.Handle, error) {
	a.lastIn = input
	if a.runErr != nil {
		return nil, a.runErr
	}
	return a.handle, nil
}

func newOrchestrator(adapters ...provider.Adapter) *Orchestrator {
	return New(provider.NewRegistry(adapters...), streambus.New(0))
}

func TestStartRun_Accepted(t *testing.T) {
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{HumanLoop: true, Resume: true}, handle: newFakeHandle()}
	o := newOrchestrator(adapter)

	result, err := o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected run to be accepted")
	}

	snap, ok := o.Snapshot("r1")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if snap.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", snap.Status, StatusRunning)
	}
}

func TestStartRun_UnknownProvider(t *testing.T) {
	o := newOrchestrator()

	_, err := o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestStartRun_BlockedWithoutHumanLoopCapability(t *testing.T) {
	adapter := &fakeAdapter{name: "codex-cli", caps: provider.Capabilities{HumanLoop: false}, handle: newFakeHandle()}
	o := newOrchestrator(adapter)

	result, err := o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "codex-cli", RequireHumanLoop: true})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if result.Accepted {
		t.Fatal("expected run to be blocked")
	}
	if result.Reason == "" {
		t.Error("expected a reason for blocking")
	}

	snap, ok := o.Snapshot("r1")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if snap.Status != StatusBlocked {
		t.Errorf("Status = %q, want %q", snap.Status, StatusBlocked)
	}
}

func TestStartRun_ResumeFallbackWarning(t *testing.T) {
	adapter := &fakeAdapter{name: "opencode", caps: provider.Capabilities{Resume: false}, handle: newFakeHandle()}
	o := newOrchestrator(adapter)

	result, err := o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "opencode", ResumeSessionID: "prior-session"})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected run to be accepted with a fallback warning")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", result.Warnings)
	}
	if adapter.lastIn.ResumeSessionID != "" {
		t.Error("expected resumeSessionId to be cleared before calling adapter.Run")
	}
}

func TestStreamRun_DeliversChunksAndTerminal(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{HumanLoop: true}, handle: handle}
	o := newOrchestrator(adapter)

	if _, err := o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	handle.ch <- provider.Chunk{Type: provider.ChunkMessageDelta, Text: "hello"}
	handle.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: provider.TerminalSucceeded}
	close(handle.ch)

	var received []streambus.Entry
	done := make(chan struct{})
	unsub := o.bus.Subscribe("r1", 0, func(e streambus.Entry) {
		received = append(received, e)
		if evt, ok := e.Event.(Event); ok && evt.Type == EventRunStatus && evt.Detail != "started" {
			close(done)
		}
	}, nil)
	defer unsub()

	if err := o.StreamRun(context.Background(), "r1"); err != nil {
		t.Fatalf("StreamRun() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for terminal event")
	}

	var sawDelta, sawSucceeded bool
	for _, e := range received {
		evt := e.Event.(Event)
		if evt.Type == EventMessageDelta && evt.Text == "hello" {
			sawDelta = true
		}
		if evt.Type == EventRunStatus && evt.Detail == "succeeded" {
			sawSucceeded = true
		}
	}
	if !sawDelta {
		t.Error("expected a message.delta event")
	}
	if !sawSucceeded {
		t.Error("expected a terminal run.status succeeded event")
	}

	snap, _ := o.Snapshot("r1")
	if snap.Status != StatusSucceeded {
		t.Errorf("Status = %q, want %q", snap.Status, StatusSucceeded)
	}
}

func TestStreamRun_SingleConsumer(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{}, handle: handle}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})

	go func() {
		handle.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: provider.TerminalSucceeded}
		close(handle.ch)
	}()

	if err := o.StreamRun(context.Background(), "r1"); err != nil {
		t.Fatalf("first StreamRun() error = %v", err)
	}

	if err := o.StreamRun(context.Background(), "r1"); err == nil {
		t.Fatal("expected second StreamRun() to fail")
	}
}

func TestStreamRun_UnknownRun(t *testing.T) {
	o := newOrchestrator()
	if err := o.StreamRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestStopRun(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{}, handle: handle}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})

	if ok := o.StopRun(context.Background(), "r1"); !ok {
		t.Fatal("expected StopRun to succeed")
	}
	if !handle.stopped {
		t.Error("expected handle.Stop to be called")
	}

	snap, _ := o.Snapshot("r1")
	if snap.Status != StatusCanceled {
		t.Errorf("Status = %q, want %q", snap.Status, StatusCanceled)
	}

	if ok := o.StopRun(context.Background(), "r1"); ok {
		t.Error("expected second StopRun to be a no-op")
	}
}

func TestStopRun_NotFound(t *testing.T) {
	o := newOrchestrator()
	if ok := o.StopRun(context.Background(), "missing"); ok {
		t.Error("expected StopRun on unknown run to return false")
	}
}

func TestReplyHumanLoop(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{HumanLoop: true}, handle: handle}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})

	if err := o.ReplyHumanLoop(context.Background(), "r1", "q1", "yes"); err != nil {
		t.Fatalf("ReplyHumanLoop() error = %v", err)
	}
	if len(handle.replied) != 1 || handle.replied[0] != "q1:yes" {
		t.Errorf("replied = %v, want [q1:yes]", handle.replied)
	}
}

func TestReplyHumanLoop_NotRunning(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{HumanLoop: true}, handle: handle}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})
	_ = o.StopRun(context.Background(), "r1")

	if err := o.ReplyHumanLoop(context.Background(), "r1", "q1", "yes"); err == nil {
		t.Fatal("expected error replying to a canceled run")
	}
}

func TestMarkWaitingHumanAndMarkRunning(t *testing.T) {
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{HumanLoop: true}, handle: newFakeHandle()}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})

	o.MarkWaitingHuman("r1")
	snap, _ := o.Snapshot("r1")
	if snap.Status != StatusWaitingHuman {
		t.Errorf("Status = %q, want %q", snap.Status, StatusWaitingHuman)
	}

	o.MarkRunning("r1")
	snap, _ = o.Snapshot("r1")
	if snap.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", snap.Status, StatusRunning)
	}
}

func TestForget(t *testing.T) {
	adapter := &fakeAdapter{name: "claude-code", caps: provider.Capabilities{}, handle: newFakeHandle()}
	o := newOrchestrator(adapter)
	_, _ = o.StartRun(context.Background(), StartInput{RunID: "r1", Provider: "claude-code"})

	o.Forget("r1")
	if _, ok := o.Snapshot("r1"); ok {
		t.Error("expected snapshot to be gone after Forget")
	}
}
