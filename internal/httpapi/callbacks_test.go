package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/streambus"
)

func noopWorkspaceSync(ctx context.Context, sessionID, reason string, occurredAt int64, runID string) error {
	return nil
}

func newCallbackTestServer(adapters ...provider.Adapter) *Server {
	bus := streambus.New(64)
	o := orchestrator.New(provider.NewRegistry(adapters...), bus)
	store := callback.NewStore()
	handler := callback.NewHandler(store, noopWorkspaceSync)
	return &Server{
		Orchestrator:  o,
		Bus:           bus,
		Callbacks:     handler,
		CallbackStore: store,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func TestHandleCallback_HumanLoopAskMarksWaitingHuman(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", handle: handle}
	s := newCallbackTestServer(adapter)

	if _, err := s.Orchestrator.StartRun(context.Background(), orchestrator.StartInput{RunID: "r1", Provider: "claude-code"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	s.CallbackStore.SeedRun("r1")

	ev := callback.Event{
		EventID:    "ev-1",
		Type:       callback.EventHumanLoopAsk,
		OccurredAt: time.Now().UTC(),
		SessionID:  "sess-1",
		QuestionID: "q1",
		Prompt:     "proceed?",
	}
	body, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/api/runs/r1/callbacks", bytes.NewReader(body))
	req.SetPathValue("runId", "r1")
	w := httptest.NewRecorder()

	s.handleCallback(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	snap, ok := s.Orchestrator.Snapshot("r1")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if snap.Status != orchestrator.StatusWaitingHuman {
		t.Errorf("Status = %q, want %q", snap.Status, orchestrator.StatusWaitingHuman)
	}

	closeHandle(handle)
}

func TestHandleCallback_DuplicateEventSkipsTransition(t *testing.T) {
	handle := newFakeHandle()
	adapter := &fakeAdapter{name: "claude-code", handle: handle}
	s := newCallbackTestServer(adapter)

	if _, err := s.Orchestrator.StartRun(context.Background(), orchestrator.StartInput{RunID: "r1", Provider: "claude-code"}); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	s.CallbackStore.SeedRun("r1")

	ev := callback.Event{EventID: "ev-1", Type: callback.EventHumanLoopAsk, SessionID: "sess-1", QuestionID: "q1"}
	body, _ := json.Marshal(ev)

	req1 := httptest.NewRequest(http.MethodPost, "/api/runs/r1/callbacks", bytes.NewReader(body))
	req1.SetPathValue("runId", "r1")
	s.handleCallback(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/api/runs/r1/callbacks", bytes.NewReader(body))
	req2.SetPathValue("runId", "r1")
	w2 := httptest.NewRecorder()
	s.handleCallback(w2, req2)

	var result callback.Result
	if err := json.Unmarshal(w2.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Duplicate {
		t.Error("expected second identical eventId to be reported as duplicate")
	}

	closeHandle(handle)
}
