package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/queuemanager"
	"github.com/relayforge/agentctl/internal/streambus"
)

func newQueueTestServer(adapters ...provider.Adapter) *Server {
	bus := streambus.New(64)
	o := orchestrator.New(provider.NewRegistry(adapters...), bus)
	q := queue.NewMemoryEngine()
	qm := &queuemanager.Manager{Queue: q, Orchestrator: o, Bus: bus, Now: func() time.Time { return time.Now().UTC() }}
	return &Server{
		Orchestrator: o,
		Bus:          bus,
		Queue:        q,
		QueueManager: qm,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func TestHandleQueueEnqueue(t *testing.T) {
	s := newQueueTestServer()

	body, _ := json.Marshal(enqueueRequest{
		SessionID: "sess-1",
		Provider:  "claude-code",
		Model:     "m1",
		Messages:  []messageJSON{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/runs/queue/enqueue", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleQueueEnqueue(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["runId"] == "" || resp["runId"] == nil {
		t.Error("expected a generated runId")
	}
}

func TestHandleQueueEnqueue_MissingFields(t *testing.T) {
	s := newQueueTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/runs/queue/enqueue", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	s.handleQueueEnqueue(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleQueueFind_NotFound(t *testing.T) {
	s := newQueueTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/runs/queue/missing", nil)
	req.SetPathValue("runId", "missing")
	w := httptest.NewRecorder()

	s.handleQueueFind(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleQueueDrain_RunsEnqueuedItem(t *testing.T) {
	handle := newFakeHandle()
	handle.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: provider.TerminalSucceeded}
	closeHandle(handle)
	adapter := &fakeAdapter{name: "claude-code", handle: handle}
	s := newQueueTestServer(adapter)

	enqueueBody, _ := json.Marshal(enqueueRequest{
		RunID:     "r1",
		SessionID: "sess-1",
		Provider:  "claude-code",
		Model:     "m1",
		Messages:  []messageJSON{{Role: "user", Content: "hi"}},
	})
	enqReq := httptest.NewRequest(http.MethodPost, "/api/runs/queue/enqueue", bytes.NewReader(enqueueBody))
	enqW := httptest.NewRecorder()
	s.handleQueueEnqueue(enqW, enqReq)
	if enqW.Code != http.StatusAccepted {
		t.Fatalf("enqueue status = %d, body = %s", enqW.Code, enqW.Body.String())
	}

	drainReq := httptest.NewRequest(http.MethodPost, "/api/runs/queue/drain", bytes.NewReader([]byte(`{"limit":1}`)))
	drainW := httptest.NewRecorder()
	s.handleQueueDrain(drainW, drainReq)

	if drainW.Code != http.StatusOK {
		t.Fatalf("drain status = %d, body = %s", drainW.Code, drainW.Body.String())
	}
	var result queuemanager.DrainResult
	if err := json.Unmarshal(drainW.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode drain result: %v", err)
	}
	if result.Claimed != 1 || result.Succeeded != 1 {
		t.Errorf("DrainResult = %+v, want Claimed=1 Succeeded=1", result)
	}
}
