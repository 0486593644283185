// Package opencode adapts an already-running OpenCode server (one per
// session container, started as part of that container's own lifecycle)
// to the provider.Adapter contract. Communication is HTTP:
// a POST kicks off the turn, and the server's /event SSE endpoint is
// consumed to translate message/todo updates into provider chunks.
package opencode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/provider"
)

const Name = "opencode"

var caps = provider.Capabilities{
	Resume:        true,
	HumanLoop:     false,
	TodoStream:    true,
	BuildPlanMode: false,
}

// ServerResolver locates the base URL of the OpenCode server backing a
// given session's container. The control plane wires this to the session
// worker lifecycle manager's container registry.
type ServerResolver func(ctx context.Context, sessionID string) (baseURL string, err error)

type Adapter struct {
	Resolve    ServerResolver
	HTTPClient *http.Client
}

func New(resolve ServerResolver) *Adapter {
	return &Adapter{
		Resolve:    resolve,
		HTTPClient: &http.Client{Timeout: 0}, // streaming: no blanket timeout
	}
}

func (a *Adapter) Name() string                        { return Name }
func (a *Adapter) Capabilities() provider.Capabilities { return caps }

func (a *Adapter) Run(ctx context.Context, input provider.RunInput) (provider.Handle, error) {
	baseURL, err := a.Resolve(ctx, sessionIDFromOptions(input))
	if err != nil {
		return nil, fmt.Errorf("opencode: resolve server: %w", err)
	}

	sessionID := input.ResumeSessionID
	if sessionID == "" {
		sessionID, err = createSession(ctx, a.HTTPClient, baseURL)
		if err != nil {
			return nil, fmt.Errorf("opencode: create session: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		runID:     input.RunID,
		sessionID: sessionID,
		baseURL:   baseURL,
		client:    a.HTTPClient,
		ch:        make(chan provider.Chunk, 64),
		cancel:    cancel,
	}

	if err := h.sendMessage(runCtx, flattenMessages(input.Messages)); err != nil {
		cancel()
		return nil, fmt.Errorf("opencode: send message: %w", err)
	}

	go h.pumpEvents(runCtx)
	return h, nil
}

func sessionIDFromOptions(input provider.RunInput) string {
	if v, ok := input.ProviderOptions["sessionId"].(string); ok {
		return v
	}
	return input.RunID
}

func flattenMessages(msgs []provider.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

type handle struct {
	runID     string
	sessionID string
	baseURL   string
	client    *http.Client
	ch        chan provider.Chunk
	cancel    context.CancelFunc
	mu        sync.Mutex
	finished  bool
}

var _ provider.Handle = (*handle)(nil)

func (h *handle) Stream() <-chan provider.Chunk { return h.ch }

func (h *handle) Stop(ctx context.Context) error {
	h.cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/session/"+h.sessionID+"/abort", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func createSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/session", nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (h *handle) sendMessage(ctx context.Context, text string) error {
	payload, _ := json.Marshal(map[string]any{
		"parts": []map[string]string{{"type": "text", "text": text}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/session/"+h.sessionID+"/message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opencode: message post returned %d", resp.StatusCode)
	}
	return nil
}

// sseEvent mirrors the shape of the opencode server's /event stream, keyed
// by its own event type constants.
type sseEvent struct {
	Type       string `json:"type"`
	Properties struct {
		SessionID string `json:"sessionID"`
		Part      struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"part"`
		Todo struct {
			ID      string `json:"id"`
			Content string `json:"content"`
			Status  string `json:"status"`
			Order   int    `json:"order"`
		} `json:"todo"`
		Status  string `json:"status"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	} `json:"properties"`
}

func (h *handle) pumpEvents(ctx context.Context) {
	defer close(h.ch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/event", nil)
	if err != nil {
		h.emitFinished(provider.TerminalFailed, err.Error())
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		h.emitFinished(provider.TerminalFailed, err.Error())
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			logger.ErrorContext(ctx, "opencode: malformed sse event", "run_id", h.runID, "error", err)
			continue
		}
		if evt.Properties.SessionID != "" && evt.Properties.SessionID != h.sessionID {
			continue
		}

		switch evt.Type {
		case "message.part.updated":
			if evt.Properties.Part.Type == "text" && evt.Properties.Part.Text != "" {
				h.ch <- provider.Chunk{Type: provider.ChunkMessageDelta, Text: evt.Properties.Part.Text}
			}
		case "todo.updated":
			h.ch <- provider.Chunk{
				Type:        provider.ChunkTodoUpdate,
				TodoID:      evt.Properties.Todo.ID,
				TodoContent: evt.Properties.Todo.Content,
				TodoStatus:  evt.Properties.Todo.Status,
				TodoOrder:   evt.Properties.Todo.Order,
			}
		case "session.idle":
			status := provider.TerminalSucceeded
			if !evt.Properties.Success && evt.Properties.Error != "" {
				status = provider.TerminalFailed
			}
			h.emitFinished(status, evt.Properties.Error)
			return
		case "session.error":
			h.emitFinished(provider.TerminalFailed, evt.Properties.Error)
			return
		}
	}

	if ctx.Err() != nil {
		h.emitFinished(provider.TerminalCanceled, "")
		return
	}
	// Stream closed without a terminal event: the deferred close ends the
	// channel with no run.finished, which the orchestrator treats as
	// ProviderFailure.
}

func (h *handle) emitFinished(status provider.TerminalStatus, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	select {
	case h.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: status, Reason: reason}:
	case <-time.After(time.Second):
	}
}
