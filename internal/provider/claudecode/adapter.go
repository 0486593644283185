// Package claudecode adapts the claude-code CLI to the provider.Adapter
// contract. The CLI is spawned as a subprocess per run and emits
// newline-delimited JSON events on stdout, the stream-jsonrpc wire shape
// the claude-code CLI speaks in its own --output-format=stream-json mode.
package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/provider"
)

// Name is the provider identifier used in RunInput.Provider / registry keys.
const Name = "claude-code"

// Capabilities declares what this adapter supports; the orchestrator reads
// these as data, never type-switching on the adapter itself.
var caps = provider.Capabilities{
	Resume:        true,
	HumanLoop:     true,
	TodoStream:    false,
	BuildPlanMode: true,
}

// Adapter spawns the claude-code CLI per run.
type Adapter struct {
	// BinPath is the claude-code executable; defaults to "claude" on PATH.
	BinPath string
}

func New(binPath string) *Adapter {
	if binPath == "" {
		binPath = "claude"
	}
	return &Adapter{BinPath: binPath}
}

func (a *Adapter) Name() string                        { return Name }
func (a *Adapter) Capabilities() provider.Capabilities { return caps }

func (a *Adapter) Run(ctx context.Context, input provider.RunInput) (provider.Handle, error) {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if input.Model != "" {
		args = append(args, "--model", input.Model)
	}
	if input.ResumeSessionID != "" {
		args = append(args, "--resume", input.ResumeSessionID)
	}

	cmd := exec.CommandContext(ctx, a.BinPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("claude-code: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude-code: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("claude-code: start: %w", err)
	}

	prompt := flattenMessages(input.Messages)
	if _, err := fmt.Fprintln(stdin, prompt); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("claude-code: write prompt: %w", err)
	}
	_ = stdin.Close()

	h := &handle{
		cmd:    cmd,
		runID:  input.RunID,
		ch:     make(chan provider.Chunk, 64),
		replyC: make(chan replyRequest, 4),
	}
	go h.pump(stdout)
	return h, nil
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

type replyRequest struct {
	questionID string
	answer     string
}

type handle struct {
	cmd    *exec.Cmd
	runID  string
	ch     chan provider.Chunk
	replyC chan replyRequest
	mu     sync.Mutex
	closed bool
}

var _ provider.Handle = (*handle)(nil)
var _ provider.ReplyCapable = (*handle)(nil)

func (h *handle) Stream() <-chan provider.Chunk { return h.ch }

// wireEvent is the newline-delimited JSON event shape emitted by
// `claude --output-format stream-json`.
type wireEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Text    string `json:"text"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func (h *handle) pump(stdout io.Reader) {
	defer close(h.ch)

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	finished := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var evt wireEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			logger.ErrorContext(context.Background(), "claude-code: malformed event", "run_id", h.runID, "error", err)
			continue
		}
		switch evt.Type {
		case "assistant", "text":
			if evt.Text != "" {
				h.ch <- provider.Chunk{Type: provider.ChunkMessageDelta, Text: evt.Text}
			}
		case "result":
			finished = true
			status := provider.TerminalSucceeded
			reason := ""
			if evt.IsError {
				status = provider.TerminalFailed
				reason = evt.Result
			}
			h.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: status, Reason: reason}
		}
	}

	if err := h.cmd.Wait(); err != nil && !finished {
		logger.ErrorContext(context.Background(), "claude-code: process exited without terminal event", "run_id", h.runID, "error", err)
	}
}

func (h *handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.cmd.Process != nil {
		return h.cmd.Process.Kill()
	}
	return nil
}

func (h *handle) Reply(ctx context.Context, questionID, answer string) error {
	select {
	case h.replyC <- replyRequest{questionID: questionID, answer: answer}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
