// Package codexcli adapts the codex-cli binary to the provider.Adapter
// contract. Same subprocess/JSONL shape as claudecode, with a narrower
// capability set (no resume, no human-loop).
package codexcli

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

const Name = "codex-cli"

var caps = provider.Capabilities{
	Resume:        false,
	HumanLoop:     false,
	TodoStream:    false,
	BuildPlanMode: true,
}

type Adapter struct {
	BinPath string
}

func New(binPath string) *Adapter {
	if binPath == "" {
		binPath = "codex"
	}
	return &Adapter{BinPath: binPath}
}

func (a *Adapter) Name() string                        { return Name }
func (a *Adapter) Capabilities() provider.Capabilities { return caps }

func (a *Adapter) Run(ctx context.Context, input provider.RunInput) (provider.Handle, error) {
	args := []string{"exec", "--json"}
	if input.Model != "" {
		args = append(args, "--model", input.Model)
	}

	cmd := exec.CommandContext(ctx, a.BinPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("codex-cli: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex-cli: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codex-cli: start: %w", err)
	}

	if _, err := fmt.Fprintln(stdin, flattenMessages(input.Messages)); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("codex-cli: write prompt: %w", err)
	}
	_ = stdin.Close()

	h := &handle{cmd: cmd, runID: input.RunID, ch: make(chan provider.Chunk, 64)}
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

type handle struct {
	cmd    *exec.Cmd
	runID  string
	ch     chan provider.Chunk
	mu     sync.Mutex
	closed bool
}

var _ provider.Handle = (*handle)(nil)

func (h *handle) Stream() <-chan provider.Chunk { return h.ch }

type wireEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
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
			logger.ErrorContext(context.Background(), "codex-cli: malformed event", "run_id", h.runID, "error", err)
			continue
		}
		switch evt.Type {
		case "agent_message_delta", "message":
			if evt.Message != "" {
				h.ch <- provider.Chunk{Type: provider.ChunkMessageDelta, Text: evt.Message}
			}
		case "task_complete":
			finished = true
			status := provider.TerminalSucceeded
			reason := ""
			if !evt.Success {
				status = provider.TerminalFailed
				reason = evt.Error
			}
			h.ch <- provider.Chunk{Type: provider.ChunkRunFinished, Status: status, Reason: reason}
		}
	}

	if err := h.cmd.Wait(); err != nil && !finished {
		logger.ErrorContext(context.Background(), "codex-cli: process exited without terminal event", "run_id", h.runID, "error", err)
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
