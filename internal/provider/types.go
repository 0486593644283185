// Package provider defines the uniform adapter contract the Run
// Orchestrator drives regardless of which agent backend is handling a run.
//
// Providers are data, not polymorphism: every adapter declares a fixed
// Capabilities value and the orchestrator branches on its flags rather than
// type-switching on the adapter itself.
package provider

import "context"

// Role is the chat message role accepted by run.start.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation seed passed to Run.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Capabilities are static, declared per adapter; the orchestrator reads them
// as data to decide whether to gate, warn, or proceed.
type Capabilities struct {
	Resume        bool `json:"resume"`
	HumanLoop     bool `json:"humanLoop"`
	TodoStream    bool `json:"todoStream"`
	BuildPlanMode bool `json:"buildPlanMode"`
}

// RunInput bundles everything an adapter needs to start a run.
type RunInput struct {
	RunID            string
	Provider         string
	Model            string
	Messages         []Message
	ResumeSessionID  string
	ExecutionProfile string
	Tools            []string
	ProviderOptions  map[string]any
}

// ChunkType discriminates the ProviderChunk variants in §4.2.
type ChunkType string

const (
	ChunkMessageDelta ChunkType = "message.delta"
	ChunkTodoUpdate   ChunkType = "todo.update"
	ChunkRunFinished  ChunkType = "run.finished"
)

// TerminalStatus is the run outcome carried by a run.finished chunk.
type TerminalStatus string

const (
	TerminalSucceeded TerminalStatus = "succeeded"
	TerminalFailed    TerminalStatus = "failed"
	TerminalCanceled  TerminalStatus = "canceled"
)

// Usage is the token/cost accounting optionally attached to a terminal chunk.
type Usage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd,omitempty"`
}

// Chunk is a single item in a provider's output stream. Exactly one field
// group matching Type is populated.
type Chunk struct {
	Type ChunkType

	// message.delta
	Text string

	// todo.update
	TodoID      string
	TodoContent string
	TodoStatus  string
	TodoOrder   int

	// run.finished
	Status TerminalStatus
	Reason string
	Usage  *Usage
}

// Handle is a live reference to an in-progress provider run.
type Handle interface {
	// Stream returns a receive-only channel of chunks. The channel is
	// closed when the provider run ends; at most one Chunk with
	// Type==ChunkRunFinished is ever sent. A handle that closes its
	// channel without emitting one is treated by the orchestrator as a
	// ProviderFailure.
	Stream() <-chan Chunk

	// Stop requests cancellation of the in-progress run. It must be safe
	// to call more than once and after the stream has already closed.
	Stop(ctx context.Context) error
}

// ReplyCapable is implemented by handles whose adapter declares
// Capabilities.HumanLoop.
type ReplyCapable interface {
	Reply(ctx context.Context, questionID, answer string) error
}

// Adapter abstracts over a single agent backend.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Run(ctx context.Context, input RunInput) (Handle, error)
}

// Registry resolves a provider name to its Adapter.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}
