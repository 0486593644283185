// Package config loads the control plane's environment-driven configuration
// into a typed Config via a defaults struct populated by a loader function,
// validated once at startup.
package config

import "time"

// StorageKind selects the Run Queue Engine's backing store.
type StorageKind string

const (
	StorageMemory   StorageKind = "memory"
	StoragePostgres StorageKind = "postgres"
)

// ExecutorConfig mirrors executorclient.Config's environment knobs.
type ExecutorConfig struct {
	BaseURL          string
	AuthToken        string
	TimeoutMs        int64
	MaxRetries       int
	RetryDelayMs     int64
	RetryStatusCodes []int
	RatePerSecond    float64
	RateBurst        int
}

// RunQueueConfig mirrors the RUN_QUEUE_* environment knobs.
type RunQueueConfig struct {
	Owner        string
	LockMs       int64
	RetryDelayMs int64
	DrainLimit   int
}

// ReconcilerConfig mirrors the RECONCILER_* environment knobs.
type ReconcilerConfig struct {
	Schedule                string
	StaleClaimLimit         int
	StaleClaimRetryDelayMs  int64
	SyncStaleAfterMs        int64
	SyncLimit               int
	HumanLoopTimeoutEnabled bool
	HumanLoopTimeoutMs      int64
	HumanLoopLimit          int
}

// SessionWorkerConfig mirrors the SESSION_WORKER_* environment knobs.
type SessionWorkerConfig struct {
	HostWorkspaceRoot string
	ContainerImage    string
	IdleTimeoutMs     int64
	RemoveAfterMs     int64
	SweepLimit        int
}

// Config is the fully loaded, validated control-plane configuration.
type Config struct {
	Port        string
	LogFormat   string // "json" or "text"
	LogDir      string
	Storage     StorageKind
	DatabaseURL string

	StreamBusCapacity int

	Executor      ExecutorConfig
	RunQueue      RunQueueConfig
	Reconciler    ReconcilerConfig
	SessionWorker SessionWorkerConfig
}

// Timeout returns the executor's per-call timeout as a
// time.Duration, the unit executorclient.Config actually expects.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the executor's inter-attempt delay as a time.Duration.
func (c ExecutorConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}
