package config

import (
	"fmt"

	"github.com/joho/godotenv"

	"github.com/relayforge/agentctl/internal/logger"
)

// Load reads envFile (if non-empty) via godotenv before consulting
// os.Getenv, loading a local env file ahead of process env, then populates
// and validates a Config. A missing or unreadable envFile is not fatal,
// since local development is the only scenario that needs it, and the
// process env already carries everything in production.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logger.Printf("config: could not load %s: %v (continuing with process environment)", envFile, err)
		}
	}

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "json"),
		LogDir:      getEnvOrDefault("LOG_DIR", "data/logs"),
		Storage:     StorageKind(getEnvOrDefault("CONTROL_PLANE_STORAGE", string(StorageMemory))),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		StreamBusCapacity: getEnvIntOrDefault("STREAM_BUS_CAPACITY", 2000),

		Executor: ExecutorConfig{
			BaseURL:          getEnvOrDefault("EXECUTOR_BASE_URL", ""),
			AuthToken:        getEnvOrDefault("EXECUTOR_AUTH_TOKEN", ""),
			TimeoutMs:        getEnvInt64OrDefault("EXECUTOR_TIMEOUT_MS", 30_000),
			MaxRetries:       getEnvIntOrDefault("EXECUTOR_MAX_RETRIES", 2),
			RetryDelayMs:     getEnvInt64OrDefault("EXECUTOR_RETRY_DELAY_MS", 500),
			RetryStatusCodes: getEnvIntListOrDefault("EXECUTOR_RETRY_STATUS_CODES", []int{502, 503, 504}),
			RatePerSecond:    getEnvFloatOrDefault("EXECUTOR_RATE_PER_SECOND", 10),
			RateBurst:        getEnvIntOrDefault("EXECUTOR_RATE_BURST", 10),
		},

		RunQueue: RunQueueConfig{
			Owner:        getEnvOrDefault("RUN_QUEUE_OWNER", "controlplaned"),
			LockMs:       getEnvInt64OrDefault("RUN_QUEUE_LOCK_MS", 60_000),
			RetryDelayMs: getEnvInt64OrDefault("RUN_QUEUE_RETRY_DELAY_MS", 5_000),
			DrainLimit:   getEnvIntOrDefault("RUN_QUEUE_DRAIN_LIMIT", 10),
		},

		Reconciler: ReconcilerConfig{
			Schedule:                getEnvOrDefault("RECONCILER_SCHEDULE", "* * * * *"),
			StaleClaimLimit:         getEnvIntOrDefault("RECONCILER_STALE_CLAIM_LIMIT", 100),
			StaleClaimRetryDelayMs:  getEnvInt64OrDefault("RECONCILER_STALE_CLAIM_RETRY_DELAY_MS", 5_000),
			SyncStaleAfterMs:        getEnvInt64OrDefault("RECONCILER_SYNC_STALE_AFTER_MS", 10*60_000),
			SyncLimit:               getEnvIntOrDefault("RECONCILER_SYNC_LIMIT", 50),
			HumanLoopTimeoutEnabled: getEnvBoolOrDefault("RECONCILER_HUMAN_LOOP_TIMEOUT_ENABLED", false),
			HumanLoopTimeoutMs:      getEnvInt64OrDefault("RECONCILER_HUMAN_LOOP_TIMEOUT_MS", 30*60_000),
			HumanLoopLimit:          getEnvIntOrDefault("RECONCILER_HUMAN_LOOP_LIMIT", 50),
		},

		SessionWorker: SessionWorkerConfig{
			HostWorkspaceRoot: getEnvOrDefault("SESSION_WORKER_HOST_WORKSPACE_ROOT", "data/workspaces"),
			ContainerImage:    getEnvOrDefault("SESSION_WORKER_CONTAINER_IMAGE", ""),
			IdleTimeoutMs:     getEnvInt64OrDefault("SESSION_WORKER_IDLE_TIMEOUT_MS", 30*60_000),
			RemoveAfterMs:     getEnvInt64OrDefault("SESSION_WORKER_REMOVE_AFTER_MS", 24*60*60_000),
			SweepLimit:        getEnvIntOrDefault("SESSION_WORKER_SWEEP_LIMIT", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and internally
// consistent.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CONTROL_PLANE_STORAGE=postgres")
		}
	default:
		return fmt.Errorf("CONTROL_PLANE_STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, c.Storage)
	}

	if c.SessionWorker.ContainerImage == "" {
		return fmt.Errorf("SESSION_WORKER_CONTAINER_IMAGE is required")
	}

	return nil
}
