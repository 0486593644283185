package config

import (
	"github.com/relayforge/agentctl/internal/executorclient"
	"github.com/relayforge/agentctl/internal/reconciler"
)

// ExecutorClientConfig adapts ExecutorConfig to executorclient.Config.
func (c *Config) ExecutorClientConfig() executorclient.Config {
	retryStatus := make(map[int]bool, len(c.Executor.RetryStatusCodes))
	for _, code := range c.Executor.RetryStatusCodes {
		retryStatus[code] = true
	}
	return executorclient.Config{
		BaseURL:          c.Executor.BaseURL,
		AuthToken:        c.Executor.AuthToken,
		Timeout:          c.Executor.Timeout(),
		MaxRetries:       c.Executor.MaxRetries,
		RetryDelay:       c.Executor.RetryDelay(),
		RetryStatusCodes: retryStatus,
		RatePerSecond:    c.Executor.RatePerSecond,
		RateBurst:        c.Executor.RateBurst,
	}
}

// ToReconcilerConfig adapts ReconcilerConfig to reconciler.Config.
func (c *Config) ToReconcilerConfig() reconciler.Config {
	return reconciler.Config{
		Schedule:                c.Reconciler.Schedule,
		StaleClaimLimit:         c.Reconciler.StaleClaimLimit,
		StaleClaimRetryDelayMs:  c.Reconciler.StaleClaimRetryDelayMs,
		SyncStaleAfterMs:        c.Reconciler.SyncStaleAfterMs,
		SyncLimit:               c.Reconciler.SyncLimit,
		HumanLoopTimeoutEnabled: c.Reconciler.HumanLoopTimeoutEnabled,
		HumanLoopTimeoutMs:      c.Reconciler.HumanLoopTimeoutMs,
		HumanLoopLimit:          c.Reconciler.HumanLoopLimit,
	}
}
