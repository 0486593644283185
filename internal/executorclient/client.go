// Package executorclient is the retrying, timeout-bounded HTTP client used
// by the Session Worker Lifecycle Manager to drive remote executor RPCs:
// restoreWorkspace, linkAgentData, validateWorkspace.
package executorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/restoreplan"
	"github.com/relayforge/agentctl/internal/tracehdr"
)

// Config mirrors the EXECUTOR_* environment knobs from §6/§10.
type Config struct {
	BaseURL          string
	AuthToken        string
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	RetryStatusCodes map[int]bool
	RatePerSecond    float64
	RateBurst        int
}

// Client wraps an *http.Client with retry, timeout, rate-limit, and trace
// header policy for calls to a single executor host.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryStatusCodes == nil {
		cfg.RetryStatusCodes = map[int]bool{502: true, 503: true, 504: true}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
	}
}

// RestoreWorkspace invokes the executor's layered restore for plan against
// the session identified by sessionID.
func (c *Client) RestoreWorkspace(ctx context.Context, sessionID string, plan restoreplan.Plan) error {
	return c.doJSON(ctx, "restoreWorkspace", sessionID, "/workspace/restore", plan, nil)
}

// LinkAgentData asks the executor to symlink .agent_data into the workspace
// after restoreWorkspace has laid down the L0..L3 layers.
func (c *Client) LinkAgentData(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, "linkAgentData", sessionID, "/workspace/link-agent-data", map[string]string{"sessionId": sessionID}, nil)
}

// ValidateWorkspaceResult is the executor's report of which required paths
// are present after restoration.
type ValidateWorkspaceResult struct {
	OK                   bool     `json:"ok"`
	MissingRequiredPaths []string `json:"missingRequiredPaths,omitempty"`
}

// ValidateWorkspace asks the executor to confirm requiredPaths exist.
func (c *Client) ValidateWorkspace(ctx context.Context, sessionID string, requiredPaths []string) (ValidateWorkspaceResult, error) {
	var result ValidateWorkspaceResult
	err := c.doJSON(ctx, "validateWorkspace", sessionID, "/workspace/validate", map[string]any{
		"sessionId":     sessionID,
		"requiredPaths": requiredPaths,
	}, &result)
	return result, err
}

// doJSON POSTs body as JSON to path, retrying on network errors and the
// configured retry status codes with a fixed delay between attempts, and
// decodes the response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, operation, sessionID, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("executorclient: marshal %s request: %w", operation, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts(); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return apierr.Internal(fmt.Errorf("rate limiter: %w", err))
		}

		resp, err := c.attempt(ctx, operation, sessionID, path, payload)
		if err != nil {
			lastErr = err
			if !c.retryable(err) {
				return lastErr
			}
			logger.WarnContext(ctx, "executorclient: retrying after error", "operation", operation, "attempt", attempt, "error", err)
			c.sleepBeforeRetry(ctx, attempt)
			continue
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := apierr.UpstreamHTTP(path, resp.StatusCode, string(respBody), attempt)
			if c.cfg.RetryStatusCodes[resp.StatusCode] && attempt < c.maxAttempts() {
				lastErr = apiErr
				logger.WarnContext(ctx, "executorclient: retrying after upstream status", "operation", operation, "status", resp.StatusCode, "attempt", attempt)
				c.sleepBeforeRetry(ctx, attempt)
				continue
			}
			return apiErr
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("executorclient: decode %s response: %w", operation, err)
			}
		}
		return nil
	}

	return lastErr
}

func (c *Client) attempt(ctx context.Context, operation, sessionID, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("executorclient: build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	tracehdr.Apply(ctx, req.Header, sessionID, c.cfg.BaseURL, operation, "")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, apierr.UpstreamTimeout(path, 0)
		}
		return nil, apierr.UpstreamNetwork(path, 0, err)
	}
	return resp, nil
}

func (c *Client) retryable(err error) bool {
	apiErr := apierr.As(err)
	return apiErr.Retryable()
}

func (c *Client) maxAttempts() int {
	if c.cfg.MaxRetries < 0 {
		return 1
	}
	return c.cfg.MaxRetries + 1
}

func (c *Client) sleepBeforeRetry(ctx context.Context, attempt int) {
	delay := c.cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
