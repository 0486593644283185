// Package workspacesync bundles a session workspace directory into a tar
// stream and pushes it to the executor's workspace sync endpoint, the
// object-store-bound counterpart of a session worker's restore-from-plan.
package workspacesync

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/tracehdr"
)

const defaultTimeout = 2 * time.Minute

// Client pushes a workspace directory to the executor's sync endpoint.
type Client struct {
	BaseURL    string
	ExecutorID string
	HTTPClient *http.Client
	Tracer     trace.Tracer
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{BaseURL: baseURL, HTTPClient: httpClient, Tracer: otel.Tracer("workspacesync")}
}

// Result is the executor's acknowledgement of a sync call.
type Result struct {
	OK        bool   `json:"ok"`
	BytesSent int64  `json:"-"`
	Reason    string `json:"reason,omitempty"`
}

// SyncWorkspace tars workspaceDir and streams it to
// POST {BaseURL}/workspace/sync?sessionId=...&reason=...&runId=... without
// buffering the whole archive in memory; the tar writer feeds an io.Pipe
// that the HTTP request reads from concurrently.
func (c *Client) SyncWorkspace(ctx context.Context, sessionID, reason string, occurredAt time.Time, runID, workspaceDir string) (Result, error) {
	ctx, span := c.Tracer.Start(ctx, "workspacesync.SyncWorkspace")
	defer span.End()

	pr, pw := io.Pipe()
	walkErrCh := make(chan error, 1)

	go func() {
		walkErrCh <- bundleTar(pw, workspaceDir)
		_ = pw.Close()
	}()

	url := fmt.Sprintf("%s/workspace/sync?sessionId=%s&reason=%s&runId=%s", c.BaseURL, sessionID, reason, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return Result{}, fmt.Errorf("workspacesync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/gzip")
	req.Header.Set("X-Occurred-At", occurredAt.UTC().Format(time.RFC3339))
	tracehdr.Apply(ctx, req.Header, sessionID, c.ExecutorID, "workspace.sync."+reason, runID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("workspacesync: sync request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := <-walkErrCh; err != nil {
		return Result{}, fmt.Errorf("workspacesync: bundle workspace: %w", err)
	}

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("workspacesync: executor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	logger.InfoContext(ctx, "workspacesync: synced workspace", "session_id", sessionID, "reason", reason, "run_id", runID)
	return Result{OK: true}, nil
}

// bundleTar walks dir and writes a gzip-compressed tar stream to w, targeting
// an io.Writer instead of a local file.
func bundleTar(w io.Writer, dir string) error {
	gw := gzip.NewWriter(w)
	defer func() { _ = gw.Close() }()

	tw := tar.NewWriter(gw)
	defer func() { _ = tw.Close() }()

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
}
