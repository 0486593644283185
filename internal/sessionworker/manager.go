package sessionworker

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/executorclient"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/restoreplan"
	"github.com/relayforge/agentctl/internal/sessionworker/container"
	"github.com/relayforge/agentctl/internal/workspacesync"
)

// SyncFunc matches workspacesync.Client.SyncWorkspace's signature; injected
// so the manager is testable without a real executor/object store, the same
// seam used for WorkspaceSyncFunc in the callback package.
type SyncFunc func(ctx context.Context, sessionID, reason string, occurredAt time.Time, runID, workspaceDir string) (workspacesync.Result, error)

// Config wires the manager's collaborators.
type Config struct {
	Runtime           container.Runtime
	Executor          *executorclient.Client
	Sync              SyncFunc
	HostWorkspaceRoot string
	ContainerImage    string
	Now               func() time.Time
}

// Manager implements the §4.8 state machine: absent -> running -> stopped
// -> deleted, one Worker record per sessionID, guarded by a single mutex
// matching the orchestrator's runs-map locking granularity (sweep
// operations need a consistent snapshot across workers, which per-key
// locks like internal/project/locks.go would not give for free).
type Manager struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*Worker
}

func New(cfg Config) *Manager {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{cfg: cfg, workers: make(map[string]*Worker)}
}

func workspacePrefix(appID, projectName, userLoginName, sessionID string) string {
	return restoreplan.WorkspaceS3Prefix(appID, projectName, userLoginName, sessionID)
}

// ActivateSession implements §4.8's activateSession.
func (m *Manager) ActivateSession(ctx context.Context, in ActivateInput) (ActivateResult, error) {
	now := m.cfg.Now()

	m.mu.Lock()
	w, exists := m.workers[in.SessionID]
	if exists && w.State == StateRunning {
		w.LastActiveAt = now
		snapshot := *w
		m.mu.Unlock()
		return ActivateResult{Outcome: ActivateAlreadyRunning, Worker: snapshot}, nil
	}
	if exists && w.State == StateStopped {
		containerID := w.ContainerID
		m.mu.Unlock()

		if err := m.cfg.Runtime.Start(ctx, containerID); err != nil {
			return ActivateResult{}, fmt.Errorf("sessionworker: restart container: %w", err)
		}

		m.mu.Lock()
		w.State = StateRunning
		w.LastActiveAt = now
		snapshot := *w
		m.mu.Unlock()
		return ActivateResult{Outcome: ActivateRestarted, Worker: snapshot}, nil
	}
	m.mu.Unlock()

	prefix := workspacePrefix(in.AppID, in.ProjectName, in.UserLoginName, in.SessionID)

	containerID, err := m.cfg.Runtime.Create(ctx, container.CreateConfig{
		Name:   "session-" + in.SessionID,
		Image:  m.cfg.ContainerImage,
		Labels: map[string]string{"sessionId": in.SessionID, "appId": in.AppID},
	})
	if err != nil {
		return ActivateResult{}, fmt.Errorf("sessionworker: create container: %w", err)
	}
	if err := m.cfg.Runtime.Start(ctx, containerID); err != nil {
		return ActivateResult{}, fmt.Errorf("sessionworker: start container: %w", err)
	}

	worker := &Worker{
		SessionID:         in.SessionID,
		AppID:             in.AppID,
		ProjectName:       in.ProjectName,
		UserLoginName:     in.UserLoginName,
		ContainerID:       containerID,
		WorkspaceS3Prefix: prefix,
		State:             StateRunning,
		LastActiveAt:      now,
	}

	if in.Manifest != nil {
		if err := m.restoreWorkspace(ctx, in, prefix); err != nil {
			return ActivateResult{}, err
		}
	}

	m.mu.Lock()
	m.workers[in.SessionID] = worker
	snapshot := *worker
	m.mu.Unlock()

	return ActivateResult{Outcome: ActivateCreated, Worker: snapshot}, nil
}

func (m *Manager) restoreWorkspace(ctx context.Context, in ActivateInput, prefix string) error {
	identity := restoreplan.Identity{
		AppID:             in.AppID,
		ProjectName:       in.ProjectName,
		UserLoginName:     in.UserLoginName,
		SessionID:         in.SessionID,
		RuntimeVersion:    in.RuntimeVersion,
		WorkspaceS3Prefix: prefix,
	}
	plan, err := restoreplan.Build(*in.Manifest, identity, in.RuntimeVersion)
	if err != nil {
		return err
	}
	if err := m.cfg.Executor.RestoreWorkspace(ctx, in.SessionID, plan); err != nil {
		return fmt.Errorf("sessionworker: restoreWorkspace: %w", err)
	}
	if err := m.cfg.Executor.LinkAgentData(ctx, in.SessionID); err != nil {
		return fmt.Errorf("sessionworker: linkAgentData: %w", err)
	}
	validation, err := m.cfg.Executor.ValidateWorkspace(ctx, in.SessionID, in.Manifest.RequiredPaths)
	if err != nil {
		return fmt.Errorf("sessionworker: validateWorkspace: %w", err)
	}
	if !validation.OK {
		return apierr.WithDetails(apierr.KindValidation, "required paths missing after restore", validation)
	}
	return nil
}

// syncSessionWorkspace implements §4.8's syncSessionWorkspace. It returns
// true on success.
func (m *Manager) syncSessionWorkspace(ctx context.Context, sessionID, reason string, now time.Time, runID string) bool {
	m.mu.Lock()
	w, ok := m.workers[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	w.LastSyncStatus = SyncStatusRunning
	m.mu.Unlock()

	workspaceDir := filepath.Join(m.cfg.HostWorkspaceRoot, sessionID)
	_, syncErr := m.cfg.Sync(ctx, sessionID, reason, now, runID, workspaceDir)

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok = m.workers[sessionID]
	if !ok {
		return syncErr == nil
	}
	w.LastSyncAt = now
	if syncErr != nil {
		w.LastSyncStatus = SyncStatusFailed
		w.LastSyncError = syncErr.Error()
		logger.ErrorContext(ctx, "sessionworker: sync failed", "session_id", sessionID, "reason", reason, "error", syncErr)
		return false
	}
	w.LastSyncStatus = SyncStatusSuccess
	w.LastSyncError = ""
	return true
}

// StopIdleWorkers implements §4.8's stopIdleWorkers.
func (m *Manager) StopIdleWorkers(ctx context.Context, now time.Time, idleTimeoutMs int64, limit int) SweepResult {
	cutoff := now.Add(-time.Duration(idleTimeoutMs) * time.Millisecond)

	var result SweepResult
	for _, w := range m.snapshotByState(StateRunning, limit, func(w *Worker) bool { return w.LastActiveAt.Before(cutoff) }) {
		if !m.syncSessionWorkspace(ctx, w.SessionID, "pre.stop", now, "") {
			result.Failed++
			continue
		}
		if err := m.cfg.Runtime.Stop(ctx, w.ContainerID); err != nil {
			logger.ErrorContext(ctx, "sessionworker: stop container failed", "session_id", w.SessionID, "error", err)
			result.Failed++
			continue
		}
		m.mu.Lock()
		if cur, exists := m.workers[w.SessionID]; exists {
			cur.State = StateStopped
			cur.StoppedAt = now
		}
		m.mu.Unlock()
		result.Done++
	}
	return result
}

// RemoveLongStoppedWorkers implements §4.8's removeLongStoppedWorkers.
func (m *Manager) RemoveLongStoppedWorkers(ctx context.Context, now time.Time, removeAfterMs int64, limit int) SweepResult {
	cutoff := now.Add(-time.Duration(removeAfterMs) * time.Millisecond)

	var result SweepResult
	for _, w := range m.snapshotByState(StateStopped, limit, func(w *Worker) bool { return w.StoppedAt.Before(cutoff) }) {
		if _, err := m.cfg.Runtime.Status(ctx, w.ContainerID); err != nil {
			m.mu.Lock()
			if cur, exists := m.workers[w.SessionID]; exists {
				cur.State = StateDeleted
			}
			m.mu.Unlock()
			result.Skipped++
			continue
		}

		if !m.syncSessionWorkspace(ctx, w.SessionID, "pre.remove", now, "") {
			result.Failed++
			continue
		}
		if err := m.cfg.Runtime.Remove(ctx, w.ContainerID, true); err != nil {
			logger.ErrorContext(ctx, "sessionworker: remove container failed", "session_id", w.SessionID, "error", err)
			result.Failed++
			continue
		}

		m.mu.Lock()
		if cur, exists := m.workers[w.SessionID]; exists {
			cur.State = StateDeleted
		}
		m.mu.Unlock()
		result.Done++
	}
	return result
}

// ListStaleSync returns up to limit running-or-stopped workers whose
// LastSyncAt is zero or before cutoff, sorted by SessionID. Used by the
// Reconciler's stale-sync-worker job (§4.9); SyncSessionWorkspace performs
// the actual resync.
func (m *Manager) ListStaleSync(cutoff time.Time, limit int) []Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Worker
	for _, w := range m.workers {
		if w.State != StateRunning && w.State != StateStopped {
			continue
		}
		if w.LastSyncAt.IsZero() || w.LastSyncAt.Before(cutoff) {
			matches = append(matches, *w)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SessionID < matches[j].SessionID })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SyncSessionWorkspace resyncs sessionID's workspace for reason, returning
// true on success. Exported for the Reconciler's stale-sync job; internal
// callers (idle-stop, long-stopped-removal) use the unexported helper
// directly since they already hold sweep-local context.
func (m *Manager) SyncSessionWorkspace(ctx context.Context, sessionID, reason string, now time.Time) bool {
	return m.syncSessionWorkspace(ctx, sessionID, reason, now, "")
}

// snapshotByState returns up to limit copies of workers in state matching
// predicate, sorted by sessionID for deterministic sweep order. The lock is
// released before the caller performs any I/O against the returned copies.
func (m *Manager) snapshotByState(state State, limit int, predicate func(*Worker) bool) []Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []Worker
	for _, w := range m.workers {
		if w.State == state && predicate(w) {
			matches = append(matches, *w)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].SessionID < matches[j].SessionID })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Worker returns a copy of the current record for sessionID.
func (m *Manager) Worker(sessionID string) (Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[sessionID]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}
