// Package httpapi exposes the control plane's external HTTP/SSE surface:
// run lifecycle, queue management, callback ingestion, session worker
// lifecycle, and restore-plan derivation, all routed through a plain
// net/http.ServeMux. The external interface is plain HTTP/SSE with no
// path-parameter extraction beyond what the Go 1.22+ pattern-matching mux
// already provides, so no separate router dependency is needed.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/metrics"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/queuemanager"
	"github.com/relayforge/agentctl/internal/sessionworker"
	"github.com/relayforge/agentctl/internal/streambus"
)

// Checker reports whether a dependency the control plane relies on is
// reachable, for GET /readyz.
type Checker interface {
	Ready(ctx context.Context) error
}

// Server wires the Run Orchestrator, Run Queue Engine/Manager, Callback
// Handler, Session Worker Lifecycle Manager, Restore Plan Builder, and
// Stream Bus into the HTTP surface of §6.
type Server struct {
	Orchestrator  *orchestrator.Orchestrator
	Bus           *streambus.Bus
	Queue         queue.Engine
	QueueManager  *queuemanager.Manager
	Callbacks     *callback.Handler
	CallbackStore *callback.Store
	Workers       *sessionworker.Manager
	Ready         []Checker

	// SweepIdleTimeoutMs/SweepRemoveAfterMs/SweepLimit are the defaults the
	// cleanup endpoints fall back to when the caller does not override them
	// via query parameters, mirroring RECONCILER_*/SESSION_WORKER_* knobs.
	SweepIdleTimeoutMs int64
	SweepRemoveAfterMs int64
	SweepLimit         int

	Now func() time.Time
}

// NewMux builds the full routed handler, with request-id propagation and
// Prometheus request metrics wrapping every route.
func (s *Server) NewMux() http.Handler {
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/runs/start", s.handleRunStart)
	mux.HandleFunc("POST /api/runs/{runId}/stop", s.handleRunStop)
	mux.HandleFunc("GET /api/runs/{runId}", s.handleRunSnapshot)
	mux.HandleFunc("GET /api/runs/{runId}/stream", s.handleRunStream)
	mux.HandleFunc("POST /api/runs/{runId}/callbacks", s.handleCallback)
	mux.HandleFunc("POST /api/runs/{runId}/bind", s.handleRunBind)

	mux.HandleFunc("POST /api/runs/queue/enqueue", s.handleQueueEnqueue)
	mux.HandleFunc("POST /api/runs/queue/drain", s.handleQueueDrain)
	mux.HandleFunc("GET /api/runs/queue/{runId}", s.handleQueueFind)

	mux.HandleFunc("POST /api/runs/restore-plan", s.handleRestorePlan)

	mux.HandleFunc("POST /api/session-workers/{sessionId}/activate", s.handleWorkerActivate)
	mux.HandleFunc("POST /api/session-workers/{sessionId}/sync", s.handleWorkerSync)
	mux.HandleFunc("POST /api/session-workers/{sessionId}/cleanup/idle", s.handleWorkerCleanupIdle)
	mux.HandleFunc("POST /api/session-workers/{sessionId}/cleanup/stopped", s.handleWorkerCleanupStopped)
	mux.HandleFunc("GET /api/session-workers/{sessionId}", s.handleWorkerGet)

	return withRequestID(metrics.Middleware(routeLabel)(mux))
}

// routeLabel reduces a request's path to its ServeMux pattern so per-run,
// per-session identifiers never become a metric label.
func routeLabel(r *http.Request) string {
	if p := r.Pattern; p != "" {
		return p
	}
	return r.URL.Path
}

type requestIDKey struct{}

// withRequestID assigns a request id (from X-Request-Id if supplied,
// otherwise a fresh uuid) and carries it on the request context so
// logger.WithContext picks it up in every handler and downstream call.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.Ready {
		if err := c.Ready(r.Context()); err != nil {
			logger.WarnContext(r.Context(), "httpapi: readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "reason": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requireRunID extracts {runId} and rejects an empty value consistently
// across every handler that keys off it.
func requireRunID(r *http.Request) (string, error) {
	runID := r.PathValue("runId")
	if strings.TrimSpace(runID) == "" {
		return "", apierr.Validation("runId is required")
	}
	return runID, nil
}

func requireSessionID(r *http.Request) (string, error) {
	sessionID := r.PathValue("sessionId")
	if strings.TrimSpace(sessionID) == "" {
		return "", apierr.Validation("sessionId is required")
	}
	return sessionID, nil
}
