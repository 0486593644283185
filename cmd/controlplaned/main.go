// controlplaned is the agent-run control plane server: it exposes the
// HTTP/SSE surface in internal/httpapi and drives the Run Queue Engine,
// Run Orchestrator, Callback Ingestion Pipeline, Session Worker Lifecycle
// Manager, and Reconciler from a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relayforge/agentctl/internal/callback"
	"github.com/relayforge/agentctl/internal/config"
	"github.com/relayforge/agentctl/internal/executorclient"
	"github.com/relayforge/agentctl/internal/httpapi"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/provider"
	"github.com/relayforge/agentctl/internal/provider/claudecode"
	"github.com/relayforge/agentctl/internal/provider/codexcli"
	"github.com/relayforge/agentctl/internal/provider/opencode"
	"github.com/relayforge/agentctl/internal/queue"
	"github.com/relayforge/agentctl/internal/queuemanager"
	"github.com/relayforge/agentctl/internal/reconciler"
	"github.com/relayforge/agentctl/internal/sessionworker"
	"github.com/relayforge/agentctl/internal/sessionworker/container"
	"github.com/relayforge/agentctl/internal/sessionworker/container/docker"
	"github.com/relayforge/agentctl/internal/streambus"
	"github.com/relayforge/agentctl/internal/workspacesync"
)

// Version is set at release time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Printf("controlplaned %s\n", Version)
			os.Exit(0)
		case "--help", "-h", "help":
			printUsage()
			os.Exit(0)
		}
	}
	runServer()
}

func printUsage() {
	fmt.Println(`controlplaned - agent run control plane

Usage:
  controlplaned [flags]
  controlplaned --version
  controlplaned --help

Flags:
  -env string   path to a .env file to load before reading the process environment`)
}

func runServer() {
	envFile := flag.String("env", "", "path to a .env file (optional)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controlplaned: configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitSlog(cfg.LogDir, cfg.LogFormat == "json"); err != nil {
		fmt.Fprintf(os.Stderr, "controlplaned: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.CloseSlog() }()

	ctx := context.Background()
	logger.InfoContext(ctx, "controlplaned: starting", "version", Version, "storage", cfg.Storage, "port", cfg.Port)

	registry := provider.NewRegistry(
		claudecode.New(os.Getenv("CLAUDE_CODE_BIN")),
		codexcli.New(os.Getenv("CODEX_CLI_BIN")),
	)

	bus := streambus.New(cfg.StreamBusCapacity)
	orch := orchestrator.New(registry, bus)

	queueEngine, closeQueue, readyCheckers, err := initQueueEngine(ctx, cfg)
	if err != nil {
		logger.ErrorContext(ctx, "controlplaned: failed to initialize run queue engine", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	callbackStore := callback.NewStore()

	executor := executorclient.New(cfg.ExecutorClientConfig())

	if pref := container.GetRuntimePreference(); pref != "auto" && pref != "docker" {
		logger.WarnContext(ctx, "controlplaned: CONTAINER_RUNTIME requests an unsupported backend, falling back to docker", "requested", pref)
	}

	baseRuntime, err := docker.NewRuntime()
	if err != nil {
		logger.ErrorContext(ctx, "controlplaned: failed to initialize container runtime", "error", err)
		os.Exit(1)
	}
	containerRuntime := container.NewCachedRuntime(baseRuntime, 5*time.Second)
	defer func() { _ = containerRuntime.Close() }()

	if err := containerRuntime.Ping(ctx); err != nil {
		logger.ErrorContext(ctx, "controlplaned: container runtime unreachable", "error", err)
		os.Exit(1)
	}
	logger.InfoContext(ctx, "controlplaned: connected to container runtime", "runtime", containerRuntime.Name())

	workers := sessionworker.New(sessionworker.Config{
		Runtime:           containerRuntime,
		Executor:          executor,
		Sync:              workspacesync.New(cfg.Executor.BaseURL, nil).SyncWorkspace,
		HostWorkspaceRoot: cfg.SessionWorker.HostWorkspaceRoot,
		ContainerImage:    cfg.SessionWorker.ContainerImage,
	})

	// Registering opencode last lets it resolve a session's running server
	// through the same Manager that just activated its container, closing
	// the provider <-> session-worker loop the other two adapters don't need.
	registry.Register(opencode.New(openCodeResolver(workers)))

	orchestratorSync := func(ctx context.Context, sessionID, reason string, occurredAt int64, runID string) error {
		if workers.SyncSessionWorkspace(ctx, sessionID, reason, time.Unix(occurredAt, 0).UTC()) {
			return nil
		}
		return fmt.Errorf("controlplaned: workspace sync failed for session %s", sessionID)
	}
	callbackHandler := callback.NewHandler(callbackStore, orchestratorSync)

	queueManager := queuemanager.New(queueEngine, orch)
	queueManager.CallbackStore = callbackStore
	queueManager.Bus = bus

	recon, err := reconciler.New(cfg.ToReconcilerConfig(), queueEngine, workers, callbackStore)
	if err != nil {
		logger.ErrorContext(ctx, "controlplaned: invalid reconciler schedule", "error", err)
		os.Exit(1)
	}
	if err := recon.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "controlplaned: failed to start reconciler", "error", err)
		os.Exit(1)
	}

	server := &httpapi.Server{
		Orchestrator:       orch,
		Bus:                bus,
		Queue:              queueEngine,
		QueueManager:       queueManager,
		Callbacks:          callbackHandler,
		CallbackStore:      callbackStore,
		Workers:            workers,
		Ready:              readyCheckers,
		SweepIdleTimeoutMs: cfg.SessionWorker.IdleTimeoutMs,
		SweepRemoveAfterMs: cfg.SessionWorker.RemoveAfterMs,
		SweepLimit:         cfg.SessionWorker.SweepLimit,
	}

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.NewMux(),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "controlplaned: listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.ErrorContext(ctx, "controlplaned: server error", "error", err)
		os.Exit(1)
	case sig := <-shutdownChan:
		logger.InfoContext(ctx, "controlplaned: received signal, shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.InfoContext(ctx, "controlplaned: stopping http server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "controlplaned: http shutdown error", "error", err)
		}

		logger.InfoContext(ctx, "controlplaned: stopping reconciler")
		recon.Stop()

		logger.InfoContext(ctx, "controlplaned: closing container runtime")
		_ = containerRuntime.Close()

		logger.InfoContext(ctx, "controlplaned: shutdown complete")
	}
}

// initQueueEngine selects the Run Queue Engine backing store per
// CONTROL_PLANE_STORAGE, migrating the Postgres schema on first connect and
// contributing a pool-ping Checker for GET /readyz.
func initQueueEngine(ctx context.Context, cfg *config.Config) (queue.Engine, func(), []httpapi.Checker, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		engine := queue.NewPostgresEngine(pool)
		if err := engine.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("migrate run queue schema: %w", err)
		}
		return engine, pool.Close, []httpapi.Checker{poolChecker{pool}}, nil
	default:
		return queue.NewMemoryEngine(), func() {}, nil, nil
	}
}

type poolChecker struct {
	pool *pgxpool.Pool
}

func (c poolChecker) Ready(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// openCodeResolver locates the OpenCode server for a session by the
// container naming convention sessionworker.ActivateSession establishes
// ("session-" + sessionID), the same identity a fixed-port server inside
// that container listens on.
func openCodeResolver(workers *sessionworker.Manager) opencode.ServerResolver {
	return func(ctx context.Context, sessionID string) (string, error) {
		w, ok := workers.Worker(sessionID)
		if !ok || w.State != sessionworker.StateRunning {
			return "", fmt.Errorf("controlplaned: no running session worker for %s", sessionID)
		}
		return fmt.Sprintf("http://session-%s:4096", sessionID), nil
	}
}
