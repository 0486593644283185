package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relayforge/agentctl/internal/sessionworker/container"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Runtime implements container.Runtime using Docker SDK
type Runtime struct {
	client *client.Client
}

// NewRuntime creates a new Docker runtime
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

// Name returns the runtime name
func (r *Runtime) Name() string {
	return "docker"
}

// IsAvailable checks if Docker is available
func (r *Runtime) IsAvailable() bool {
	ctx := context.Background()
	_, err := r.client.Ping(ctx)
	return err == nil
}

// Ping verifies connectivity to Docker daemon
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close closes the Docker client connection
func (r *Runtime) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Docker client for advanced operations
func (r *Runtime) GetClient() *client.Client {
	return r.client
}

// Create creates a new container
func (r *Runtime) Create(ctx context.Context, cfg container.CreateConfig) (string, error) {
	containerConfig := &dockercontainer.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Entrypoint: cfg.Entrypoint,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		Labels:     cfg.Labels,
		Tty:        false,
	}

	var mounts []mount.Mount
	for _, m := range cfg.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	// For published sockets, Docker uses bind mounts of the socket's parent directory
	// The relay inside the container creates the socket, and it becomes visible on host
	for _, ps := range cfg.PublishedSockets {
		// Extract directory from host path (e.g., /tmp/oubliette-sockets/proj-id/relay.sock -> /tmp/oubliette-sockets/proj-id)
		hostDir := filepath.Dir(ps.HostPath)
		containerDir := filepath.Dir(ps.ContainerPath)

		// Create host directory if it doesn't exist
		_ = os.MkdirAll(hostDir, 0o755)

		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: hostDir,
			Target: containerDir,
		})
	}

	hostConfig := &dockercontainer.HostConfig{
		Mounts:      mounts,
		AutoRemove:  cfg.AutoRemove,
		NetworkMode: dockercontainer.NetworkMode(cfg.NetworkMode),
		Init:        boolPtr(cfg.Init),
		Resources:   buildResourceConstraints(cfg.Memory, cfg.CPUs),
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return resp.ID, nil
}

// Start starts a container
func (r *Runtime) Start(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// Stop stops a container
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	return r.client.ContainerStop(ctx, containerID, dockercontainer.StopOptions{})
}

// Remove removes a container
func (r *Runtime) Remove(ctx context.Context, containerID string, force bool) error {
	return r.client.ContainerRemove(ctx, containerID, dockercontainer.RemoveOptions{Force: force})
}

// Status returns the container status
func (r *Runtime) Status(ctx context.Context, containerID string) (container.ContainerStatus, error) {
	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return container.StatusUnknown, err
	}

	switch inspect.State.Status {
	case "created":
		return container.StatusCreated, nil
	case "running":
		return container.StatusRunning, nil
	case "paused":
		return container.StatusPaused, nil
	case "exited":
		return container.StatusExited, nil
	case "dead":
		return container.StatusDead, nil
	default:
		return container.StatusUnknown, nil
	}
}

func boolPtr(b bool) *bool {
	return &b
}

// buildResourceConstraints creates Docker resource constraints from config
func buildResourceConstraints(memory string, cpus int) dockercontainer.Resources {
	resources := dockercontainer.Resources{}

	// Parse memory limit (e.g., "4G", "2048M", "1073741824")
	if memory != "" {
		memBytes := parseMemoryString(memory)
		if memBytes > 0 {
			resources.Memory = memBytes
		}
	}

	// Set CPU limit using NanoCPUs (1 CPU = 1e9 NanoCPUs)
	if cpus > 0 {
		resources.NanoCPUs = int64(cpus) * 1e9
	}

	return resources
}

// parseMemoryString converts memory strings like "4G", "2048M" to bytes
func parseMemoryString(mem string) int64 {
	if mem == "" {
		return 0
	}

	var multiplier int64 = 1
	numStr := mem

	// Check for suffix
	if len(mem) > 1 {
		suffix := mem[len(mem)-1]
		switch suffix {
		case 'K', 'k':
			multiplier = 1024
			numStr = mem[:len(mem)-1]
		case 'M', 'm':
			multiplier = 1024 * 1024
			numStr = mem[:len(mem)-1]
		case 'G', 'g':
			multiplier = 1024 * 1024 * 1024
			numStr = mem[:len(mem)-1]
		case 'T', 't':
			multiplier = 1024 * 1024 * 1024 * 1024
			numStr = mem[:len(mem)-1]
		}
	}

	var value int64
	_, _ = fmt.Sscanf(numStr, "%d", &value)
	return value * multiplier
}
