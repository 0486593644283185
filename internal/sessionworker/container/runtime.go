package container

import "context"

// Runtime defines the container runtime abstraction driven by the session
// worker lifecycle manager: create/start/stop/remove a container, check its
// status, and the health/metadata calls needed at startup.
type Runtime interface {
	// Lifecycle
	Create(ctx context.Context, config CreateConfig) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string, force bool) error

	// Inspection
	Status(ctx context.Context, containerID string) (ContainerStatus, error)

	// Health
	Ping(ctx context.Context) error
	Close() error

	// Metadata
	Name() string
	IsAvailable() bool
}

// CreateConfig for container creation
type CreateConfig struct {
	Name        string
	Image       string
	Cmd         []string
	Entrypoint  []string
	Env         []string
	WorkingDir  string
	Mounts      []Mount
	Labels      map[string]string
	Init        bool
	AutoRemove  bool
	NetworkMode string
	Memory      string // Memory limit (e.g., "4G", "2048M")
	CPUs        int    // Number of CPUs

	// PublishedSockets exposes container sockets to the host
	// For Apple Container: uses --publish-socket (container->host forwarding)
	// For Docker: uses bind mount of socket directory
	PublishedSockets []PublishedSocket
}

// PublishedSocket represents a socket to expose from container to host
type PublishedSocket struct {
	HostPath      string // Path on host where socket will appear
	ContainerPath string // Path inside container where socket is created
}

// MountType represents the type of mount
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// Mount represents a bind mount or volume
type Mount struct {
	Type     MountType
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerStatus enum
type ContainerStatus string

const (
	StatusCreated ContainerStatus = "created"
	StatusRunning ContainerStatus = "running"
	StatusPaused  ContainerStatus = "paused"
	StatusStopped ContainerStatus = "stopped"
	StatusExited  ContainerStatus = "exited"
	StatusDead    ContainerStatus = "dead"
	StatusUnknown ContainerStatus = "unknown"
)
