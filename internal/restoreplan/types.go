// Package restoreplan derives a layered workspace restoration plan from a
// runtime manifest and a caller identity. Build is a pure function: same
// inputs always yield a byte-equal plan, and nothing here touches disk,
// network, or the clock.
package restoreplan

// ConflictPolicy governs how overlay layers resolve file collisions.
type ConflictPolicy string

const (
	ConflictKeepSession ConflictPolicy = "keep_session"
	ConflictKeepLatest  ConflictPolicy = "keep_latest"
)

// LayerKind identifies one of the five fixed overlay sources.
type LayerKind string

const (
	LayerRegistryBase     LayerKind = "registry_base"
	LayerSessionOverlay   LayerKind = "session_overlay"
	LayerKnowledgeOverlay LayerKind = "knowledge_overlay"
	LayerUserOverlay      LayerKind = "user_overlay"
	LayerRuntimeFixups    LayerKind = "runtime_fixups"
)

// MountPoint describes an additional filesystem mount the manifest requests.
type MountPoint struct {
	Source     string `json:"source"`
	TargetPath string `json:"targetPath"`
	ReadOnly   bool   `json:"readOnly,omitempty"`
}

// SeedFile copies a single file into the workspace during restoration.
type SeedFile struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CleanupRule removes or truncates a path after restoration completes.
type CleanupRule struct {
	Path   string `json:"path"`
	Action string `json:"action,omitempty"` // "remove" | "truncate"
}

// KnowledgeBase is one app- or project-scoped knowledge overlay source.
type KnowledgeBase struct {
	Scope string `json:"scope"` // "app" | "project"
	URI   string `json:"uri"`
}

// Manifest is the runtime-supplied description of how to assemble a
// workspace, prior to layering and identity substitution.
type Manifest struct {
	RuntimeVersion string          `json:"runtimeVersion"`
	RequiredPaths  []string        `json:"requiredPaths"`
	ProtectedPaths []string        `json:"protectedPaths"`
	MountPoints    []MountPoint    `json:"mountPoints"`
	SeedFiles      []SeedFile      `json:"seedFiles"`
	CleanupRules   []CleanupRule   `json:"cleanupRules"`
	KnowledgeBases []KnowledgeBase `json:"knowledgeBases"`
	ConflictPolicy ConflictPolicy  `json:"conflictPolicy,omitempty"`
}

// Identity scopes a restore plan to a specific app/project/user/session.
type Identity struct {
	AppID             string
	ProjectName       string
	UserLoginName     string
	SessionID         string
	RuntimeVersion    string
	WorkspaceS3Prefix string
}

// Entry is one ordered layer in the derived plan.
type Entry struct {
	Layer      LayerKind `json:"layer"`
	Source     string    `json:"source"`
	TargetPath string    `json:"targetPath"`
}

// Plan is the pure output of Build: never persisted, derived fresh for
// every restoration.
type Plan struct {
	AppID             string         `json:"appId"`
	RuntimeVersion    string         `json:"runtimeVersion"`
	WorkspaceS3Prefix string         `json:"workspaceS3Prefix"`
	ConflictPolicy    ConflictPolicy `json:"conflictPolicy"`
	ProtectedPaths    []string       `json:"protectedPaths"`
	RequiredPaths     []string       `json:"requiredPaths"`
	SeedFiles         []SeedFile     `json:"seedFiles"`
	MountPoints       []MountPoint   `json:"mountPoints"`
	CleanupRules      []CleanupRule  `json:"cleanupRules"`
	Entries           []Entry        `json:"entries"`
}
