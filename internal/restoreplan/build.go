package restoreplan

import (
	"fmt"

	"github.com/relayforge/agentctl/internal/apierr"
)

// Build derives a Plan from manifest and identity, per §4.7. It is a pure
// function: the same (manifest, identity, requestedRuntimeVersion) always
// produces a byte-equal Plan.
func Build(manifest Manifest, identity Identity, requestedRuntimeVersion string) (Plan, error) {
	if manifest.RuntimeVersion != requestedRuntimeVersion {
		return Plan{}, apierr.WithDetails(apierr.KindValidation, "manifest runtimeVersion does not match requested runtimeVersion", map[string]string{
			"field":                   "runtimeVersion",
			"manifestRuntimeVersion":  manifest.RuntimeVersion,
			"requestedRuntimeVersion": requestedRuntimeVersion,
		})
	}

	if err := validateManifestPaths(manifest); err != nil {
		return Plan{}, err
	}

	conflictPolicy := manifest.ConflictPolicy
	if conflictPolicy == "" {
		conflictPolicy = ConflictKeepSession
	}

	entries := []Entry{
		{Layer: LayerRegistryBase, Source: "registry://base", TargetPath: workspaceRoot},
		{Layer: LayerSessionOverlay, Source: identity.WorkspaceS3Prefix, TargetPath: workspaceRoot},
	}
	for _, kb := range manifest.KnowledgeBases {
		if kb.Scope != "app" && kb.Scope != "project" {
			continue
		}
		entries = append(entries, Entry{Layer: LayerKnowledgeOverlay, Source: kb.URI, TargetPath: workspaceRoot})
	}
	entries = append(entries,
		Entry{Layer: LayerUserOverlay, Source: fmt.Sprintf("user://%s", identity.UserLoginName), TargetPath: workspaceRoot},
		Entry{Layer: LayerRuntimeFixups, Source: "runtime://link-agent-data", TargetPath: workspaceRoot + "/.agent_data"},
	)

	return Plan{
		AppID:             identity.AppID,
		RuntimeVersion:    manifest.RuntimeVersion,
		WorkspaceS3Prefix: identity.WorkspaceS3Prefix,
		ConflictPolicy:    conflictPolicy,
		ProtectedPaths:    manifest.ProtectedPaths,
		RequiredPaths:     manifest.RequiredPaths,
		SeedFiles:         manifest.SeedFiles,
		MountPoints:       manifest.MountPoints,
		CleanupRules:      manifest.CleanupRules,
		Entries:           entries,
	}, nil
}
