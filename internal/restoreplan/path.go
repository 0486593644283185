package restoreplan

import (
	"fmt"
	"path"
	"strings"

	"github.com/relayforge/agentctl/internal/apierr"
)

const workspaceRoot = "/workspace"

// validateWorkspacePath enforces the §4.7 rule: absolute, /workspace-rooted,
// free of ".." segments, with collapsed "//". field names the manifest
// field the value came from, for the validation error's detail payload.
func validateWorkspacePath(field, value string) error {
	if value == "" {
		return apierr.WithDetails(apierr.KindValidation, "path must not be empty", map[string]string{"field": field, "value": value})
	}
	if !strings.HasPrefix(value, "/") {
		return apierr.WithDetails(apierr.KindValidation, "path must be absolute", map[string]string{"field": field, "value": value})
	}
	for _, seg := range strings.Split(value, "/") {
		if seg == ".." {
			return apierr.WithDetails(apierr.KindValidation, "path must not contain \"..\" segments", map[string]string{"field": field, "value": value})
		}
	}
	cleaned := path.Clean(value)
	if cleaned != workspaceRoot && !strings.HasPrefix(cleaned, workspaceRoot+"/") {
		return apierr.WithDetails(apierr.KindValidation, fmt.Sprintf("path must be rooted at %s", workspaceRoot), map[string]string{"field": field, "value": value})
	}
	return nil
}

// validateManifestPaths walks every path-bearing field of m and returns the
// first violation, per §4.7's field list.
func validateManifestPaths(m Manifest) error {
	for i, p := range m.RequiredPaths {
		if err := validateWorkspacePath(fmt.Sprintf("requiredPaths[%d]", i), p); err != nil {
			return err
		}
	}
	for i, p := range m.ProtectedPaths {
		if err := validateWorkspacePath(fmt.Sprintf("protectedPaths[%d]", i), p); err != nil {
			return err
		}
	}
	for i, mp := range m.MountPoints {
		if err := validateWorkspacePath(fmt.Sprintf("mountPoints[%d].targetPath", i), mp.TargetPath); err != nil {
			return err
		}
	}
	for i, sf := range m.SeedFiles {
		if err := validateWorkspacePath(fmt.Sprintf("seedFiles[%d].to", i), sf.To); err != nil {
			return err
		}
	}
	for i, cr := range m.CleanupRules {
		if err := validateWorkspacePath(fmt.Sprintf("cleanupRules[%d].path", i), cr.Path); err != nil {
			return err
		}
	}
	return nil
}

// normalizePath collapses "//" via path.Clean while preserving the leading
// "/" of an absolute path (path.Clean already does this for non-empty
// absolute inputs; kept as a named seam so callers read intent).
func normalizePath(p string) string {
	return path.Clean(p)
}

// ValidateRequiredPathsResult is the §4.7 validateRequiredPaths output.
type ValidateRequiredPathsResult struct {
	OK                   bool     `json:"ok"`
	MissingRequiredPaths []string `json:"missingRequiredPaths,omitempty"`
}

// ValidateRequiredPaths checks required against existing using normalized-
// path set membership, per §4.7/scenario S5.
func ValidateRequiredPaths(required, existing []string) ValidateRequiredPathsResult {
	present := make(map[string]bool, len(existing))
	for _, p := range existing {
		present[normalizePath(p)] = true
	}

	var missing []string
	for _, p := range required {
		if !present[normalizePath(p)] {
			missing = append(missing, p)
		}
	}

	return ValidateRequiredPathsResult{OK: len(missing) == 0, MissingRequiredPaths: missing}
}
