package restoreplan

import (
	"path"
	"strings"
)

// WorkspaceS3Prefix derives the bit-exact workspace object-store prefix from
// §6: "app/<appId>/project/<projectName||default>/<userLoginName>/session/
// <sessionId>/workspace", with every dynamic segment trimmed of surrounding
// slashes before joining.
func WorkspaceS3Prefix(appID, projectName, userLoginName, sessionID string) string {
	if strings.Trim(projectName, "/") == "" {
		projectName = "default"
	}
	return path.Join(
		"app", strings.Trim(appID, "/"),
		"project", strings.Trim(projectName, "/"),
		strings.Trim(userLoginName, "/"),
		"session", strings.Trim(sessionID, "/"),
		"workspace",
	)
}
