package executor

import (
	"github.com/relaycrew/relay/pkg/agentrunner"
	"github.com/relaycrew/relay/pkg/session"
)

// viewerDisallowed is the static deny list for viewer turns.
var viewerDisallowed = []string{"Write", "Edit", "Bash", "TodoWrite"}

// PolicyFor maps a session role to the tool policy its turns run under.
// Viewers get a read-only agent; admins get the configured tool set.
func PolicyFor(role session.Role, adminAllowed []string) agentrunner.ToolPolicy {
	if role == session.RoleViewer {
		return agentrunner.ToolPolicy{
			Disallowed: append([]string(nil), viewerDisallowed...),
		}
	}
	return agentrunner.ToolPolicy{
		Allowed: append([]string(nil), adminAllowed...),
	}
}
