package agentrunner

import "time"

// ToolPolicy is the static tool gate handed to a runner. The runner passes
// it to the agent CLI verbatim; role-to-policy mapping happens upstream.
type ToolPolicy struct {
	Allowed    []string
	Disallowed []string
}

// Options configures how agent subprocesses are launched.
type Options struct {
	// Binary is the agent CLI executable. Defaults to "claude".
	Binary string
	// WorkDir is the working directory for agent subprocesses.
	WorkDir string
	// LogsDir receives per-thread stderr capture files.
	LogsDir string
	// Env entries are appended to the subprocess environment.
	Env []string
	// PermissionMode is forwarded to the CLI when non-empty.
	PermissionMode string
	// MCPConfigPath is forwarded to the CLI when non-empty (admin turns).
	MCPConfigPath string

	// ProgressInterval throttles OnProgress callbacks.
	ProgressInterval time.Duration
	// MaxCompactRetries bounds re-reads after a pre-compact event.
	MaxCompactRetries int
	// CompactRetryReadTimeout bounds each post-compact re-read.
	CompactRetryReadTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = "claude"
	}
	if o.LogsDir == "" {
		o.LogsDir = "logs"
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 3 * time.Second
	}
	if o.MaxCompactRetries <= 0 {
		o.MaxCompactRetries = 2
	}
	if o.CompactRetryReadTimeout <= 0 {
		o.CompactRetryReadTimeout = 30 * time.Second
	}
	return o
}

// progressTailLimit caps the text handed to OnProgress.
const progressTailLimit = 1000

// toolResultTruncateLimit caps tool_result rows in collected messages.
const toolResultTruncateLimit = 500
