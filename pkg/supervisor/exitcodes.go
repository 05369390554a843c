package supervisor

// Exit codes children use to request supervisor behavior.
const (
	ExitShutdown = 0
	ExitUpdate   = 42
	ExitRestart  = 43
)

// exitAction is what the supervisor loop does after a child exits.
type exitAction int

const (
	actionShutdown exitAction = iota
	actionUpdate
	actionRestart
	actionRestartDelay
	actionNone
)

func (a exitAction) String() string {
	switch a {
	case actionShutdown:
		return "shutdown"
	case actionUpdate:
		return "update"
	case actionRestart:
		return "restart"
	case actionRestartDelay:
		return "restart_delay"
	}
	return "none"
}

// actionForExit maps a child's exit code to the loop's action under its
// restart policy.
func actionForExit(code int, cfg ProcessConfig) exitAction {
	if !cfg.UseExitCodes {
		if cfg.AutoRestart {
			return actionRestartDelay
		}
		return actionNone
	}
	switch code {
	case ExitShutdown:
		return actionShutdown
	case ExitUpdate:
		return actionUpdate
	case ExitRestart:
		return actionRestart
	default:
		return actionRestartDelay
	}
}
