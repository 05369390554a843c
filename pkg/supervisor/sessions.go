package supervisor

import (
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// defaultAgentBinary is the agent CLI name counted as a live session.
const defaultAgentBinary = "claude"

// maxProcessDepth bounds the child-tree walk.
const maxProcessDepth = 5

// CountAgentProcesses walks the child trees of the given pids and counts
// processes running the agent binary. The walk never scans the whole pid
// table.
func CountAgentProcesses(pids []int32, agentBinary string) int {
	if agentBinary == "" {
		agentBinary = defaultAgentBinary
	}
	count := 0
	for _, pid := range pids {
		proc, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		count += countAgentsUnder(proc, agentBinary, 0)
	}
	return count
}

func countAgentsUnder(proc *process.Process, agentBinary string, depth int) int {
	if depth >= maxProcessDepth {
		return 0
	}
	children, err := proc.Children()
	if err != nil {
		return 0
	}
	count := 0
	for _, child := range children {
		name, err := child.Name()
		if err == nil && strings.TrimSuffix(name, ".exe") == agentBinary {
			count++
		}
		count += countAgentsUnder(child, agentBinary, depth+1)
	}
	return count
}
