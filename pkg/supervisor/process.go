package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Process lifecycle states.
const (
	StatusStopped    = "stopped"
	StatusRunning    = "running"
	StatusRestarting = "restarting"
	StatusDead       = "dead"
)

// gracefulStopTimeout is how long a child gets between SIGTERM and SIGKILL.
const gracefulStopTimeout = 10 * time.Second

// ProcessConfig describes one supervised child.
type ProcessConfig struct {
	Name         string
	Command      string
	Args         []string
	Cwd          string
	Env          map[string]string
	AutoRestart  bool
	UseExitCodes bool
	RestartDelay time.Duration
	LogDir       string
}

// Process is one supervised child with its runtime state.
type Process struct {
	cfg    ProcessConfig
	logger *slog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	logFile      *os.File
	stopping     bool
	status       string
	pid          int
	restartCount int
	lastExitCode int
	exitCh       chan int
}

// ProcessStatus is the dashboard-facing snapshot of a child.
type ProcessStatus struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	PID          int    `json:"pid,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastExitCode int    `json:"last_exit_code"`
}

// NewProcess creates an unstarted child.
func NewProcess(cfg ProcessConfig) *Process {
	return &Process{
		cfg:    cfg,
		status: StatusStopped,
		logger: slog.Default().With("component", "supervisor", "process", cfg.Name),
	}
}

// Name returns the configured process name.
func (p *Process) Name() string { return p.cfg.Name }

// Config returns the child's configuration.
func (p *Process) Config() ProcessConfig { return p.cfg }

// LogPath returns the child's log file path, or "" when logging to
// stderr.
func (p *Process) LogPath() string {
	if p.cfg.LogDir == "" {
		return ""
	}
	return filepath.Join(p.cfg.LogDir, p.cfg.Name+".log")
}

// Start launches the child. Calling Start on a running process is an
// error.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		return fmt.Errorf("process %s is already running", p.cfg.Name)
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.Cwd
	cmd.Env = os.Environ()
	for k, v := range p.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if path := p.LogPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating log dir for %s: %w", p.cfg.Name, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file for %s: %w", p.cfg.Name, err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
		p.logFile = f
	} else {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if p.logFile != nil {
			p.logFile.Close()
			p.logFile = nil
		}
		p.status = StatusDead
		return fmt.Errorf("starting %s: %w", p.cfg.Name, err)
	}

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.status = StatusRunning
	p.exitCh = make(chan int, 1)
	exitCh := p.exitCh
	p.logger.Info("Process started", "pid", p.pid)

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		exitCh <- code
	}()
	return nil
}

// Poll reports whether the child has exited since the last poll, and its
// exit code. Non-blocking.
func (p *Process) Poll() (exited bool, code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusRunning || p.exitCh == nil || p.stopping {
		return false, 0
	}
	select {
	case code = <-p.exitCh:
		p.finishLocked(code)
		return true, code
	default:
		return false, 0
	}
}

// Stop terminates the child, SIGTERM first, SIGKILL after the grace
// period. No-op when not running.
func (p *Process) Stop() error {
	p.mu.Lock()
	if p.status != StatusRunning || p.cmd == nil || p.cmd.Process == nil {
		p.mu.Unlock()
		return nil
	}
	// Keep Poll away from the exit channel while we drain it.
	p.stopping = true
	proc := p.cmd.Process
	exitCh := p.exitCh
	p.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		p.logger.Warn("SIGTERM failed, killing", "error", err)
		_ = proc.Kill()
	}

	var code int
	select {
	case code = <-exitCh:
	case <-time.After(gracefulStopTimeout):
		p.logger.Warn("Graceful stop timed out, killing")
		_ = proc.Kill()
		code = <-exitCh
	}

	p.mu.Lock()
	p.finishLocked(code)
	p.stopping = false
	p.mu.Unlock()
	p.logger.Info("Process stopped", "exit_code", code)
	return nil
}

// Restart stops then starts the child, bumping the restart counter.
func (p *Process) Restart() error {
	if err := p.Stop(); err != nil {
		return err
	}
	p.mu.Lock()
	p.restartCount++
	p.status = StatusRestarting
	p.mu.Unlock()
	return p.Start()
}

// MarkRestarted bumps the restart counter for restarts driven by the
// supervisor loop, where Start is called separately.
func (p *Process) MarkRestarted() {
	p.mu.Lock()
	p.restartCount++
	p.mu.Unlock()
}

// PID returns the child's pid, 0 when not running.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusRunning {
		return 0
	}
	return p.pid
}

// Status returns the dashboard snapshot.
func (p *Process) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := ProcessStatus{
		Name:         p.cfg.Name,
		Status:       p.status,
		RestartCount: p.restartCount,
		LastExitCode: p.lastExitCode,
	}
	if p.status == StatusRunning {
		st.PID = p.pid
	}
	return st
}

// Running reports whether the child is currently alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == StatusRunning
}

func (p *Process) finishLocked(code int) {
	p.lastExitCode = code
	p.status = StatusStopped
	p.pid = 0
	p.cmd = nil
	p.exitCh = nil
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
}
