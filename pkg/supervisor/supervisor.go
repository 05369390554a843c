package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config holds the supervisor loop knobs.
type Config struct {
	HealthCheckInterval time.Duration
	GitPollInterval     time.Duration
	RepoDir             string
	GitRemote           string
	GitBranch           string
	AgentBinary         string
	WebhookURL          string
	InstallCommand      []string
	Processes           []ProcessConfig
}

// Supervisor launches the configured children, restarts them per their
// exit-code policy and drives the deployer.
type Supervisor struct {
	cfg      Config
	order    []string
	procs    map[string]*Process
	git      *GitPoller
	deployer *Deployer
	notifier *Notifier
	logger   *slog.Logger

	restartRequest chan int
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup

	mu              sync.Mutex
	lastRestartReq  time.Time
	sessionsCounter func() int
}

// New creates a supervisor from config. Children are not started yet.
func New(cfg Config) *Supervisor {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	if cfg.GitPollInterval <= 0 {
		cfg.GitPollInterval = time.Minute
	}
	s := &Supervisor{
		cfg:            cfg,
		procs:          make(map[string]*Process),
		git:            NewGitPoller(cfg.RepoDir, cfg.GitRemote, cfg.GitBranch),
		notifier:       NewNotifier(cfg.WebhookURL),
		logger:         slog.Default().With("component", "supervisor"),
		restartRequest: make(chan int, 1),
		stopCh:         make(chan struct{}),
	}
	for _, pc := range cfg.Processes {
		s.order = append(s.order, pc.Name)
		s.procs[pc.Name] = NewProcess(pc)
	}
	s.deployer = NewDeployer(s.git, s, s, s.notifier, cfg.InstallCommand)
	return s
}

// Process returns a child by name, or nil.
func (s *Supervisor) Process(name string) *Process { return s.procs[name] }

// Deployer returns the deploy state machine.
func (s *Supervisor) Deployer() *Deployer { return s.deployer }

// Statuses returns dashboard snapshots in configuration order.
func (s *Supervisor) Statuses() []ProcessStatus {
	out := make([]ProcessStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.procs[name].Status())
	}
	return out
}

// StartAll starts every child in configuration order.
func (s *Supervisor) StartAll() error {
	for _, name := range s.order {
		p := s.procs[name]
		if p.Running() {
			continue
		}
		if err := p.Start(); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every child in reverse configuration order.
func (s *Supervisor) StopAll() error {
	var firstErr error
	for i := len(s.order) - 1; i >= 0; i-- {
		if err := s.procs[s.order[i]].Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ActiveAgentSessions counts agent subprocesses under the running
// children. Satisfies SessionCounter.
func (s *Supervisor) ActiveAgentSessions() int {
	s.mu.Lock()
	counter := s.sessionsCounter
	s.mu.Unlock()
	if counter != nil {
		return counter()
	}
	var pids []int32
	for _, name := range s.order {
		if pid := s.procs[name].PID(); pid > 0 {
			pids = append(pids, int32(pid))
		}
	}
	return CountAgentProcesses(pids, s.cfg.AgentBinary)
}

// RequestRestart asks the supervisor to exit with the restart code so
// its watchdog brings it back up. Rate limited to one request per
// minute; refused while agent sessions are live unless forced.
func (s *Supervisor) RequestRestart(force bool) error {
	s.mu.Lock()
	if since := time.Since(s.lastRestartReq); since < time.Minute {
		s.mu.Unlock()
		return fmt.Errorf("restart requested %s ago, wait %s", since.Round(time.Second), (time.Minute - since).Round(time.Second))
	}
	s.lastRestartReq = time.Now()
	s.mu.Unlock()

	if !force {
		if active := s.ActiveAgentSessions(); active > 0 {
			return fmt.Errorf("%d agent session(s) active; pass force to restart anyway", active)
		}
	}
	select {
	case s.restartRequest <- ExitRestart:
	default:
	}
	return nil
}

// TriggerDeploy arms the deployer as if the git poller saw a change.
func (s *Supervisor) TriggerDeploy(ctx context.Context) {
	s.deployer.NotifyChange(ctx)
}

// Stop asks the Run loop to exit cleanly.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Run starts the children and loops until shutdown. The returned code is
// the process exit code: ExitUpdate when the deployer wants a supervisor
// restart, ExitRestart on an operator restart request, 0 otherwise.
func (s *Supervisor) Run(ctx context.Context) int {
	if err := s.StartAll(); err != nil {
		s.logger.Error("Failed to start children", "error", err)
	}

	health := time.NewTicker(s.cfg.HealthCheckInterval)
	defer health.Stop()
	gitTick := time.NewTicker(s.cfg.GitPollInterval)
	defer gitTick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return 0
		case <-s.stopCh:
			s.shutdown()
			return 0
		case code := <-s.restartRequest:
			s.shutdown()
			return code
		case <-gitTick.C:
			changed, err := s.git.Changed(ctx)
			if err != nil {
				s.logger.Warn("Git poll failed", "error", err)
				continue
			}
			if changed {
				s.deployer.NotifyChange(ctx)
			}
		case <-health.C:
			s.pollProcesses(ctx)
			if err := s.deployer.Tick(ctx); errors.Is(err, ErrSupervisorRestartRequired) {
				// Children are already stopped; cancel any pending
				// delayed restarts before exiting for the update.
				s.Stop()
				s.wg.Wait()
				return ExitUpdate
			}
		}
	}
}

// pollProcesses reaps exited children and applies their restart policy.
func (s *Supervisor) pollProcesses(ctx context.Context) {
	for _, name := range s.order {
		p := s.procs[name]
		exited, code := p.Poll()
		if !exited {
			continue
		}
		action := actionForExit(code, p.Config())
		s.logger.Info("Process exited", "process", name, "exit_code", code, "action", action.String())
		switch action {
		case actionShutdown:
			// Stays stopped until an operator or a deploy starts it.
		case actionUpdate:
			s.deployer.NotifyChange(ctx)
			p.MarkRestarted()
			if err := p.Start(); err != nil {
				s.logger.Error("Failed to restart process", "process", name, "error", err)
			}
		case actionRestart:
			p.MarkRestarted()
			if err := p.Start(); err != nil {
				s.logger.Error("Failed to restart process", "process", name, "error", err)
			}
		case actionRestartDelay:
			s.restartAfterDelay(p)
		}
	}
}

func (s *Supervisor) restartAfterDelay(p *Process) {
	delay := p.Config().RestartDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.stopCh:
			return
		case <-time.After(delay):
		}
		p.MarkRestarted()
		if err := p.Start(); err != nil {
			s.logger.Error("Failed to restart process after delay", "process", p.Name(), "error", err)
		}
	}()
}

func (s *Supervisor) shutdown() {
	s.Stop()
	if err := s.StopAll(); err != nil {
		s.logger.Error("Failed to stop children", "error", err)
	}
	s.wg.Wait()
}
