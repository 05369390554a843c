package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Deploy states.
const (
	DeployIdle            = "idle"
	DeployPending         = "pending"
	DeployWaitingSessions = "waiting_sessions"
	DeployDeploying       = "deploying"
)

// waitingSessionsTimeout caps how long a deploy waits for agent sessions
// to drain before going ahead anyway.
const waitingSessionsTimeout = 10 * time.Minute

// defaultSupervisorPathPrefix marks changes that require a supervisor
// restart instead of an in-place child redeploy.
const defaultSupervisorPathPrefix = "cmd/relay-supervisor/"

// ErrSupervisorRestartRequired reports that the pending change touches
// the supervisor itself; the caller must exit with ExitUpdate so the
// watchdog restarts it on the new code.
var ErrSupervisorRestartRequired = errors.New("supervisor restart required")

// SessionCounter reports live agent subprocesses.
type SessionCounter interface {
	ActiveAgentSessions() int
}

// ProcessController stops and starts the supervised children as a group.
type ProcessController interface {
	StopAll() error
	StartAll() error
}

// Deployer drives the redeploy state machine.
type Deployer struct {
	git      *GitPoller
	sessions SessionCounter
	procs    ProcessController
	notifier *Notifier
	logger   *slog.Logger

	// InstallCommand runs between pull and restart (e.g. go build).
	installCommand []string
	supervisorPath string

	mu           sync.Mutex
	state        string
	waitingSince time.Time

	now        func() time.Time
	runInstall func(ctx context.Context, dir string, command []string) error
}

// NewDeployer creates an idle deployer.
func NewDeployer(git *GitPoller, sessions SessionCounter, procs ProcessController,
	notifier *Notifier, installCommand []string) *Deployer {
	return &Deployer{
		git:            git,
		sessions:       sessions,
		procs:          procs,
		notifier:       notifier,
		installCommand: installCommand,
		supervisorPath: defaultSupervisorPathPrefix,
		logger:         slog.Default().With("component", "deployer"),
		state:          DeployIdle,
		now:            time.Now,
		runInstall:     runInstallCommand,
	}
}

func runInstallCommand(ctx context.Context, dir string, command []string) error {
	if len(command) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("install command %q: %w: %s", strings.Join(command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// State returns the current deploy state.
func (d *Deployer) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// NotifyChange arms the state machine. Idempotent while a deploy is
// already in flight.
func (d *Deployer) NotifyChange(ctx context.Context) {
	d.mu.Lock()
	if d.state != DeployIdle {
		d.mu.Unlock()
		return
	}
	d.state = DeployPending
	d.mu.Unlock()
	d.logger.Info("Deploy pending")

	commits, err := d.git.PendingCommits(ctx)
	if err != nil {
		d.logger.Warn("Failed to list pending commits", "error", err)
	}
	d.notifier.ChangeDetected(commits)
}

// Tick advances the state machine one step. Returns
// ErrSupervisorRestartRequired when the change touches the supervisor.
func (d *Deployer) Tick(ctx context.Context) error {
	d.mu.Lock()
	state := d.state
	waitingSince := d.waitingSince
	d.mu.Unlock()

	switch state {
	case DeployPending:
		active := d.sessions.ActiveAgentSessions()
		if active == 0 {
			return d.deploy(ctx)
		}
		d.mu.Lock()
		d.state = DeployWaitingSessions
		d.waitingSince = d.now()
		d.mu.Unlock()
		d.logger.Info("Deploy waiting for agent sessions", "active", active)
		d.notifier.WaitingSessions(active)
	case DeployWaitingSessions:
		active := d.sessions.ActiveAgentSessions()
		if active == 0 || d.now().Sub(waitingSince) >= waitingSessionsTimeout {
			if active > 0 {
				d.logger.Warn("Deploy wait timed out, proceeding", "active", active)
			}
			return d.deploy(ctx)
		}
	}
	return nil
}

// deploy runs the stop → pull → install → start sequence. Children are
// always stopped before the pull so no agent subprocess sees the
// checkout change underneath it.
func (d *Deployer) deploy(ctx context.Context) error {
	d.mu.Lock()
	d.state = DeployDeploying
	d.mu.Unlock()

	paths, err := d.git.ChangedPaths(ctx)
	if err != nil {
		d.logger.Warn("Failed to compute changed paths", "error", err)
	}
	for _, p := range paths {
		if strings.HasPrefix(p, d.supervisorPath) {
			d.logger.Info("Change touches the supervisor, requesting restart", "path", p)
			if err := d.procs.StopAll(); err != nil {
				d.logger.Error("Failed to stop children before supervisor restart", "error", err)
			}
			return ErrSupervisorRestartRequired
		}
	}

	d.notifier.DeployStarted()
	if err := d.procs.StopAll(); err != nil {
		d.finish(fmt.Errorf("stopping children: %w", err))
		return nil
	}
	if err := d.git.Pull(ctx); err != nil {
		// Restart on the old code so the system stays up.
		if startErr := d.procs.StartAll(); startErr != nil {
			d.logger.Error("Failed to restart children after failed pull", "error", startErr)
		}
		d.finish(fmt.Errorf("git pull: %w", err))
		return nil
	}
	if err := d.runInstall(ctx, d.git.repoDir, d.installCommand); err != nil {
		if startErr := d.procs.StartAll(); startErr != nil {
			d.logger.Error("Failed to restart children after failed install", "error", startErr)
		}
		d.finish(err)
		return nil
	}
	if err := d.procs.StartAll(); err != nil {
		d.finish(fmt.Errorf("restarting children: %w", err))
		return nil
	}
	d.finish(nil)
	return nil
}

func (d *Deployer) finish(err error) {
	d.mu.Lock()
	d.state = DeployIdle
	d.mu.Unlock()
	if err != nil {
		d.logger.Error("Deploy failed", "error", err)
		d.notifier.DeployFailed(err)
		return
	}
	d.logger.Info("Deploy succeeded")
	d.notifier.DeploySucceeded()
}
