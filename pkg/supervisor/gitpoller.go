package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// gitTimeout bounds every git invocation.
const gitTimeout = 60 * time.Second

// GitPoller compares the runtime checkout against its remote branch.
type GitPoller struct {
	repoDir string
	remote  string
	branch  string
	logger  *slog.Logger

	// run is swappable for tests.
	run func(ctx context.Context, dir string, args ...string) (string, error)
}

// NewGitPoller creates a poller for the given checkout.
func NewGitPoller(repoDir, remote, branch string) *GitPoller {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = "main"
	}
	return &GitPoller{
		repoDir: repoDir,
		remote:  remote,
		branch:  branch,
		logger:  slog.Default().With("component", "git-poller"),
		run:     runGit,
	}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *GitPoller) remoteRef() string { return g.remote + "/" + g.branch }

// Changed fetches and reports whether the remote branch has moved past
// the local head.
func (g *GitPoller) Changed(ctx context.Context) (bool, error) {
	if _, err := g.run(ctx, g.repoDir, "fetch", g.remote); err != nil {
		return false, err
	}
	local, err := g.run(ctx, g.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return false, err
	}
	remote, err := g.run(ctx, g.repoDir, "rev-parse", g.remoteRef())
	if err != nil {
		return false, err
	}
	return local != remote, nil
}

// PendingCommits lists the one-line subjects between local head and the
// remote branch, newest first.
func (g *GitPoller) PendingCommits(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, g.repoDir, "log", "--oneline", "HEAD.."+g.remoteRef())
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ChangedPaths lists files that differ between local head and the remote
// branch.
func (g *GitPoller) ChangedPaths(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, g.repoDir, "diff", "--name-only", "HEAD", g.remoteRef())
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Pull fast-forwards the checkout to the remote branch.
func (g *GitPoller) Pull(ctx context.Context) error {
	_, err := g.run(ctx, g.repoDir, "pull", "--ff-only", g.remote, g.branch)
	return err
}
