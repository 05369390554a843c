package agentrunner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the thread_ts → active runner table. At most one runner is
// registered per thread at any instant; the session executor's per-thread
// lock upholds that, and the registry rejects violations defensively.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*runner
	opts      Options
	logger    *slog.Logger
}

// NewRegistry creates a runner registry with the given subprocess options.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		instances: make(map[string]*runner),
		opts:      opts.withDefaults(),
		logger:    slog.Default().With("component", "runner-registry"),
	}
}

// Run executes one agent invocation for a thread, blocking until terminal.
// The runner is registered for the duration of the invocation and removed
// in the same scope as its teardown.
func (g *Registry) Run(ctx context.Context, req RunRequest) *Result {
	r := newRunner(req.ThreadTS, g.opts)

	g.mu.Lock()
	if _, exists := g.instances[req.ThreadTS]; exists {
		g.mu.Unlock()
		return &Result{Error: fmt.Sprintf("runner already active for thread %s", req.ThreadTS)}
	}
	g.instances[req.ThreadTS] = r
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.instances, req.ThreadTS)
		g.mu.Unlock()
	}()

	return r.run(ctx, req)
}

// Interrupt signals the active subprocess of a thread to abandon its
// current response. Fire-and-forget: safe when no invocation is active.
func (g *Registry) Interrupt(threadTS string) {
	g.mu.Lock()
	r := g.instances[threadTS]
	g.mu.Unlock()
	if r == nil {
		return
	}
	g.logger.Info("Interrupting agent turn", "thread_ts", threadTS)
	r.interrupt()
}

// Active reports whether a runner is registered for the thread.
func (g *Registry) Active(threadTS string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.instances[threadTS]
	return ok
}

// ActiveCount returns the number of live runners.
func (g *Registry) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.instances)
}

// CompactSession asks the agent to produce a compacted replacement session
// and returns the new session id if it changed. Blocking.
func (g *Registry) CompactSession(ctx context.Context, threadTS, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("compact requires a session id")
	}
	res := g.Run(ctx, RunRequest{
		ThreadTS:  threadTS + ":compact",
		Prompt:    "/compact",
		SessionID: sessionID,
	})
	if res.Error != "" {
		return "", fmt.Errorf("compact failed: %s", res.Error)
	}
	if res.SessionID != "" && res.SessionID != sessionID {
		return res.SessionID, nil
	}
	return sessionID, nil
}

// ShutdownAll walks the registry and tears down every live instance.
// Called on process exit, including from signal handlers.
func (g *Registry) ShutdownAll() {
	g.mu.Lock()
	runners := make([]*runner, 0, len(g.instances))
	for _, r := range g.instances {
		runners = append(runners, r)
	}
	g.mu.Unlock()

	if len(runners) == 0 {
		return
	}
	g.logger.Info("Shutting down active agent subprocesses", "count", len(runners))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *runner) {
			defer wg.Done()
			r.interrupt()
			r.teardown()
		}(r)
	}
	wg.Wait()
}
