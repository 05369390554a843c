// Package executor orchestrates one agent turn per chat thread: lock
// acquisition, preemption handoff, context injection, progress streaming,
// marker interpretation and completion rendering.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycrew/relay/pkg/agentrunner"
	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/memory"
	"github.com/relaycrew/relay/pkg/session"
)

// compactTimeout bounds a preemptive compact between list-run cards.
const compactTimeout = 60 * time.Second

const thinkingText = "🤔 Thinking…"

// Runner is the agent-subprocess surface the executor drives. Satisfied by
// *agentrunner.Registry.
type Runner interface {
	Run(ctx context.Context, req agentrunner.RunRequest) *agentrunner.Result
	Interrupt(threadTS string)
	CompactSession(ctx context.Context, threadTS, sessionID string) (string, error)
}

// Restarter performs a supervised restart or redeploy on behalf of an admin
// marker.
type Restarter interface {
	RequestRestart(ctx context.Context, update bool, requestedBy string) error
}

// ListRunStarter resolves a tracker list by name and starts a multi-card
// chain over it.
type ListRunStarter interface {
	StartListRunByName(ctx context.Context, listName, channelID, threadTS string) error
}

// ContextInjector assembles the memory prefix for a turn. Satisfied by
// *memory.ContextBuilder.
type ContextInjector interface {
	Build(p memory.ContextParams) memory.Injection
}

// MemorySink receives the finished turn for observation. Satisfied by
// *memory.Pipeline.
type MemorySink interface {
	ProcessTurn(ctx context.Context, threadTS, userID string, messages []memory.Message) bool
}

// Config holds the executor's static knobs.
type Config struct {
	// AdminTools is the allowed tool set for admin turns.
	AdminTools []string
	// OperatorChannel receives restart confirmation prompts when other
	// sessions are still running.
	OperatorChannel string
	// ContextLimitTokens bounds memory injection and scales the usage bar.
	// Zero disables both.
	ContextLimitTokens int
}

// RunInput is one user turn handed to the executor.
type RunInput struct {
	ThreadTS  string
	ChannelID string
	// MsgTS is the triggering chat message; preemption reactions land here.
	MsgTS  string
	Prompt string
	// ThinkingTS reuses an existing status message instead of posting one.
	ThinkingTS string
	// ProgressiveDM posts progress as new thread messages instead of
	// updating the status message in place.
	ProgressiveDM bool
	// OnSuccess runs after a successful turn. Failures inside it are
	// isolated: they never reach the error path.
	OnSuccess func(res *agentrunner.Result)
	// OnError runs after a failed (not interrupted) turn.
	OnError func(res *agentrunner.Result)
}

// PendingPrompt is the stashed latest prompt of a preempted thread.
type PendingPrompt struct {
	Prompt    string
	MsgTS     string
	ChannelID string
}

// Executor serializes and renders agent turns.
type Executor struct {
	sessions  *session.Manager
	runner    Runner
	adapter   chat.Adapter
	reactions *chat.ReactionManager
	contexts  ContextInjector // optional
	memory    MemorySink      // optional
	restarter Restarter       // optional
	lists     ListRunStarter  // optional
	debug     *chat.DebugSink
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*PendingPrompt
}

// New creates the executor. contexts, memorySink, restarter, lists and debug
// may be nil.
func New(sessions *session.Manager, runner Runner, adapter chat.Adapter,
	reactions *chat.ReactionManager, contexts ContextInjector, memorySink MemorySink,
	restarter Restarter, lists ListRunStarter, debug *chat.DebugSink, cfg Config) *Executor {
	return &Executor{
		sessions:  sessions,
		runner:    runner,
		adapter:   adapter,
		reactions: reactions,
		contexts:  contexts,
		memory:    memorySink,
		restarter: restarter,
		lists:     lists,
		debug:     debug,
		cfg:       cfg,
		logger:    slog.Default().With("component", "executor"),
		pending:   make(map[string]*PendingPrompt),
	}
}

// Run executes one turn for the thread, or preempts the running one.
//
// When the thread lock is already held, the turn becomes an intervention:
// the arriving message gets a preemption reaction, the prompt is stashed
// (latest wins) and the active subprocess is interrupted. The running turn's
// exit pops the stash and re-enters with the prior session id.
func (e *Executor) Run(ctx context.Context, in RunInput) {
	sess, err := e.sessions.Get(in.ThreadTS)
	if err != nil {
		e.logger.Error("Turn for unknown session", "thread_ts", in.ThreadTS, "error", err)
		return
	}

	lock := e.sessions.Lock(in.ThreadTS)
	handle := session.NewLockHandle()
	if !lock.TryAcquire(handle) {
		e.logger.Info("Thread busy, preempting", "thread_ts", in.ThreadTS, "msg_ts", in.MsgTS)
		if in.MsgTS != "" {
			e.reactions.Add(ctx, in.ChannelID, in.MsgTS, chat.ReactionPreempt)
		}
		e.stashPending(in)
		e.runner.Interrupt(in.ThreadTS)
		return
	}

	func() {
		defer lock.Release(handle)
		e.sessions.MarkRunning(in.ThreadTS)
		defer e.sessions.MarkStopped(in.ThreadTS)
		e.runTurn(ctx, sess, in)
	}()

	e.resumePending(ctx, in.ThreadTS)
}

func (e *Executor) runTurn(ctx context.Context, sess *session.Session, in RunInput) {
	thinkingTS := in.ThinkingTS
	if thinkingTS == "" {
		ts, err := e.adapter.PostMessage(ctx, in.ChannelID, in.ThreadTS, thinkingText)
		if err != nil {
			e.logger.Error("Failed to post status message", "thread_ts", in.ThreadTS, "error", err)
		}
		thinkingTS = ts
	}

	prompt := e.injectContext(sess, in.Prompt)
	policy := PolicyFor(sess.Role, e.cfg.AdminTools)

	res := e.runner.Run(ctx, agentrunner.RunRequest{
		ThreadTS:  in.ThreadTS,
		Channel:   in.ChannelID,
		Prompt:    prompt,
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Policy:    policy,
		OnProgress: func(ctx context.Context, text string) {
			e.renderProgress(ctx, in, thinkingTS, text)
		},
		OnRateLimitWarning: func(note string) {
			e.debug.Post(ctx, fmt.Sprintf("rate limit warning on %s: %s", in.ThreadTS, note))
		},
	})

	e.sessions.UpdateSessionID(in.ThreadTS, res.SessionID)
	e.sessions.IncrementMessageCount(in.ThreadTS)

	switch {
	case res.Interrupted:
		e.updateStatus(ctx, in.ChannelID, thinkingTS, "(cancelled)")
	case res.Success:
		e.renderSuccess(ctx, sess, in, thinkingTS, res)
		e.observeTurn(sess, in, res)
		e.runOnSuccess(in, res)
	default:
		e.updateStatus(ctx, in.ChannelID, thinkingTS, userErrorMessage(res.Error))
		if in.OnError != nil {
			in.OnError(res)
		}
	}
}

func (e *Executor) injectContext(sess *session.Session, prompt string) string {
	if e.contexts == nil {
		return prompt
	}
	inj := e.contexts.Build(memory.ContextParams{
		ThreadTS:                  sess.ThreadTS,
		ChannelID:                 sess.ChannelID,
		IncludePersistent:         true,
		IncludeSession:            true,
		IncludeChannelObservation: sess.SourceType == session.SourceHybrid,
		MaxTokens:                 e.cfg.ContextLimitTokens,
	})
	if inj.Prompt == "" {
		return prompt
	}
	return inj.Prompt + "\n\n" + prompt
}

func (e *Executor) renderProgress(ctx context.Context, in RunInput, thinkingTS, text string) {
	if in.ProgressiveDM {
		if _, err := e.adapter.PostMessage(ctx, in.ChannelID, in.ThreadTS, blockquote(text)); err != nil {
			e.logger.Debug("Progress post failed", "thread_ts", in.ThreadTS, "error", err)
		}
		return
	}
	if thinkingTS == "" {
		return
	}
	if err := e.adapter.UpdateMessage(ctx, in.ChannelID, thinkingTS, blockquote(text)); err != nil {
		e.logger.Debug("Progress update failed", "thread_ts", in.ThreadTS, "error", err)
	}
}

func (e *Executor) renderSuccess(ctx context.Context, sess *session.Session, in RunInput, thinkingTS string, res *agentrunner.Result) {
	output := res.Output
	wantsUpdate := chat.HasMarker(output, chat.MarkerUpdate)
	wantsRestart := chat.HasMarker(output, chat.MarkerRestart)
	listName, wantsListRun := chat.ParseListRunMarker(output)

	clean := chat.StripMarkers(output)
	summary, details := chat.ParseSummaryDetails(clean)
	if summary == "" {
		summary = "(no output)"
	}
	if bar := e.usageBar(res.Usage); bar != "" {
		summary += "\n" + bar
	}

	e.updateStatus(ctx, in.ChannelID, thinkingTS, summary)
	if details != "" {
		if _, err := chat.SendLongMessage(ctx, e.adapter, in.ChannelID, in.ThreadTS, details); err != nil {
			e.logger.Warn("Failed to post details", "thread_ts", in.ThreadTS, "error", err)
		}
	}

	// Marker side effects are an admin privilege.
	if sess.Role != session.RoleAdmin {
		return
	}
	if wantsListRun && e.lists != nil {
		if err := e.lists.StartListRunByName(ctx, listName, in.ChannelID, in.ThreadTS); err != nil {
			e.logger.Error("List run start failed", "list", listName, "error", err)
			e.updateStatus(ctx, in.ChannelID, thinkingTS, summary+"\n⚠️ could not start list run: "+listName)
		}
	}
	if wantsUpdate || wantsRestart {
		e.handleRestartMarker(ctx, sess, wantsUpdate)
	}
}

func (e *Executor) handleRestartMarker(ctx context.Context, sess *session.Session, update bool) {
	if e.restarter == nil {
		return
	}
	// More than this turn running: ask an operator instead of restarting
	// under someone's feet.
	if e.sessions.RunningCount() > 1 && e.cfg.OperatorChannel != "" {
		kind := "restart"
		if update {
			kind = "update"
		}
		text := fmt.Sprintf("A %s was requested by <@%s> while %d sessions are active. Rerun the marker when the channel is quiet, or restart from the dashboard.",
			kind, sess.UserID, e.sessions.RunningCount())
		if _, err := e.adapter.PostMessage(ctx, e.cfg.OperatorChannel, "", text); err != nil {
			e.logger.Error("Failed to post restart confirmation", "error", err)
		}
		return
	}
	if err := e.restarter.RequestRestart(ctx, update, sess.UserID); err != nil {
		e.logger.Error("Supervised restart failed", "update", update, "error", err)
	}
}

func (e *Executor) observeTurn(sess *session.Session, in RunInput, res *agentrunner.Result) {
	if e.memory == nil {
		return
	}
	msgs := make([]memory.Message, 0, len(res.CollectedMessages)+1)
	msgs = append(msgs, memory.Message{Role: "user", Content: in.Prompt})
	for _, m := range res.CollectedMessages {
		msgs = append(msgs, memory.Message{Role: "assistant", Content: m})
	}
	go func() {
		// Detached from the turn: observation survives caller cancellation.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		e.memory.ProcessTurn(ctx, in.ThreadTS, sess.UserID, msgs)
	}()
}

func (e *Executor) runOnSuccess(in RunInput, res *agentrunner.Result) {
	if in.OnSuccess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("on_success callback panicked", "thread_ts", in.ThreadTS, "panic", r)
		}
	}()
	in.OnSuccess(res)
}

func (e *Executor) updateStatus(ctx context.Context, channelID, ts, text string) {
	if ts == "" {
		return
	}
	if err := e.adapter.UpdateMessage(ctx, channelID, ts, text); err != nil {
		e.logger.Warn("Failed to update status message", "ts", ts, "error", err)
	}
}

func (e *Executor) usageBar(usage *agentrunner.Usage) string {
	if usage == nil || e.cfg.ContextLimitTokens <= 0 {
		return ""
	}
	used := usage.InputTokens + usage.CacheReadInputTokens + usage.CacheCreationInputTokens
	return chat.BuildContextUsageBar(used, e.cfg.ContextLimitTokens)
}

// stashPending keeps only the newest preempted prompt per thread.
func (e *Executor) stashPending(in RunInput) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[in.ThreadTS] = &PendingPrompt{
		Prompt:    in.Prompt,
		MsgTS:     in.MsgTS,
		ChannelID: in.ChannelID,
	}
}

func (e *Executor) popPending(threadTS string) *PendingPrompt {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pending[threadTS]
	delete(e.pending, threadTS)
	return p
}

// resumePending re-enters with the stashed prompt, if any, swapping the
// preemption emoji to the accepted one.
func (e *Executor) resumePending(ctx context.Context, threadTS string) {
	p := e.popPending(threadTS)
	if p == nil {
		return
	}
	e.logger.Info("Resuming preempted prompt", "thread_ts", threadTS, "msg_ts", p.MsgTS)
	if p.MsgTS != "" {
		e.reactions.Swap(ctx, p.ChannelID, p.MsgTS, chat.ReactionPreempt, chat.ReactionAccepted)
	}
	e.Run(ctx, RunInput{
		ThreadTS:  threadTS,
		ChannelID: p.ChannelID,
		MsgTS:     p.MsgTS,
		Prompt:    p.Prompt,
	})
}

// PreemptiveCompact compacts the thread's agent session between list-run
// cards, bounded by compactTimeout.
func (e *Executor) PreemptiveCompact(ctx context.Context, threadTS string) error {
	sess, err := e.sessions.Get(threadTS)
	if err != nil {
		return err
	}
	if sess.SessionID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, compactTimeout)
	defer cancel()
	newID, err := e.runner.CompactSession(ctx, threadTS, sess.SessionID)
	if err != nil {
		return err
	}
	e.sessions.UpdateSessionID(threadTS, newID)
	return nil
}

func blockquote(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}
