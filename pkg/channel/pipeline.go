// Package channel implements the channel-observer pipeline: ingested
// chatter is batched under token thresholds, folded into a rolling digest,
// judged for reactions by an LLM and gated for interventions with a
// burst/cooldown probability model.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/llm"
	"github.com/relaycrew/relay/pkg/store"
)

// Config holds the pipeline thresholds, token counts unless noted.
type Config struct {
	// BotUserID identifies the bot's own messages and reactions.
	BotUserID string
	// ThresholdA gates whether the judge runs at all.
	ThresholdA int
	// ThresholdB gates folding judged+pending into the digest.
	ThresholdB int
	// DigestMaxTokens triggers the digest compressor.
	DigestMaxTokens int
	// DigestTargetTokens is the size compression converges on.
	DigestTargetTokens int
	// DefaultReactEmoji is used when the judge omits one.
	DefaultReactEmoji string
}

// SessionCreator anchors a hybrid session at the bot's intervention reply so
// follow-ups land in that thread like a normal mention.
type SessionCreator interface {
	CreateHybridSession(channelID, threadTS, userID, username string)
}

// MentionFilter reports messages already owned by the mention flow; the
// judge must not see them.
type MentionFilter interface {
	IsMention(ts string) bool
}

// Pipeline is the per-process channel observer.
type Pipeline struct {
	store     *store.Store
	llm       llm.Completer
	counter   store.TokenCounter
	adapter   chat.Adapter
	reactions *chat.ReactionManager
	debug     *chat.DebugSink
	sessions  SessionCreator // optional
	mentions  MentionFilter  // optional
	cfg       Config
	logger    *slog.Logger

	now func() time.Time

	// One pass at a time per process; appends stay concurrent.
	passMu sync.Mutex
}

// NewPipeline creates the channel observer pipeline. sessions and mentions
// may be nil.
func NewPipeline(st *store.Store, completer llm.Completer, counter store.TokenCounter,
	adapter chat.Adapter, reactions *chat.ReactionManager, debug *chat.DebugSink,
	sessions SessionCreator, mentions MentionFilter, cfg Config) *Pipeline {
	if cfg.DefaultReactEmoji == "" {
		cfg.DefaultReactEmoji = "eyes"
	}
	return &Pipeline{
		store:     st,
		llm:       completer,
		counter:   counter,
		adapter:   adapter,
		reactions: reactions,
		debug:     debug,
		sessions:  sessions,
		mentions:  mentions,
		cfg:       cfg,
		logger:    slog.Default().With("component", "channel-observer"),
		now:       time.Now,
	}
}

// Ingest buffers one channel message (thread replies go to their thread
// buffer) and runs a pipeline pass. Duplicate ts are dropped silently.
func (p *Pipeline) Ingest(ctx context.Context, channelID string, msg store.ChannelMessage) error {
	var err error
	if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
		err = p.store.AppendThreadMessage(channelID, msg.ThreadTS, msg)
	} else {
		err = p.store.AppendPending(channelID, msg)
	}
	if err == store.ErrDuplicateTS {
		p.logger.Debug("Duplicate channel message dropped", "channel", channelID, "ts", msg.TS)
		return nil
	}
	if err != nil {
		return err
	}
	return p.Run(ctx, channelID)
}

// Run executes one pipeline pass over the channel's buffers.
func (p *Pipeline) Run(ctx context.Context, channelID string) error {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	if p.store.CountPendingTokens(channelID, p.counter) < p.cfg.ThresholdA {
		return nil
	}

	if p.cfg.ThresholdB > 0 && p.store.CountJudgedPlusPendingTokens(channelID, p.counter) > p.cfg.ThresholdB {
		if err := p.refreshDigest(ctx, channelID); err != nil {
			p.logger.Warn("Digest refresh failed", "channel", channelID, "error", err)
		}
	}

	// Snapshot: messages arriving during the pass stay pending.
	pending := p.store.LoadPending(channelID)
	threads := p.store.LoadAllThreadBuffers(channelID)

	snapshotTS := make(map[string]bool, len(pending))
	for _, m := range pending {
		snapshotTS[m.TS] = true
	}
	threadRoots := make(map[string]bool, len(threads))
	for root := range threads {
		threadRoots[root] = true
	}

	// The snapshot moves to judged no matter how the pass ends; this is the
	// only mechanism that clears pending.
	defer func() {
		if err := p.store.MoveSnapshotToJudged(channelID, snapshotTS, threadRoots); err != nil {
			p.logger.Error("Failed to move snapshot to judged", "channel", channelID, "error", err)
		}
	}()

	visible, visibleThreads := p.visibleMessages(pending, threads)
	if len(visible) == 0 && len(visibleThreads) == 0 {
		return nil
	}

	verdicts, err := p.judge(ctx, channelID, visible, visibleThreads)
	if err != nil {
		p.logger.Warn("Judge failed", "channel", channelID, "error", err)
		return nil
	}

	known := knownTS(pending, threads, p.store.LoadJudged(channelID))
	byTS := indexByTS(pending, threads)
	verdicts = p.refine(verdicts, byTS, known, snapshotTS)

	p.execute(ctx, channelID, verdicts, byTS)
	return nil
}

// visibleMessages filters out anything owned by the mention flow.
func (p *Pipeline) visibleMessages(pending []store.ChannelMessage, threads map[string][]store.ChannelMessage) ([]store.ChannelMessage, map[string][]store.ChannelMessage) {
	if p.mentions == nil {
		return pending, threads
	}
	visible := make([]store.ChannelMessage, 0, len(pending))
	for _, m := range pending {
		if p.mentions.IsMention(m.TS) || (m.ThreadTS != "" && p.mentions.IsMention(m.ThreadTS)) {
			continue
		}
		visible = append(visible, m)
	}
	visibleThreads := make(map[string][]store.ChannelMessage, len(threads))
	for root, msgs := range threads {
		if p.mentions.IsMention(root) {
			continue
		}
		visibleThreads[root] = msgs
	}
	return visible, visibleThreads
}

func (p *Pipeline) judge(ctx context.Context, channelID string, pending []store.ChannelMessage, threads map[string][]store.ChannelMessage) ([]Verdict, error) {
	digest := p.store.GetDigest(channelID)
	judged := p.store.LoadJudged(channelID)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Bot user id: %s\n\n", p.cfg.BotUserID)
	if digest.Content != "" {
		fmt.Fprintf(&sb, "Channel digest:\n%s\n\n", digest.Content)
	}
	if len(judged) > 0 {
		sb.WriteString("Already judged (context only, do not return these):\n")
		writeMessages(&sb, judged)
		sb.WriteString("\n")
	}
	sb.WriteString("Unjudged messages:\n")
	writeMessages(&sb, pending)
	for root, msgs := range threads {
		fmt.Fprintf(&sb, "\nThread %s:\n", root)
		writeMessages(&sb, msgs)
	}

	raw, err := p.llm.Complete(ctx, judgeSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	return parseVerdicts(raw)
}

// refine applies importance modifiers, prunes hallucinated links and drops
// verdicts whose target is not in the pending snapshot.
func (p *Pipeline) refine(verdicts []Verdict, byTS map[string]store.ChannelMessage, known, snapshotTS map[string]bool) []Verdict {
	out := verdicts[:0]
	for _, v := range verdicts {
		msg, inBuffers := byTS[v.TS]

		if v.RelatedToMe {
			v.Importance = min(v.Importance*2, 10)
		}
		if v.AddressedToMe && inBuffers && msg.BotID == "" {
			if v.Importance < 7 {
				v.Importance = 7
			}
			v.ReactionType = VerdictIntervene
		}

		if v.LinkedMessageTS != "" {
			if v.LinkedMessageTS == v.TS || !known[v.LinkedMessageTS] {
				v.LinkedMessageTS = ""
			}
		}

		// The judge sometimes rules on thread-only or invented messages.
		if !snapshotTS[v.TS] {
			p.logger.Debug("Verdict target not in pending snapshot, dropped", "ts", v.TS)
			continue
		}
		out = append(out, v)
	}
	return out
}

// execute runs react actions as a batch, then at most one intervene.
func (p *Pipeline) execute(ctx context.Context, channelID string, verdicts []Verdict, byTS map[string]store.ChannelMessage) {
	var best *Verdict
	for i := range verdicts {
		v := &verdicts[i]
		switch v.ReactionType {
		case VerdictReact:
			emoji := v.Emoji
			if emoji == "" {
				emoji = p.cfg.DefaultReactEmoji
			}
			if p.reactions.AddUnlessPresent(ctx, channelID, v.TS, emoji) {
				if err := p.store.RecordIntervention(channelID, store.InterventionReact, p.now()); err != nil {
					p.logger.Warn("Failed to record react intervention", "channel", channelID, "error", err)
				}
			}
		case VerdictIntervene:
			if best == nil || v.Importance > best.Importance {
				best = v
			}
		}
	}

	if best == nil {
		return
	}
	p.intervene(ctx, channelID, *best, byTS)
}

func (p *Pipeline) intervene(ctx context.Context, channelID string, v Verdict, byTS map[string]store.ChannelMessage) {
	now := p.now()
	history := p.store.LoadInterventions(channelID)
	decision := Gate(history, v.Importance, now)

	p.debug.Post(ctx, fmt.Sprintf(
		"intervention gate: channel=%s ts=%s importance=%d p=%.2f recent=%d in_burst=%t → %s",
		channelID, v.TS, v.Importance, decision.Probability, decision.RecentCount, decision.InBurst, decision.Reason))

	if !decision.Fire {
		p.logger.Info("Intervention suppressed", "channel", channelID, "ts", v.TS,
			"importance", v.Importance, "probability", decision.Probability, "reason", decision.Reason)
		return
	}

	text := v.ResponseText
	if text == "" {
		p.logger.Warn("Intervene verdict without response text", "channel", channelID, "ts", v.TS)
		return
	}

	botTS, err := p.adapter.PostMessage(ctx, channelID, v.TS, text)
	if err != nil {
		p.logger.Error("Failed to post intervention", "channel", channelID, "ts", v.TS, "error", err)
		return
	}
	if err := p.store.RecordIntervention(channelID, store.InterventionMessage, now); err != nil {
		p.logger.Warn("Failed to record intervention", "channel", channelID, "error", err)
	}

	if p.sessions != nil {
		msg := byTS[v.TS]
		p.sessions.CreateHybridSession(channelID, botTS, msg.UserID, msg.Username)
	}
	p.logger.Info("Intervention posted", "channel", channelID, "target_ts", v.TS,
		"bot_ts", botTS, "importance", v.Importance, "probability", decision.Probability)
}

// refreshDigest folds judged messages into the digest and clears judged.
func (p *Pipeline) refreshDigest(ctx context.Context, channelID string) error {
	judged := p.store.LoadJudged(channelID)
	if len(judged) == 0 {
		return nil
	}
	prior := p.store.GetDigest(channelID)

	var sb strings.Builder
	if prior.Content != "" {
		fmt.Fprintf(&sb, "Prior digest:\n%s\n\n", prior.Content)
	}
	sb.WriteString("Newly judged messages:\n")
	writeMessages(&sb, judged)

	content, err := p.llm.Complete(ctx, digestSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("digest came back empty")
	}

	now := p.now()
	digest := store.Digest{
		Content:          content,
		TokenCount:       p.counter.Count(content),
		LastDigestedAt:   now,
		LastCompressedAt: prior.LastCompressedAt,
	}

	if p.cfg.DigestMaxTokens > 0 && digest.TokenCount > p.cfg.DigestMaxTokens {
		compressed, err := p.llm.Complete(ctx, digestCompressSystemPrompt,
			fmt.Sprintf("Target size: about %d tokens.\n\n%s", p.cfg.DigestTargetTokens, content))
		if err != nil {
			p.logger.Warn("Digest compression failed", "channel", channelID, "error", err)
		} else if compressed = strings.TrimSpace(compressed); compressed != "" {
			digest.Content = compressed
			digest.TokenCount = p.counter.Count(compressed)
			digest.LastCompressedAt = &now
		}
	}

	if err := p.store.SaveDigest(channelID, digest); err != nil {
		return err
	}
	return p.store.ClearJudged(channelID)
}

func writeMessages(sb *strings.Builder, msgs []store.ChannelMessage) {
	for _, m := range msgs {
		name := m.Username
		if name == "" {
			name = m.UserID
		}
		fmt.Fprintf(sb, "[%s] %s: %s\n", m.TS, name, m.Text)
	}
}

func knownTS(pending []store.ChannelMessage, threads map[string][]store.ChannelMessage, judged []store.ChannelMessage) map[string]bool {
	known := make(map[string]bool)
	for _, m := range pending {
		known[m.TS] = true
	}
	for _, m := range judged {
		known[m.TS] = true
	}
	for _, msgs := range threads {
		for _, m := range msgs {
			known[m.TS] = true
		}
	}
	return known
}

func indexByTS(pending []store.ChannelMessage, threads map[string][]store.ChannelMessage) map[string]store.ChannelMessage {
	byTS := make(map[string]store.ChannelMessage, len(pending))
	for _, m := range pending {
		byTS[m.TS] = m
	}
	for _, msgs := range threads {
		for _, m := range msgs {
			byTS[m.TS] = m
		}
	}
	return byTS
}
