// Package memory converts agent conversation turns into tiered memory:
// per-session observations, long-term persistent memory and per-channel
// digests, with token-bounded compaction.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrew/relay/pkg/llm"
	"github.com/relaycrew/relay/pkg/store"
)

// Message is one conversation row handed to the pipeline.
type Message struct {
	Role    string
	Content string
}

// Config holds the pipeline thresholds, all token counts unless noted.
type Config struct {
	// MinTurnTokens gates whether the observer runs at all.
	MinTurnTokens int
	// ReflectionThreshold triggers observation compression.
	ReflectionThreshold int
	// ReflectionTarget is the size reflection converges on.
	ReflectionTarget int
	// PromotionThreshold is a candidate COUNT across all threads.
	PromotionThreshold int
	// CompactionThreshold triggers persistent-memory compaction.
	CompactionThreshold int
	// CompactionTarget is the size compaction converges on.
	CompactionTarget int
}

// TokenCounter estimates token counts.
type TokenCounter interface {
	Count(text string) int
}

// Pipeline runs the Observer → Reflector → Promoter → Compactor chain.
type Pipeline struct {
	store   *store.Store
	llm     llm.Completer
	counter TokenCounter
	cfg     Config
	logger  *slog.Logger
}

// NewPipeline creates the memory pipeline.
func NewPipeline(st *store.Store, completer llm.Completer, counter TokenCounter, cfg Config) *Pipeline {
	return &Pipeline{
		store:   st,
		llm:     completer,
		counter: counter,
		cfg:     cfg,
		logger:  slog.Default().With("component", "memory-pipeline"),
	}
}

// FilterConversation strips tool_use and tool_result rows, keeping only the
// user prompt and pure assistant text.
func FilterConversation(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.HasPrefix(m.Content, "[tool_use:") || strings.HasPrefix(m.Content, "[tool_result]") {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ProcessTurn runs the pipeline for one completed turn. Returns false only
// when the Observer itself failed; optional-stage failures are swallowed.
func (p *Pipeline) ProcessTurn(ctx context.Context, threadTS, userID string, messages []Message) bool {
	filtered := FilterConversation(messages)

	turnTokens := 0
	for _, m := range filtered {
		turnTokens += p.counter.Count(m.Content)
	}
	if turnTokens < p.cfg.MinTurnTokens {
		p.logger.Debug("Turn below observation threshold", "thread_ts", threadTS, "tokens", turnTokens)
		return true
	}

	if err := p.observe(ctx, threadTS, userID, filtered); err != nil {
		p.logger.Error("Observer failed", "thread_ts", threadTS, "error", err)
		return false
	}

	p.runOptional("reflector", func() error { return p.reflect(ctx, threadTS) })
	p.runOptional("promoter", func() error { return p.promote(ctx) })
	p.runOptional("compactor", func() error { return p.compact(ctx) })
	return true
}

// runOptional isolates an optional stage: its failure never aborts the
// earlier stages or the caller.
func (p *Pipeline) runOptional(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Memory stage panicked", "stage", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		p.logger.Warn("Memory stage failed", "stage", name, "error", err)
	}
}

// observerResponse is the Observer's expected JSON shape.
type observerResponse struct {
	Observations []itemPayload `json:"observations"`
	Candidates   []itemPayload `json:"candidates"`
}

type itemPayload struct {
	Priority string `json:"priority"`
	Content  string `json:"content"`
}

func (p *Pipeline) observe(ctx context.Context, threadTS, userID string, messages []Message) error {
	rec := p.store.GetRecord(threadTS)
	if rec.UserID == "" {
		rec.UserID = userID
	}

	var sb strings.Builder
	if len(rec.Observations) > 0 {
		sb.WriteString("Existing observations:\n")
		for _, o := range rec.Observations {
			fmt.Fprintf(&sb, "%s %s\n", o.Priority, o.Content)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Conversation:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	raw, err := p.llm.Complete(ctx, observerSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	var resp observerResponse
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("unparseable observer response: %w", err)
	}

	now := time.Now()
	for _, item := range resp.Observations {
		rec.Observations = append(rec.Observations, store.Observation{
			ID:          uuid.New().String(),
			Priority:    normalizePriority(item.Priority),
			Content:     item.Content,
			SessionDate: now.Format("2006-01-02"),
			CreatedAt:   now,
			Source:      store.SourceObserver,
		})
	}
	rec.TotalSessionsObserved++
	if err := p.store.SaveRecord(rec); err != nil {
		return err
	}

	if len(resp.Candidates) > 0 {
		cands := make([]store.Candidate, 0, len(resp.Candidates))
		for _, c := range resp.Candidates {
			cands = append(cands, store.Candidate{
				TS:       fmt.Sprintf("%d", now.UnixNano()),
				Priority: normalizePriority(c.Priority),
				Content:  c.Content,
			})
		}
		if err := p.store.AppendCandidates(threadTS, cands); err != nil {
			return err
		}
	}

	p.logger.Info("Turn observed", "thread_ts", threadTS,
		"new_observations", len(resp.Observations), "new_candidates", len(resp.Candidates))
	return nil
}

func normalizePriority(p string) string {
	switch p {
	case store.PriorityHigh, store.PriorityMedium, store.PriorityLow:
		return p
	}
	return store.PriorityMedium
}
