package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrew/relay/pkg/llm"
	"github.com/relaycrew/relay/pkg/store"
)

// reflect compresses a thread's observations once they exceed the
// reflection threshold, preserving priority order.
func (p *Pipeline) reflect(ctx context.Context, threadTS string) error {
	if p.cfg.ReflectionThreshold <= 0 {
		return nil
	}
	rec := p.store.GetRecord(threadTS)

	total := 0
	for _, o := range rec.Observations {
		total += p.counter.Count(o.Content)
	}
	if total <= p.cfg.ReflectionThreshold {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Target size: about %d tokens.\n\nObservations:\n", p.cfg.ReflectionTarget)
	for _, o := range rec.Observations {
		fmt.Fprintf(&sb, "%s %s\n", o.Priority, o.Content)
	}

	raw, err := p.llm.Complete(ctx, reflectorSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	var resp struct {
		Observations []itemPayload `json:"observations"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("unparseable reflector response: %w", err)
	}
	if len(resp.Observations) == 0 {
		return fmt.Errorf("reflector returned no observations")
	}

	now := time.Now()
	compressed := make([]store.Observation, 0, len(resp.Observations))
	for _, item := range resp.Observations {
		compressed = append(compressed, store.Observation{
			ID:          uuid.New().String(),
			Priority:    normalizePriority(item.Priority),
			Content:     item.Content,
			SessionDate: now.Format("2006-01-02"),
			CreatedAt:   now,
			Source:      store.SourceObserver,
		})
	}
	rec.Observations = compressed
	rec.ReflectionCount++
	p.logger.Info("Observations reflected", "thread_ts", threadTS,
		"count", len(compressed), "reflection_count", rec.ReflectionCount)
	return p.store.SaveRecord(rec)
}

// promote feeds all candidates to the LLM once their count crosses the
// promotion threshold. Promoted items join persistent memory; then ALL
// candidates are cleared — rejected items are not re-queued.
func (p *Pipeline) promote(ctx context.Context) error {
	if p.cfg.PromotionThreshold <= 0 {
		return nil
	}
	all := p.store.LoadAllCandidates()
	total := 0
	for _, cands := range all {
		total += len(cands)
	}
	if total <= p.cfg.PromotionThreshold {
		return nil
	}

	content, meta := p.store.GetPersistent()

	var sb strings.Builder
	if len(content) > 0 {
		sb.WriteString("Current long-term memory:\n")
		for _, item := range content {
			fmt.Fprintf(&sb, "%s %s\n", item.Priority, item.Content)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Candidates:\n")
	for _, cands := range all {
		for _, c := range cands {
			fmt.Fprintf(&sb, "%s %s\n", c.Priority, c.Content)
		}
	}

	raw, err := p.llm.Complete(ctx, promoterSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	var resp struct {
		Promoted []itemPayload `json:"promoted"`
		Rejected []itemPayload `json:"rejected"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("unparseable promoter response: %w", err)
	}

	now := time.Now()
	for _, item := range resp.Promoted {
		content = append(content, store.PersistentItem{
			ID:         uuid.New().String(),
			Priority:   normalizePriority(item.Priority),
			Content:    item.Content,
			PromotedAt: now,
		})
	}
	meta.TokenCount = p.persistentTokens(content)
	if err := p.store.SavePersistent(content, meta); err != nil {
		return err
	}
	// Strict at-least-one-opportunity policy: every candidate had its shot.
	if err := p.store.ClearCandidates(); err != nil {
		return err
	}
	p.logger.Info("Candidates promoted",
		"promoted", len(resp.Promoted), "rejected", len(resp.Rejected), "considered", total)
	return nil
}

// compact shrinks persistent memory once it exceeds the compaction
// threshold. The prior content is archived by SavePersistent.
func (p *Pipeline) compact(ctx context.Context) error {
	if p.cfg.CompactionThreshold <= 0 {
		return nil
	}
	content, meta := p.store.GetPersistent()
	if meta.TokenCount <= p.cfg.CompactionThreshold {
		return nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Target size: about %d tokens.\n\nMemory:\n", p.cfg.CompactionTarget)
	for _, item := range content {
		fmt.Fprintf(&sb, "%s %s\n", item.Priority, item.Content)
	}

	raw, err := p.llm.Complete(ctx, compactorSystemPrompt, sb.String())
	if err != nil {
		return err
	}
	var resp struct {
		Content []itemPayload `json:"content"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return fmt.Errorf("unparseable compactor response: %w", err)
	}
	if len(resp.Content) == 0 {
		return fmt.Errorf("compactor returned no content")
	}

	now := time.Now()
	compacted := make([]store.PersistentItem, 0, len(resp.Content))
	for _, item := range resp.Content {
		compacted = append(compacted, store.PersistentItem{
			ID:         uuid.New().String(),
			Priority:   normalizePriority(item.Priority),
			Content:    item.Content,
			PromotedAt: now,
		})
	}
	meta.TokenCount = p.persistentTokens(compacted)
	p.logger.Info("Persistent memory compacted",
		"items", len(compacted), "token_count", meta.TokenCount)
	return p.store.SavePersistent(compacted, meta)
}

func (p *Pipeline) persistentTokens(content []store.PersistentItem) int {
	total := 0
	for _, item := range content {
		total += p.counter.Count(item.Content)
	}
	return total
}
