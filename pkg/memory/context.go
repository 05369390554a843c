package memory

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/relaycrew/relay/pkg/store"
)

// ContextParams selects which memory sections to assemble for a turn.
type ContextParams struct {
	ThreadTS                  string
	ChannelID                 string
	IncludePersistent         bool
	IncludeSession            bool
	IncludeChannelObservation bool
	// NewObservation is a one-shot note injected for this turn only.
	NewObservation string
	// MaxTokens bounds the whole injection. Later (lower-priority)
	// sections are dropped whole before earlier ones are touched.
	MaxTokens int
}

// Injection is the assembled memory prefix plus per-section token counts.
type Injection struct {
	// Prompt is empty iff no section had content.
	Prompt string

	PersistentTokens     int
	SessionTokens        int
	NewObservationTokens int
	ChannelDigestTokens  int
	ChannelBufferTokens  int
}

// ContextBuilder assembles the memory-injection prefix for a turn.
type ContextBuilder struct {
	store   *store.Store
	counter TokenCounter
	logger  *slog.Logger
}

// NewContextBuilder creates a context builder over the store.
func NewContextBuilder(st *store.Store, counter TokenCounter) *ContextBuilder {
	return &ContextBuilder{
		store:   st,
		counter: counter,
		logger:  slog.Default().With("component", "context-builder"),
	}
}

// section is one candidate block, in priority order.
type section struct {
	body   string
	tokens *int // receives the section's token count when included
}

// Build assembles the injection. Section order (highest priority first):
// long-term-memory, observational-memory, new-observation,
// channel-observation.
func (b *ContextBuilder) Build(p ContextParams) Injection {
	var inj Injection
	var sections []section

	if p.IncludePersistent {
		if body := b.persistentSection(); body != "" {
			sections = append(sections, section{body: body, tokens: &inj.PersistentTokens})
		}
	}
	if p.IncludeSession {
		if body := b.sessionSection(p.ThreadTS); body != "" {
			sections = append(sections, section{body: body, tokens: &inj.SessionTokens})
		}
	}
	if p.NewObservation != "" {
		body := fmt.Sprintf("<new-observation>\n%s\n</new-observation>", p.NewObservation)
		sections = append(sections, section{body: body, tokens: &inj.NewObservationTokens})
	}
	if p.IncludeChannelObservation && p.ChannelID != "" {
		if body, digestTokens, bufferTokens := b.channelSection(p.ChannelID); body != "" {
			sections = append(sections, section{body: body, tokens: &inj.ChannelDigestTokens})
			inj.ChannelDigestTokens = digestTokens
			inj.ChannelBufferTokens = bufferTokens
		}
	}

	var parts []string
	used := 0
	for _, s := range sections {
		cost := b.counter.Count(s.body)
		if p.MaxTokens > 0 && used+cost > p.MaxTokens {
			// Drop this and every lower-priority section whole rather
			// than truncating an earlier one.
			b.logger.Debug("Dropping context sections over budget",
				"thread_ts", p.ThreadTS, "section_tokens", cost, "used", used, "max", p.MaxTokens)
			break
		}
		parts = append(parts, s.body)
		used += cost
		if s.tokens != nil && *s.tokens == 0 {
			*s.tokens = cost
		}
	}

	inj.Prompt = strings.Join(parts, "\n\n")
	return inj
}

func (b *ContextBuilder) persistentSection() string {
	content, _ := b.store.GetPersistent()
	if len(content) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<long-term-memory>\n")
	for _, item := range content {
		fmt.Fprintf(&sb, "%s %s\n", item.Priority, item.Content)
	}
	sb.WriteString("</long-term-memory>")
	return sb.String()
}

func (b *ContextBuilder) sessionSection(threadTS string) string {
	rec := b.store.GetRecord(threadTS)
	if len(rec.Observations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<observational-memory>\n")
	for _, o := range rec.Observations {
		fmt.Fprintf(&sb, "%s [%s] %s\n", o.Priority, o.SessionDate, o.Content)
	}
	sb.WriteString("</observational-memory>")
	return sb.String()
}

func (b *ContextBuilder) channelSection(channelID string) (body string, digestTokens, bufferTokens int) {
	digest := b.store.GetDigest(channelID)
	pending := b.store.LoadPending(channelID)
	if digest.Content == "" && len(pending) == 0 {
		return "", 0, 0
	}
	var sb strings.Builder
	sb.WriteString("<channel-observation>\n")
	if digest.Content != "" {
		sb.WriteString(digest.Content)
		sb.WriteString("\n")
		digestTokens = b.counter.Count(digest.Content)
	}
	if len(pending) > 0 {
		sb.WriteString("Recent channel messages:\n")
		for _, m := range pending {
			line := fmt.Sprintf("%s: %s\n", m.Username, m.Text)
			sb.WriteString(line)
			bufferTokens += b.counter.Count(line)
		}
	}
	sb.WriteString("</channel-observation>")
	return sb.String(), digestTokens, bufferTokens
}
