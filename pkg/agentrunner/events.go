package agentrunner

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is one parsed NDJSON line from the agent CLI's
// stream-json output.
type StreamEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// ContentBlock mirrors the agent's content block types.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// parsedMessage is the message field of an assistant event.
type parsedMessage struct {
	Content []ContentBlock `json:"content"`
}

// Usage reports the context consumption of a turn.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Event type and subtype constants of the stream protocol.
const (
	eventTypeSystem    = "system"
	eventTypeAssistant = "assistant"
	eventTypeResult    = "result"
	eventTypeRateLimit = "rate_limit_event"

	subtypeInit            = "init"
	subtypeCompactBoundary = "compact_boundary"

	blockTypeText       = "text"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"
)

// Rate-limit statuses. Anything else breaks the receive loop.
const (
	rateLimitAllowed        = "allowed"
	rateLimitAllowedWarning = "allowed_warning"
)

// rateLimitAction tells the receive loop what to do with a rate-limit event.
type rateLimitAction int

const (
	rateLimitIgnore rateLimitAction = iota
	rateLimitWarn
	rateLimitAbort
)

func classifyRateLimit(status string) rateLimitAction {
	switch status {
	case rateLimitAllowed:
		return rateLimitIgnore
	case rateLimitAllowedWarning:
		return rateLimitWarn
	default:
		return rateLimitAbort
	}
}

func parseStreamEvent(line []byte) (*StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("malformed stream event: %w", err)
	}
	return &ev, nil
}

func parseAssistantBlocks(raw json.RawMessage) []ContentBlock {
	var msg parsedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	return msg.Content
}
