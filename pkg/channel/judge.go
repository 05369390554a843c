package channel

import (
	"encoding/json"
	"fmt"

	"github.com/relaycrew/relay/pkg/llm"
)

// Verdict reaction types.
const (
	VerdictReact     = "react"
	VerdictIntervene = "intervene"
)

// Verdict is the judge's ruling on one channel message.
type Verdict struct {
	TS              string `json:"ts"`
	ReactionType    string `json:"reaction_type"`
	Emoji           string `json:"emoji,omitempty"`
	Importance      int    `json:"importance"`
	RelatedToMe     bool   `json:"related_to_me"`
	AddressedToMe   bool   `json:"addressed_to_me"`
	LinkedMessageTS string `json:"linked_message_ts,omitempty"`
	ResponseText    string `json:"response_text,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

const judgeSystemPrompt = `You watch a chat channel on behalf of a coding assistant bot and judge
which messages deserve a reaction emoji and which deserve an actual reply (an intervention).

You are given the channel digest, recent judged history, the unjudged messages and any thread
buffers, plus the bot's own user id. Never react to or intervene on the bot's own messages.

Respond with JSON only:
{"items": [{
  "ts": "<message ts>",
  "reaction_type": "react" | "intervene",
  "emoji": "<emoji name, react only>",
  "importance": 1-10,
  "related_to_me": true|false,
  "addressed_to_me": true|false,
  "linked_message_ts": "<ts of a message this one answers, optional>",
  "response_text": "<reply text, intervene only>",
  "reason": "<one short line>"
}]}

Be sparing: most messages deserve nothing. An empty list is a fine answer.`

const digestSystemPrompt = `You maintain a rolling digest of a chat channel for a coding assistant
bot. Fold the newly judged messages into the prior digest: keep who is working on what, decisions,
blockers and running jokes that aid comprehension. Drop play-by-play. Respond with the digest text
only, no preamble.`

const digestCompressSystemPrompt = `You shrink a channel digest that has grown past its token
budget. Keep decisions and durable context, drop detail. Respond with the digest text only.`

// parseVerdicts extracts the judge's item list from a raw completion.
func parseVerdicts(raw string) ([]Verdict, error) {
	var resp struct {
		Items []Verdict `json:"items"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("unparseable judge response: %w", err)
	}
	return resp.Items, nil
}
