package memory

// System prompts for the memory pipeline stages. Each stage expects a JSON
// answer; surrounding prose is tolerated and stripped.

const observerSystemPrompt = `You observe a conversation between a user and a coding agent and
extract durable facts worth remembering about the user, their projects and their preferences.

Respond with JSON only:
{
  "observations": [{"priority": "🔴|🟡|🟢", "content": "..."}],
  "candidates":   [{"priority": "🔴|🟡|🟢", "content": "..."}]
}

"observations" are session-scoped facts. "candidates" are facts that may deserve promotion
to long-term memory. Use 🔴 for facts that change how the agent should behave, 🟡 for useful
context, 🟢 for minor color. Emit few, high-signal items. Empty lists are fine.`

const reflectorSystemPrompt = `You compress a list of session observations. Merge duplicates,
drop stale or low-value items, keep the priority ordering (🔴 before 🟡 before 🟢).

Respond with JSON only:
{"observations": [{"priority": "🔴|🟡|🟢", "content": "..."}]}

The result must be significantly shorter than the input while preserving every fact that
still matters.`

const promoterSystemPrompt = `You decide which candidate observations deserve a place in
long-term persistent memory. Promote only facts with lasting value across sessions.

Respond with JSON only:
{
  "promoted": [{"priority": "🔴|🟡|🟢", "content": "..."}],
  "rejected": [{"priority": "🔴|🟡|🟢", "content": "..."}]
}`

const compactorSystemPrompt = `You compact a long-term memory list that has grown past its
token budget. Merge related items, drop the least valuable ones, keep priority order.

Respond with JSON only:
{"content": [{"priority": "🔴|🟡|🟢", "content": "..."}]}

Converge on the requested target size.`
