package chat

import (
	"context"
	"strings"
)

// MaxMessageLen is the largest chunk posted in one message.
const MaxMessageLen = 3900

// SendLongMessage posts text as one or more chunks no longer than
// MaxMessageLen, preferring newline boundaries. Returns the ts of the first
// chunk.
func SendLongMessage(ctx context.Context, adapter Adapter, channelID, threadTS, text string) (string, error) {
	chunks := SplitMessage(text, MaxMessageLen)
	firstTS := ""
	for _, chunk := range chunks {
		ts, err := adapter.PostMessage(ctx, channelID, threadTS, chunk)
		if err != nil {
			return firstTS, err
		}
		if firstTS == "" {
			firstTS = ts
			// Follow-up chunks thread under the first one when the caller
			// did not already give a thread.
			if threadTS == "" {
				threadTS = ts
			}
		}
	}
	return firstTS, nil
}

// SplitMessage splits text into chunks of at most limit characters, breaking
// at the last newline inside the window when one exists.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > 0 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
