// Package tokens provides deterministic token estimation for buffer bounds.
//
// The counter uses tiktoken's cl100k_base encoding as a Claude-compatible
// approximation (within ~10% of the production tokenizer). When the encoding
// data cannot be loaded it falls back to a chars/4 estimate.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token counts for UTF-8 text.
// Safe for concurrent use.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	defaultCounter *Counter
	counterOnce    sync.Once
)

// Default returns the process-wide counter instance.
func Default() *Counter {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			defaultCounter = &Counter{}
			return
		}
		defaultCounter = &Counter{encoder: enc}
	})
	return defaultCounter
}

// Count returns an upper-bound token estimate for text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder == nil {
		// chars/4 fallback, rounded up
		return (len(text) + 3) / 4
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountAll sums token estimates across multiple segments.
func (c *Counter) CountAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}
