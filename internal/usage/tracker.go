package usage

import (
	"sync"

	"github.com/kdduha/eyeris/internal/metrics"
)

// Totals are cumulative token counters for one provider.
type Totals struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Tracker accumulates token usage across requests for the process lifetime.
type Tracker struct {
	mu     sync.Mutex
	totals map[string]Totals
}

func NewTracker() *Tracker {
	return &Tracker{totals: make(map[string]Totals)}
}

func (t *Tracker) Add(provider string, prompt, completion, total int64) {
	t.mu.Lock()
	cur := t.totals[provider]
	cur.Requests++
	cur.PromptTokens += prompt
	cur.CompletionTokens += completion
	cur.TotalTokens += total
	t.totals[provider] = cur
	t.mu.Unlock()

	metrics.Tokens(provider, prompt, completion)
}

// Snapshot returns a copy of the per-provider totals.
func (t *Tracker) Snapshot() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Totals, len(t.totals))
	for name, totals := range t.totals {
		out[name] = totals
	}
	return out
}
