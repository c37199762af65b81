// Package usage accumulates per-turn and per-session token and cost
// metrics. Prompt tokens are set from the latest provider report (it
// already covers the full context); completion tokens accumulate across
// turns.
package usage

import (
	"sync"
	"time"

	llmtypes "github.com/lacehq/lace/pkg/types/llm"
)

// SessionStats is a snapshot of session-level accounting.
type SessionStats struct {
	Messages         int       `json:"messages"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CacheHits        int       `json:"cacheHits"`
	CacheCreations   int       `json:"cacheCreations"`
	CostUSD          float64   `json:"costUSD"`
	SessionStart     time.Time `json:"sessionStart"`
	LastActivity     time.Time `json:"lastActivity"`
}

// CacheHitRate returns cacheHits/(cacheHits+cacheCreations), or 0 when no
// cache activity was observed.
func (s SessionStats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheCreations
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Accountant tracks one session. Safe for concurrent use.
type Accountant struct {
	mu    sync.Mutex
	stats SessionStats

	now func() time.Time // test hook
}

// NewAccountant starts a fresh session.
func NewAccountant() *Accountant {
	a := &Accountant{now: time.Now}
	a.stats.SessionStart = a.now().UTC()
	a.stats.LastActivity = a.stats.SessionStart
	return a
}

// RecordTurn folds one turn's final provider usage into the session:
// prompt tokens are replaced, completion tokens and cache counters
// accumulate.
func (a *Accountant) RecordTurn(turnUsage llmtypes.Usage, costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Messages++
	a.stats.PromptTokens = turnUsage.PromptTokens
	a.stats.CompletionTokens += turnUsage.CompletionTokens
	a.stats.TotalTokens = a.stats.PromptTokens + a.stats.CompletionTokens
	a.stats.CacheHits += turnUsage.CacheReadTokens
	a.stats.CacheCreations += turnUsage.CacheCreationTokens
	a.stats.CostUSD += costUSD
	a.stats.LastActivity = a.now().UTC()
}

// Stats returns a snapshot of the session accounting.
func (a *Accountant) Stats() SessionStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
