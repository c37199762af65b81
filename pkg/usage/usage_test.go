package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	llmtypes "github.com/lacehq/lace/pkg/types/llm"
)

func TestRecordTurnSetsPromptAccumulatesCompletion(t *testing.T) {
	accountant := NewAccountant()

	accountant.RecordTurn(llmtypes.Usage{PromptTokens: 100, CompletionTokens: 20}, 0.01)
	accountant.RecordTurn(llmtypes.Usage{PromptTokens: 150, CompletionTokens: 30}, 0.02)

	stats := accountant.Stats()
	assert.Equal(t, 2, stats.Messages)
	// Prompt tokens reflect the latest context, not a sum.
	assert.Equal(t, 150, stats.PromptTokens)
	// Completions accumulate.
	assert.Equal(t, 50, stats.CompletionTokens)
	assert.Equal(t, 200, stats.TotalTokens)
	assert.InDelta(t, 0.03, stats.CostUSD, 1e-9)
}

func TestCacheCountersAccumulate(t *testing.T) {
	accountant := NewAccountant()

	accountant.RecordTurn(llmtypes.Usage{CacheCreationTokens: 100}, 0)
	accountant.RecordTurn(llmtypes.Usage{CacheReadTokens: 80, CacheCreationTokens: 20}, 0)

	stats := accountant.Stats()
	assert.Equal(t, 80, stats.CacheHits)
	assert.Equal(t, 120, stats.CacheCreations)
	assert.InDelta(t, 0.4, stats.CacheHitRate(), 1e-9)
}

func TestCacheHitRateNoActivity(t *testing.T) {
	accountant := NewAccountant()
	assert.Zero(t, accountant.Stats().CacheHitRate())
}

func TestLastActivityAdvances(t *testing.T) {
	accountant := NewAccountant()

	base := accountant.Stats().SessionStart
	accountant.now = func() time.Time { return base.Add(time.Minute) }
	accountant.RecordTurn(llmtypes.Usage{PromptTokens: 1}, 0)

	stats := accountant.Stats()
	assert.Equal(t, base, stats.SessionStart)
	assert.Equal(t, base.Add(time.Minute), stats.LastActivity)
}
