package threads

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/types/events"
)

func TestNewThreadIDFormat(t *testing.T) {
	manager := NewManager(NewMemoryStore())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := manager.NewThreadID()
		assert.True(t, IsRootThreadID(id), "unexpected id format: %s", id)
		assert.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}
}

func TestIsRootThreadID(t *testing.T) {
	assert.True(t, IsRootThreadID("lace_20260824_k3v9qp"))
	assert.False(t, IsRootThreadID("lace_20260824_k3v9qp.1"))
	assert.False(t, IsRootThreadID("lace_2026_k3v9qp"))
	assert.False(t, IsRootThreadID("other_20260824_k3v9qp"))
}

func TestGenerateDelegateThreadIDMonotonic(t *testing.T) {
	ctx := context.TODO()
	manager := NewManager(NewMemoryStore())

	parent := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, parent, nil))

	first, err := manager.GenerateDelegateThreadID(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, parent+".1", first)

	second, err := manager.GenerateDelegateThreadID(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, parent+".2", second)

	// Abandoned delegates never free their index.
	require.NoError(t, manager.Clear(ctx, second))
	third, err := manager.GenerateDelegateThreadID(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, parent+".3", third)

	// Even with every child purged the high-water mark holds.
	require.NoError(t, manager.Clear(ctx, first))
	require.NoError(t, manager.Clear(ctx, third))
	fourth, err := manager.GenerateDelegateThreadID(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, parent+".4", fourth)
}

func TestGenerateDelegateThreadIDIgnoresGrandchildren(t *testing.T) {
	ctx := context.TODO()
	store := NewMemoryStore()
	manager := NewManager(store)

	parent := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, parent, nil))
	require.NoError(t, store.CreateThread(ctx, parent+".1", nil))
	require.NoError(t, store.CreateThread(ctx, parent+".1.7", nil))

	next, err := manager.GenerateDelegateThreadID(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, parent+".2", next)
}

func TestGenerateDelegateThreadIDConcurrent(t *testing.T) {
	ctx := context.TODO()
	manager := NewManager(NewMemoryStore())

	parent := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, parent, nil))

	var mu sync.Mutex
	ids := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := manager.GenerateDelegateThreadID(ctx, parent)
			assert.NoError(t, err)
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 10, "delegate ids must never collide")
}

func TestAddEventFlowsToStore(t *testing.T) {
	ctx := context.TODO()
	manager := NewManager(NewMemoryStore())

	threadID := manager.NewThreadID()
	require.NoError(t, manager.CreateThread(ctx, threadID, nil))

	event, err := manager.AddEvent(ctx, threadID, events.EventUserMessage, events.MessageData{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.Seq)

	log, err := manager.Events(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, *event, log[0])
}
