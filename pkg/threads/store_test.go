package threads

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacehq/lace/pkg/types/events"
)

func storeImplementations(t *testing.T) map[string]func(t *testing.T) EventStore {
	return map[string]func(t *testing.T) EventStore{
		"memory": func(t *testing.T) EventStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) EventStore {
			store, err := NewSQLiteStore(context.TODO(), filepath.Join(t.TempDir(), "lace.db"))
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestStoreAppendOrdering(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.TODO()
			store := newStore(t)
			require.NoError(t, store.CreateThread(ctx, "lace_20260824_aaaaaa", nil))

			for i := 0; i < 5; i++ {
				_, err := store.Append(ctx, "lace_20260824_aaaaaa", events.EventUserMessage,
					events.MessageData{Text: fmt.Sprintf("msg %d", i)})
				require.NoError(t, err)
			}

			log, err := store.Events(ctx, "lace_20260824_aaaaaa")
			require.NoError(t, err)
			require.Len(t, log, 5)

			for i, event := range log {
				assert.Equal(t, int64(i+1), event.Seq)
				assert.Equal(t, fmt.Sprintf("msg %d", i), event.Data.(events.MessageData).Text)
				if i > 0 {
					assert.False(t, event.Timestamp.Before(log[i-1].Timestamp))
				}
			}
		})
	}
}

func TestStoreAppendUnknownThread(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			_, err := store.Append(context.TODO(), "lace_20260824_zzzzzz", events.EventUserMessage,
				events.MessageData{Text: "hi"})
			assert.Error(t, err)
		})
	}
}

func TestStoreMergesDelegateEvents(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.TODO()
			store := newStore(t)
			root := "lace_20260824_aaaaaa"
			require.NoError(t, store.CreateThread(ctx, root, nil))
			require.NoError(t, store.CreateThread(ctx, root+".1", nil))

			_, err := store.Append(ctx, root, events.EventUserMessage, events.MessageData{Text: "parent"})
			require.NoError(t, err)
			_, err = store.Append(ctx, root+".1", events.EventUserMessage, events.MessageData{Text: "child"})
			require.NoError(t, err)

			merged, err := store.EventsMainAndDelegates(ctx, root)
			require.NoError(t, err)
			require.Len(t, merged, 2)

			threadIDs := []string{merged[0].ThreadID, merged[1].ThreadID}
			assert.Contains(t, threadIDs, root)
			assert.Contains(t, threadIDs, root+".1")
		})
	}
}

func TestStoreListChildThreads(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.TODO()
			store := newStore(t)
			root := "lace_20260824_aaaaaa"
			require.NoError(t, store.CreateThread(ctx, root, nil))
			require.NoError(t, store.CreateThread(ctx, root+".1", nil))
			require.NoError(t, store.CreateThread(ctx, root+".2", nil))

			children, err := store.ListChildThreads(ctx, root)
			require.NoError(t, err)
			assert.Equal(t, []string{root + ".1", root + ".2"}, children)
		})
	}
}

func TestStoreLatestThreadSkipsDelegates(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.TODO()
			store := newStore(t)
			require.NoError(t, store.CreateThread(ctx, "lace_20260824_aaaaaa", nil))
			require.NoError(t, store.CreateThread(ctx, "lace_20260824_bbbbbb", nil))
			require.NoError(t, store.CreateThread(ctx, "lace_20260824_bbbbbb.1", nil))

			latest, err := store.LatestThread(ctx)
			require.NoError(t, err)
			assert.Equal(t, "lace_20260824_bbbbbb", latest)
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.TODO()
			store := newStore(t)
			require.NoError(t, store.CreateThread(ctx, "lace_20260824_aaaaaa", nil))
			_, err := store.Append(ctx, "lace_20260824_aaaaaa", events.EventUserMessage, events.MessageData{Text: "hi"})
			require.NoError(t, err)

			require.NoError(t, store.Clear(ctx, "lace_20260824_aaaaaa"))

			exists, err := store.ThreadExists(ctx, "lace_20260824_aaaaaa")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestSQLiteStoreReopenRoundTrip(t *testing.T) {
	ctx := context.TODO()
	dbPath := filepath.Join(t.TempDir(), "lace.db")

	store, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)

	threadID := "lace_20260824_cccccc"
	require.NoError(t, store.CreateThread(ctx, threadID, nil))
	_, err = store.Append(ctx, threadID, events.EventUserMessage, events.MessageData{Text: "persist me"})
	require.NoError(t, err)
	_, err = store.Append(ctx, threadID, events.EventToolCall, events.ToolCallData{
		ID: "call_1", Name: "file_read", Arguments: []byte(`{"path":"a"}`),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	log, err := reopened.Events(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "persist me", log[0].Data.(events.MessageData).Text)
	assert.Equal(t, "call_1", log[1].Data.(events.ToolCallData).ID)

	// Sequence numbering continues after reopen.
	appended, err := reopened.Append(ctx, threadID, events.EventAgentMessage, events.MessageData{Text: "more"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), appended.Seq)
}
