// Package threads manages thread lifecycle, the append-only event store
// and conversation reconstruction. The thread manager is the sole writer
// to the store; every other component reads through it.
package threads

import (
	"context"

	"github.com/lacehq/lace/pkg/types/events"
)

// EventStore is the append-only persistent log of thread events.
// Implementations must make appends durable before returning and must
// reflect all prior successful appends in reads.
type EventStore interface {
	// CreateThread registers a new thread id with optional metadata.
	CreateThread(ctx context.Context, threadID string, metadata map[string]string) error
	// ThreadExists reports whether the thread id is known.
	ThreadExists(ctx context.Context, threadID string) (bool, error)
	// Append assigns the event's per-thread sequence and timestamp and
	// persists it durably.
	Append(ctx context.Context, threadID string, eventType events.EventType, data events.EventData) (*events.ThreadEvent, error)
	// Events returns the thread's events ordered by (timestamp, seq).
	Events(ctx context.Context, threadID string) ([]events.ThreadEvent, error)
	// EventsMainAndDelegates returns the union of the root thread and all
	// threads whose id begins with "<root>.", merged by (timestamp, seq).
	EventsMainAndDelegates(ctx context.Context, rootID string) ([]events.ThreadEvent, error)
	// ListChildThreads returns ids of direct and indirect delegate threads.
	ListChildThreads(ctx context.Context, parentID string) ([]string, error)
	// LatestThread returns the most recently created root thread id, or
	// empty when the store has none.
	LatestThread(ctx context.Context) (string, error)
	// Clear removes a whole thread. Test harness only.
	Clear(ctx context.Context, threadID string) error
	// Close releases store resources.
	Close() error
}
