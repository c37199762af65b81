package threads

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/logger"
	"github.com/lacehq/lace/pkg/types/events"
)

// Root thread ids look like lace_20260824_k3v9qp; delegates extend a parent
// id with ".<n>".
var rootThreadIDPattern = regexp.MustCompile(`^lace_\d{8}_[a-z0-9]{6}$`)

const threadIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Manager owns thread lifecycle and is the sole writer to the event store.
type Manager struct {
	store EventStore

	// delegateMu serializes delegate-id allocation per manager so ids stay
	// monotonic under concurrent delegation. delegateHigh is the per-parent
	// high-water mark; it keeps purged indexes from being handed out again.
	delegateMu   sync.Mutex
	delegateHigh map[string]int

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewManager creates a thread manager over the given store.
func NewManager(store EventStore) *Manager {
	return &Manager{
		store:        store,
		delegateHigh: make(map[string]int),
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewThreadID generates a fresh root thread id.
func (m *Manager) NewThreadID() string {
	m.randMu.Lock()
	defer m.randMu.Unlock()

	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = threadIDAlphabet[m.rand.Intn(len(threadIDAlphabet))]
	}
	return fmt.Sprintf("lace_%s_%s", time.Now().UTC().Format("20060102"), suffix)
}

// IsRootThreadID reports whether id matches the root thread id pattern.
func IsRootThreadID(id string) bool {
	return rootThreadIDPattern.MatchString(id)
}

// CreateThread registers a new thread in the store.
func (m *Manager) CreateThread(ctx context.Context, threadID string, metadata map[string]string) error {
	if err := m.store.CreateThread(ctx, threadID, metadata); err != nil {
		return err
	}
	logger.G(ctx).WithField("thread_id", threadID).Debug("created thread")
	return nil
}

// ThreadExists reports whether the thread id is known to the store.
func (m *Manager) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	return m.store.ThreadExists(ctx, threadID)
}

// AddEvent appends one event to a thread. All writes to the event store
// flow through here.
func (m *Manager) AddEvent(ctx context.Context, threadID string, eventType events.EventType, data events.EventData) (*events.ThreadEvent, error) {
	event, err := m.store.Append(ctx, threadID, eventType, data)
	if err != nil {
		return nil, err
	}
	logger.G(ctx).WithFields(map[string]any{
		"thread_id":  threadID,
		"event_id":   event.ID,
		"event_type": eventType,
	}).Debug("appended thread event")
	return event, nil
}

// Events returns a thread's events in log order.
func (m *Manager) Events(ctx context.Context, threadID string) ([]events.ThreadEvent, error) {
	return m.store.Events(ctx, threadID)
}

// EventsMainAndDelegates returns the merged event log of a root thread and
// all of its delegates.
func (m *Manager) EventsMainAndDelegates(ctx context.Context, rootID string) ([]events.ThreadEvent, error) {
	return m.store.EventsMainAndDelegates(ctx, rootID)
}

// LatestThread returns the most recently created root thread id.
func (m *Manager) LatestThread(ctx context.Context) (string, error) {
	return m.store.LatestThread(ctx)
}

// Clear purges a whole thread. Test harness only.
func (m *Manager) Clear(ctx context.Context, threadID string) error {
	return m.store.Clear(ctx, threadID)
}

// GenerateDelegateThreadID allocates "<parent>.<n>" where n is one greater
// than the highest existing child index. Indexes are 1-based, monotonic and
// never reused, even for abandoned delegates.
func (m *Manager) GenerateDelegateThreadID(ctx context.Context, parentID string) (string, error) {
	m.delegateMu.Lock()
	defer m.delegateMu.Unlock()

	children, err := m.store.ListChildThreads(ctx, parentID)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list delegates of %s", parentID)
	}

	max := m.delegateHigh[parentID]
	prefix := parentID + "."
	for _, child := range children {
		rest := strings.TrimPrefix(child, prefix)
		// Only direct children count; grandchildren carry further dots.
		if strings.Contains(rest, ".") {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}

	delegateID := fmt.Sprintf("%s.%d", parentID, max+1)
	if err := m.store.CreateThread(ctx, delegateID, nil); err != nil {
		return "", errors.Wrapf(err, "failed to create delegate thread %s", delegateID)
	}
	m.delegateHigh[parentID] = max + 1
	return delegateID, nil
}
