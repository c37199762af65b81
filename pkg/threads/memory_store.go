package threads

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/types/events"
)

// MemoryStore is an in-memory EventStore indistinguishable to consumers
// from the SQLite store. Used by tests and --no-persist sessions.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[string][]events.ThreadEvent
	threads map[string]threadMeta
	order   []string // thread creation order
	lastTS  map[string]time.Time
}

type threadMeta struct {
	createdAt time.Time
	metadata  map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string][]events.ThreadEvent),
		threads: make(map[string]threadMeta),
		lastTS:  make(map[string]time.Time),
	}
}

// CreateThread registers a new thread id.
func (s *MemoryStore) CreateThread(_ context.Context, threadID string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[threadID]; exists {
		return errors.Errorf("thread already exists: %s", threadID)
	}
	s.threads[threadID] = threadMeta{createdAt: time.Now().UTC(), metadata: metadata}
	s.order = append(s.order, threadID)
	return nil
}

// ThreadExists reports whether the thread id is known.
func (s *MemoryStore) ThreadExists(_ context.Context, threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.threads[threadID]
	return exists, nil
}

// Append stores an event with a per-thread monotonic sequence and a
// non-decreasing timestamp.
func (s *MemoryStore) Append(_ context.Context, threadID string, eventType events.EventType, data events.EventData) (*events.ThreadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[threadID]; !exists {
		return nil, errors.Errorf("unknown thread: %s", threadID)
	}

	seq := int64(len(s.events[threadID]) + 1)
	ts := time.Now().UTC()
	if last := s.lastTS[threadID]; ts.Before(last) {
		ts = last
	}
	s.lastTS[threadID] = ts

	event := events.ThreadEvent{
		ID:        fmt.Sprintf("evt_%d", seq),
		Seq:       seq,
		ThreadID:  threadID,
		Type:      eventType,
		Timestamp: ts,
		Data:      data,
	}
	s.events[threadID] = append(s.events[threadID], event)
	return &event, nil
}

// Events returns a copy of the thread's events in append order.
func (s *MemoryStore) Events(_ context.Context, threadID string) ([]events.ThreadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.events[threadID]
	out := make([]events.ThreadEvent, len(stored))
	copy(out, stored)
	return out, nil
}

// EventsMainAndDelegates merges the root thread and all "<root>.*" threads
// by (timestamp, thread, seq).
func (s *MemoryStore) EventsMainAndDelegates(_ context.Context, rootID string) ([]events.ThreadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var merged []events.ThreadEvent
	prefix := rootID + "."
	for threadID, stored := range s.events {
		if threadID == rootID || strings.HasPrefix(threadID, prefix) {
			merged = append(merged, stored...)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		if merged[i].ThreadID != merged[j].ThreadID {
			return merged[i].ThreadID < merged[j].ThreadID
		}
		return merged[i].Seq < merged[j].Seq
	})
	return merged, nil
}

// ListChildThreads returns ids of threads under the parent prefix.
func (s *MemoryStore) ListChildThreads(_ context.Context, parentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var children []string
	prefix := parentID + "."
	for threadID := range s.threads {
		if strings.HasPrefix(threadID, prefix) {
			children = append(children, threadID)
		}
	}
	sort.Strings(children)
	return children, nil
}

// LatestThread returns the most recently created root thread id.
func (s *MemoryStore) LatestThread(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.order) - 1; i >= 0; i-- {
		if !strings.Contains(s.order[i], ".") {
			return s.order[i], nil
		}
	}
	return "", nil
}

// Clear removes a whole thread. Test harness only.
func (s *MemoryStore) Clear(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, threadID)
	delete(s.threads, threadID)
	delete(s.lastTS, threadID)
	for i, id := range s.order {
		if id == threadID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
