package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/lacehq/lace/pkg/db"
	"github.com/lacehq/lace/pkg/types/events"
)

// SQLiteStore persists thread events in a SQLite database. WAL mode with a
// single writer gives durable, crash-safe appends; reads reflect all prior
// successful appends.
type SQLiteStore struct {
	db *sqlx.DB

	mu     sync.Mutex
	lastTS map[string]int64 // unix nanos, keeps timestamps non-decreasing
}

var storeMigrations = []db.Migration{
	{
		Version:     20250301120000,
		Description: "create threads and thread_events tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS threads (
					id TEXT PRIMARY KEY,
					created_at INTEGER NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}'
				);
				CREATE TABLE IF NOT EXISTS thread_events (
					thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
					seq INTEGER NOT NULL,
					event_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					data TEXT NOT NULL,
					PRIMARY KEY (thread_id, seq)
				);
				CREATE INDEX IF NOT EXISTS idx_thread_events_timestamp
					ON thread_events(thread_id, timestamp, seq);
			`)
			return err
		},
	},
}

type eventRow struct {
	ThreadID  string `db:"thread_id"`
	Seq       int64  `db:"seq"`
	EventID   string `db:"event_id"`
	EventType string `db:"event_type"`
	Timestamp int64  `db:"timestamp"`
	Data      string `db:"data"`
}

// NewSQLiteStore opens (or creates) the store at dbPath and applies
// migrations. Failures surface as ErrStorageUnavailable: the engine must
// not start on a corrupt or unreachable store.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	sqlDB, err := db.Open(ctx, dbPath)
	if err != nil {
		return nil, errors.Wrapf(events.ErrStorageUnavailable, "failed to open event store: %v", err)
	}

	runner := db.NewMigrationRunner(sqlDB)
	if err := runner.Run(ctx, storeMigrations); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(events.ErrStorageUnavailable, "failed to migrate event store: %v", err)
	}

	return &SQLiteStore{db: sqlDB, lastTS: make(map[string]int64)}, nil
}

// CreateThread registers a new thread id with optional metadata.
func (s *SQLiteStore) CreateThread(ctx context.Context, threadID string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal thread metadata")
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO threads (id, created_at, metadata) VALUES (?, ?, ?)",
		threadID, time.Now().UTC().UnixNano(), string(raw))
	return errors.Wrapf(err, "failed to create thread %s", threadID)
}

// ThreadExists reports whether the thread id is known.
func (s *SQLiteStore) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM threads WHERE id = ?", threadID); err != nil {
		return false, errors.Wrap(err, "failed to query thread")
	}
	return count > 0, nil
}

// Append persists one event inside a transaction, assigning the next
// per-thread sequence and a non-decreasing timestamp. The WAL commit is
// the durability barrier.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, eventType events.EventType, data events.EventData) (*events.ThreadEvent, error) {
	raw, err := events.MarshalData(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin append transaction")
	}
	defer tx.Rollback()

	var seq int64
	err = tx.GetContext(ctx, &seq,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM thread_events WHERE thread_id = ?", threadID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate event sequence")
	}

	ts := time.Now().UTC().UnixNano()
	if last := s.lastTS[threadID]; ts < last {
		ts = last
	}

	eventID := fmt.Sprintf("evt_%d", seq)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_events (thread_id, seq, event_id, event_type, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		threadID, seq, eventID, string(eventType), ts, string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to append event to thread %s", threadID)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit event append")
	}
	s.lastTS[threadID] = ts

	return &events.ThreadEvent{
		ID:        eventID,
		Seq:       seq,
		ThreadID:  threadID,
		Type:      eventType,
		Timestamp: time.Unix(0, ts).UTC(),
		Data:      data,
	}, nil
}

// Events returns the thread's events ordered by (timestamp, seq).
func (s *SQLiteStore) Events(ctx context.Context, threadID string) ([]events.ThreadEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT thread_id, seq, event_id, event_type, timestamp, data
		FROM thread_events WHERE thread_id = ?
		ORDER BY timestamp, seq`, threadID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load events for thread %s", threadID)
	}
	return decodeRows(rows)
}

// EventsMainAndDelegates merges the root thread and all "<root>.*" threads
// by timestamp.
func (s *SQLiteStore) EventsMainAndDelegates(ctx context.Context, rootID string) ([]events.ThreadEvent, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT thread_id, seq, event_id, event_type, timestamp, data
		FROM thread_events WHERE thread_id = ? OR thread_id LIKE ? || '.%'
		ORDER BY timestamp, thread_id, seq`, rootID, rootID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load events for thread tree %s", rootID)
	}
	return decodeRows(rows)
}

// ListChildThreads returns ids of threads under the parent prefix.
func (s *SQLiteStore) ListChildThreads(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM threads WHERE id LIKE ? || '.%' ORDER BY id", parentID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list child threads of %s", parentID)
	}
	return ids, nil
}

// LatestThread returns the most recently created root thread id.
func (s *SQLiteStore) LatestThread(ctx context.Context) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM threads WHERE id NOT LIKE '%.%'
		ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to query latest thread")
	}
	return id, nil
}

// Clear removes a whole thread and its events. Test harness only.
func (s *SQLiteStore) Clear(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", threadID)
	return errors.Wrapf(err, "failed to clear thread %s", threadID)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeRows(rows []eventRow) ([]events.ThreadEvent, error) {
	out := make([]events.ThreadEvent, 0, len(rows))
	for _, row := range rows {
		data, err := events.UnmarshalData(events.EventType(row.EventType), []byte(row.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, events.ThreadEvent{
			ID:        row.EventID,
			Seq:       row.Seq,
			ThreadID:  row.ThreadID,
			Type:      events.EventType(row.EventType),
			Timestamp: time.Unix(0, row.Timestamp).UTC(),
			Data:      data,
		})
	}
	return out, nil
}
