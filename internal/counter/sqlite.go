package counter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the counter store. One row per device; the row is the
// CounterRecord and is only ever advanced, never rewound.
const schema = `
CREATE TABLE IF NOT EXISTS counters (
    device_id         TEXT PRIMARY KEY,
    last_counter      INTEGER NOT NULL,
    last_accepted_ns  INTEGER NOT NULL
);
`

// SQLiteStore is the durable counter backend.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the counter database at path and applies the
// schema. WAL mode keeps concurrent readers cheap; the conditional UPDATE in
// Commit is the single writer path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create counter db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open counter db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply counter schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get retrieves the record for a device.
func (s *SQLiteStore) Get(ctx context.Context, deviceID string) (Record, bool, error) {
	var rec Record
	var acceptedNs int64

	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, last_counter, last_accepted_ns
		FROM counters WHERE device_id = ?`, deviceID,
	).Scan(&rec.DeviceID, &rec.LastCounter, &acceptedNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get counter record: %w", err)
	}

	rec.LastAcceptedAt = time.Unix(0, acceptedNs)
	return rec, true, nil
}

// Commit records counter as the last accepted value for a device. The write
// is a conditional upsert: it succeeds only when the stored value is
// strictly below the new one, so a racing commit can never rewind a device.
func (s *SQLiteStore) Commit(ctx context.Context, deviceID string, counter uint64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (device_id, last_counter, last_accepted_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_counter = excluded.last_counter,
			last_accepted_ns = excluded.last_accepted_ns
		WHERE excluded.last_counter > counters.last_counter`,
		deviceID, counter, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("commit counter: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit counter rows affected: %w", err)
	}
	if n == 0 {
		return ErrCommitConflict
	}
	return nil
}

// MemoryStore is a non-durable Store for tests and one-shot offline
// verification (attestverify), where replay state does not outlive the run.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(ctx context.Context, deviceID string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[deviceID]
	return rec, ok, nil
}

func (m *MemoryStore) Commit(ctx context.Context, deviceID string, counter uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[deviceID]; ok && rec.LastCounter >= counter {
		return ErrCommitConflict
	}
	m.records[deviceID] = Record{DeviceID: deviceID, LastCounter: counter, LastAcceptedAt: at}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
