// Package transcript provides SQLite-based recording of a session's message
// traffic, enabled by the --record flag. Every sent and received payload and
// each lifecycle event lands in one table that can be inspected afterwards
// with any sqlite client.
package transcript

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/lawnchairsociety/wscat/internal/logger"
)

// Directions and event markers stored in the direction column.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionEvent    = "event"
)

// Entry is one recorded row, oldest first.
type Entry struct {
	ID        int64
	Direction string
	Payload   string
}

// Recorder wraps the SQLite transcript store. A nil Recorder is valid and
// records nothing, so call sites never need to branch on whether recording
// was requested.
type Recorder struct {
	db *sql.DB
}

// Open opens or creates the transcript database at the given path.
func Open(path string) (*Recorder, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to wait for locks instead of immediately failing
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	r := &Recorder{db: db}

	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return r, nil
}

// Close closes the transcript store.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.db.Close()
}

// migrate creates the transcript schema if it doesn't exist.
func (r *Recorder) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			direction TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_direction ON messages(direction)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Sent records an outbound message.
func (r *Recorder) Sent(payload string) {
	r.record(DirectionSent, payload)
}

// Received records an inbound message.
func (r *Recorder) Received(payload string) {
	r.record(DirectionReceived, payload)
}

// Event records a lifecycle event such as "connected" or "disconnected".
func (r *Recorder) Event(description string) {
	r.record(DirectionEvent, description)
}

// record inserts one row. Recording failures are logged, never fatal.
func (r *Recorder) record(direction, payload string) {
	if r == nil {
		return
	}
	if _, err := r.db.Exec(
		"INSERT INTO messages (direction, payload) VALUES (?, ?)",
		direction, payload,
	); err != nil {
		logger.Warning("transcript write failed", "direction", direction, "error", err)
	}
}

// Entries returns all recorded rows, oldest first.
func (r *Recorder) Entries() ([]Entry, error) {
	if r == nil {
		return nil, nil
	}
	rows, err := r.db.Query("SELECT id, direction, payload FROM messages ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.Direction, &entry.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
