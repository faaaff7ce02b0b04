// Package history keeps finished downloads in a SQLite database.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tubeq/tubeq/internal/engine/types"
)

// DefaultLimit is the number of entries kept when no limit is given.
const DefaultLimit = 1000

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	preset TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	output_path TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	duration REAL NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_ts ON history(ts);
`

const columns = `id, task_id, url, title, status, preset, format, output_path, media_type, size, duration, error, ts`

// Store is a capped, newest-first list of finished downloads.
type Store struct {
	db    *sql.DB
	limit int
	mu    sync.Mutex // serializes insert+trim
}

// Open opens or creates the database at path. limit <= 0 uses DefaultLimit.
func Open(path string, limit int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	// pragmas are per connection
	db.SetMaxOpenConns(1)
	_, _ = db.Exec(`
		PRAGMA busy_timeout = 5000;
		PRAGMA journal_mode = WAL;
	`)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{db: db, limit: limit}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Limit is the maximum number of entries kept
func (s *Store) Limit() int {
	return s.limit
}

// Add inserts e and drops the oldest entries beyond the limit.
func (s *Store) Add(e types.HistoryEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO history (task_id, url, title, status, preset, format, output_path, media_type, size, duration, error, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.URL, e.Title, string(e.Status), string(e.Preset), string(e.Format),
		e.OutputPath, e.MediaType, e.Size, e.Duration, e.Error, e.Timestamp.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`DELETE FROM history WHERE id NOT IN (
		SELECT id FROM history ORDER BY ts DESC, id DESC LIMIT ?)`, s.limit); err != nil {
		return 0, fmt.Errorf("trim history: %w", err)
	}
	return id, tx.Commit()
}

// List returns up to n entries, newest first. n <= 0 returns all of them.
func (s *Store) List(n int) ([]types.HistoryEntry, error) {
	if n <= 0 {
		n = -1
	}
	rows, err := s.db.Query(`SELECT `+columns+` FROM history ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return scanEntries(rows)
}

// Search returns entries whose title or URL contains query, ignoring case.
// An empty query matches everything.
func (s *Store) Search(query string) ([]types.HistoryEntry, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List(0)
	}
	rows, err := s.db.Query(`SELECT `+columns+` FROM history
		WHERE instr(lower(title), ?) > 0 OR instr(lower(url), ?) > 0
		ORDER BY ts DESC, id DESC`, query, query)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	return scanEntries(rows)
}

// Count returns the number of stored entries
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

// Clear deletes every entry
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM history`)
	return err
}

// Export writes all entries to w as an indented JSON array.
func (s *Store) Export(w io.Writer) error {
	entries, err := s.List(0)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func scanEntries(rows *sql.Rows) ([]types.HistoryEntry, error) {
	defer rows.Close()
	var out []types.HistoryEntry
	for rows.Next() {
		var (
			e                      types.HistoryEntry
			status, preset, format string
			ts                     int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.URL, &e.Title, &status, &preset, &format,
			&e.OutputPath, &e.MediaType, &e.Size, &e.Duration, &e.Error, &ts); err != nil {
			return nil, err
		}
		e.Status = types.Status(status)
		e.Preset = types.Preset(preset)
		e.Format = types.OutputFormat(format)
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntryFor builds a history entry from a finished task.
func EntryFor(t *types.Task) types.HistoryEntry {
	snap := t.Snapshot()
	e := types.HistoryEntry{
		TaskID:     t.ID,
		URL:        t.Intent.URL,
		Title:      snap.Title,
		Status:     snap.Status,
		Preset:     t.Intent.Preset,
		Format:     t.Intent.Format,
		OutputPath: snap.OutputPath,
		Error:      snap.Error,
		Timestamp:  snap.CompletedAt,
	}
	if !snap.StartedAt.IsZero() && snap.CompletedAt.After(snap.StartedAt) {
		d := snap.CompletedAt.Sub(snap.StartedAt).Seconds()
		e.Duration = float64(int64(d*10+0.5)) / 10
	}
	return e
}
