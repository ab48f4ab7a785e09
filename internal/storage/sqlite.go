package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so start_time sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// HistoryStore keeps a log of dispatched commands
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates or opens SQLite database
func NewHistoryStore(path string) (*HistoryStore, error) {
	if path == "" {
		path = "cronexec-history.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &HistoryStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if not exist
func (s *HistoryStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatch_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		command TEXT NOT NULL,
		start_time TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_start_time ON dispatch_history(start_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save stores a dispatch record
func (s *HistoryStore) Save(rec models.DispatchRecord) error {
	query := `
	INSERT INTO dispatch_history (run_id, command, start_time, duration_ns, error)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		duration_ns = excluded.duration_ns,
		error = excluded.error
	`

	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}

	_, err := s.db.Exec(query,
		rec.RunID,
		rec.Command,
		rec.StartTime.UTC().Format(timeLayout),
		int64(rec.Duration),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to save dispatch record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first
func (s *HistoryStore) Recent(limit int) ([]models.DispatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT run_id, command, start_time, duration_ns, error
	FROM dispatch_history
	ORDER BY start_time DESC, id DESC
	LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DispatchRecord
	for rows.Next() {
		var (
			rec     models.DispatchRecord
			ts      string
			dur     int64
			errText sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Command, &ts, &dur, &errText); err != nil {
			return nil, err
		}
		rec.StartTime, err = time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("bad start_time %q: %w", ts, err)
		}
		rec.Duration = time.Duration(dur)
		rec.Error = errText.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the database
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
