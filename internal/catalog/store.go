// Package catalog keeps a SQLite index of saved recordings.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nupi-ai/voice-recorder/internal/notify"
)

const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		fileName TEXT NOT NULL UNIQUE,
		bytes INTEGER NOT NULL,
		durationMs INTEGER NOT NULL,
		voicedSeconds INTEGER NOT NULL,
		reason TEXT NOT NULL,
		savedAt REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS recordings_saved_at ON recordings(savedAt);
`

// Recording is one catalog row.
type Recording struct {
	ID            uuid.UUID
	FileName      string
	Bytes         int64
	Duration      time.Duration
	VoicedSeconds int
	Reason        string
	SavedAt       time.Time
}

// Store is the recordings index.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts ev. Recording the same event twice is a no-op.
func (s *Store) Record(ctx context.Context, ev notify.FileSavedEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (id, fileName, bytes, durationMs, voicedSeconds, reason, savedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID.String(), ev.FileName, ev.Bytes, ev.Duration.Milliseconds(), ev.VoicedSeconds, ev.Reason, unixFromTime(ev.SavedAt))
	if err != nil {
		return fmt.Errorf("catalog: insert %s: %w", ev.FileName, err)
	}
	return nil
}

// List returns the newest recordings first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fileName, bytes, durationMs, voicedSeconds, reason, savedAt
		FROM recordings
		ORDER BY savedAt DESC, fileName DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var (
			r          Recording
			id         string
			durationMs int64
			savedAt    float64
		)
		if err := rows.Scan(&id, &r.FileName, &r.Bytes, &durationMs, &r.VoicedSeconds, &r.Reason, &savedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan recording: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("catalog: recording %s has bad id: %w", r.FileName, err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.SavedAt = timeFromUnix(savedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Consume records every event from ch until ch is closed or ctx is done.
// Insert failures are logged and skipped.
func (s *Store) Consume(ctx context.Context, ch <-chan notify.FileSavedEvent, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Record(context.WithoutCancel(ctx), ev); err != nil {
				logger.Error("failed to index recording", "file_name", ev.FileName, "error", err)
				continue
			}
			logger.Debug("recording indexed", "file_name", ev.FileName)
		}
	}
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9/1e3))*1e3)
}
