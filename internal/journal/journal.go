// Package journal persists operation lifecycle events to SQLite, giving an
// application a queryable history of what ran against which target.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/opstream/opstream/internal/bus"
	"github.com/opstream/opstream/internal/target"
)

// Entry is one persisted lifecycle event.
type Entry struct {
	ID        string
	TargetID  int64
	Operation string
	Kind      string
	Error     string
	CreatedAt time.Time
}

// Store is a SQLite-backed event journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS operation_events (
		id TEXT PRIMARY KEY,
		target_id INTEGER NOT NULL,
		operation TEXT NOT NULL,
		kind TEXT NOT NULL,
		error TEXT,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_operation_events_target
		ON operation_events(target_id, created_at)`)
	return err
}

// Record persists one event.
func (s *Store) Record(ctx context.Context, ev *target.Event) error {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operation_events (id, target_id, operation, kind, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), ev.Target.ID(), ev.Operation, ev.Kind(), errText, ev.At,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Watch subscribes the journal to an event emitter until the returned stop
// function is called. Persistence failures are logged, never propagated to
// the event source.
func (s *Store) Watch(e *bus.Emitter[*target.Event]) (stop func()) {
	return e.Subscribe(func(ev *target.Event) {
		if err := s.Record(context.Background(), ev); err != nil {
			s.logger.Warn("journal write failed",
				slog.Int64("target_id", ev.Target.ID()),
				slog.String("operation", ev.Operation),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Events returns the persisted events for a target, oldest first.
func (s *Store) Events(ctx context.Context, targetID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, operation, kind, error, created_at
		 FROM operation_events WHERE target_id = ? ORDER BY rowid`,
		targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TargetID, &e.Operation, &e.Kind, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
