package sim

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const createTicksTable = `
CREATE TABLE IF NOT EXISTS ticks (
    run_id      TEXT NOT NULL,
    tick        INTEGER NOT NULL,
    events      INTEGER NOT NULL,
    dropped     INTEGER NOT NULL,
    failures    INTEGER NOT NULL,
    started_at  DATETIME NOT NULL,
    duration_ns INTEGER NOT NULL,
    PRIMARY KEY (run_id, tick)
)`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    run_id      TEXT NOT NULL,
    event_id    TEXT NOT NULL,
    tick        INTEGER NOT NULL,
    finished    INTEGER NOT NULL,
    name        TEXT NOT NULL,
    agent       TEXT,
    error       TEXT,
    duration_ns INTEGER NOT NULL,
    PRIMARY KEY (run_id, event_id)
)`

const createEventsIndex = `CREATE INDEX IF NOT EXISTS idx_events_run_finished ON events (run_id, finished)`

// Compile-time interface satisfaction check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the SQLite database at dbPath and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTicksTable, createEventsTable, createEventsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RecordTick inserts a tick summary and its events in one transaction.
func (j *SQLiteJournal) RecordTick(ctx context.Context, summary TickSummary, events []EventRecord) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ticks (run_id, tick, events, dropped, failures, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, int64(summary.Tick), summary.Events, summary.Dropped, summary.Failures,
		summary.StartedAt.UTC(), int64(summary.Duration),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTickAlreadyRecorded
		}
		return fmt.Errorf("insert tick: %w", err)
	}

	if len(events) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO events (run_id, event_id, tick, finished, name, agent, error, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare event insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx,
				ev.RunID, ev.EventID, int64(ev.Tick), int64(summary.Tick), ev.Name, ev.Agent, ev.Err, int64(ev.Duration),
			); err != nil {
				return fmt.Errorf("insert event %s: %w", ev.EventID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick: %w", err)
	}
	return nil
}

// Ticks returns the summaries of runID ordered by tick.
func (j *SQLiteJournal) Ticks(ctx context.Context, runID string) ([]TickSummary, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, tick, events, dropped, failures, started_at, duration_ns
		FROM ticks WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var out []TickSummary
	for rows.Next() {
		var (
			s        TickSummary
			tick     int64
			duration int64
		)
		if err := rows.Scan(&s.RunID, &tick, &s.Events, &s.Dropped, &s.Failures, &s.StartedAt, &duration); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		s.Tick = Time(tick)
		s.Duration = time.Duration(duration)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return out, nil
}

// Events returns the records of events that finished during tick ordered by event ID.
func (j *SQLiteJournal) Events(ctx context.Context, runID string, tick Time) ([]EventRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, event_id, tick, finished, name, COALESCE(agent, ''), COALESCE(error, ''), duration_ns
		FROM events WHERE run_id = ? AND finished = ? ORDER BY event_id`, runID, int64(tick))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r        EventRecord
			t        int64
			finished int64
			duration int64
		)
		if err := rows.Scan(&r.RunID, &r.EventID, &t, &finished, &r.Name, &r.Agent, &r.Err, &duration); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Tick = Time(t)
		r.Finished = Time(finished)
		r.Duration = time.Duration(duration)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
