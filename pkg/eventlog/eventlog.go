// Package eventlog is an append-only SQLite journal of every lifecycle
// state transition: one row per (model, from, to, timestamp). It exists
// purely for operator diagnosis after the fact — "why did model X end up
// FAILED at 3am" — and is not read by any request-serving path.
//
// EventLog implements lifecycle.EventSink, so wiring it in is a matter of
// passing it as the Controller's sink.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"ember-gateway/ember/pkg/registry"
)

// Transition is one recorded state change, as returned by Recent.
type Transition struct {
	Model      string    `json:"model"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventLog is a SQLite-backed append-only journal of lifecycle
// transitions.
type EventLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path and ensures its
// schema is current.
func Open(path string, logger *slog.Logger) (*EventLog, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	e := &EventLog{db: db, logger: logger.With("component", "eventlog")}
	if err := e.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *EventLog) initialize() error {
	if _, err := e.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := e.db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := e.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := e.db.Exec(insertSchemaVersion, schemaVersion); err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}

	var version int
	if err := e.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("schema version mismatch: expected %d, got %d", schemaVersion, version)
	}
	return nil
}

// OnTransition implements lifecycle.EventSink. Write failures are logged,
// not propagated: a journaling outage must never block a state
// transition.
func (e *EventLog) OnTransition(model string, from, to registry.State) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := e.db.ExecContext(ctx,
		`INSERT INTO transitions (model, from_state, to_state, occurred_at) VALUES (?, ?, ?, ?)`,
		model, string(from), string(to), time.Now().UTC(),
	)
	if err != nil {
		e.logger.Warn("failed to record transition", "model", model, "from", from, "to", to, "error", err)
	}
}

// Recent returns the most recent transitions for model, newest first,
// capped at limit.
func (e *EventLog) Recent(ctx context.Context, model string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT model, from_state, to_state, occurred_at FROM transitions
		 WHERE model = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		model, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := make([]Transition, 0, limit)
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.Model, &t.FromState, &t.ToState, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Ping verifies the database handle is still usable, for readiness checks.
func (e *EventLog) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (e *EventLog) Close() error {
	return e.db.Close()
}
