// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit events in SQLite. The full event is kept as
// JSON so the hash chain can be re-verified byte for byte; the indexed
// columns exist for filtering.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewSQLiteStore creates a SQLite-backed audit store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			seq, event_id, ts, run_id, actor, action, skill, call_id, risk, decision, reason_class, prev_hash, hash, event_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(event.Sequence),
		event.ID,
		event.Timestamp.UTC(),
		event.RunID,
		event.Actor,
		string(event.Action),
		event.Skill,
		event.CallID,
		event.Risk,
		event.Decision,
		event.ReasonClass,
		event.PrevHash,
		event.Hash,
		string(raw),
	)
	return err
}

// List returns audit events matching the filter in sequence order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT event_json FROM audit_events`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.Action != "" {
		addFilter("action = ?", string(filter.Action))
	}
	if filter.CallID != "" {
		addFilter("call_id = ?", filter.CallID)
	}
	query += where + " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var event Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			seq INTEGER PRIMARY KEY,
			event_id TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			run_id TEXT,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			skill TEXT,
			call_id TEXT,
			risk TEXT,
			decision TEXT,
			reason_class TEXT,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			event_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_run ON audit_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
		CREATE INDEX IF NOT EXISTS idx_audit_call ON audit_events(call_id);
	`)
	return err
}
