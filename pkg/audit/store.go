// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/webrana/webrana/pkg/config"
)

// Store persists audit events in sequence order.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
	Close() error
}

// Filter limits audit event queries. Zero values match everything.
type Filter struct {
	RunID  string
	Action Action
	CallID string
	Limit  int
}

func (f Filter) match(ev Event) bool {
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.CallID != "" && ev.CallID != f.CallID {
		return false
	}
	return true
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Open builds the store selected by the audit config section.
func Open(cfg config.AuditConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "jsonl":
		return NewJSONLStore(cfg.Path,
			WithMaxSize(int64(cfg.MaxSizeMB)*1024*1024),
			WithCompressRotated(cfg.CompressRotated))
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", cfg.Path)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLiteStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		store.ownsDB = true
		return store, nil
	default:
		return nil, fmt.Errorf("audit: unknown backend %q", cfg.Backend)
	}
}
