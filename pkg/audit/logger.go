// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webrana/webrana/pkg/guardrails"
)

// Logger stamps, redacts, chains and stores events. It is the single
// writer for its store; Log calls are serialized.
type Logger struct {
	mu       sync.Mutex
	store    Store
	now      func() time.Time
	logger   *slog.Logger
	seq      uint64
	lastHash string
}

// LoggerOption configures a Logger.
type LoggerOption func(*Logger)

// WithNow injects the timestamp source.
func WithNow(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSlog mirrors every event to a structured logger at debug level.
func WithSlog(logger *slog.Logger) LoggerOption {
	return func(l *Logger) { l.logger = logger }
}

// NewLogger creates a logger that continues the chain already in store.
func NewLogger(ctx context.Context, store Store, opts ...LoggerOption) (*Logger, error) {
	if store == nil {
		return nil, fmt.Errorf("audit: store is nil")
	}
	l := &Logger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	existing, err := store.List(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("audit: resume chain: %w", err)
	}
	if n := len(existing); n > 0 {
		l.seq = existing[n-1].Sequence
		l.lastHash = existing[n-1].Hash
	}
	return l, nil
}

// Log completes the event (sequence, id, timestamp, hashes), redacts its
// detail and appends it. The stored event is returned.
func (l *Logger) Log(ctx context.Context, event Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Sequence = l.seq + 1
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Timestamp = l.now().UTC()
	if event.Actor == "" {
		event.Actor = "agent"
	}
	event.Detail = guardrails.RedactMap(event.Detail)
	event.PrevHash = l.lastHash
	hash, err := ComputeHash(event)
	if err != nil {
		return Event{}, fmt.Errorf("audit: hash: %w", err)
	}
	event.Hash = hash

	// Cancellation must not drop a decision record.
	if err := l.store.Record(context.WithoutCancel(ctx), event); err != nil {
		return Event{}, fmt.Errorf("audit: record: %w", err)
	}
	l.seq = event.Sequence
	l.lastHash = hash

	if l.logger != nil {
		l.logger.DebugContext(ctx, "audit event",
			"seq", event.Sequence,
			"action", string(event.Action),
			"skill", event.Skill,
			"decision", event.Decision,
			"risk", event.Risk,
		)
	}
	return event, nil
}

// Store returns the underlying store.
func (l *Logger) Store() Store {
	return l.store
}

// Close closes the underlying store.
func (l *Logger) Close() error {
	return l.store.Close()
}
