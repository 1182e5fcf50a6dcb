// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements non-blocking token buckets keyed by
// operation class.
package ratelimit

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/webrana/webrana/pkg/config"
	werrors "github.com/webrana/webrana/pkg/errors"
)

// Limit configures one bucket: Requests tokens per Window plus Burst
// headroom.
type Limit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Capacity is the maximum number of tokens the bucket holds.
func (l Limit) Capacity() float64 {
	return float64(l.Requests + l.Burst)
}

// rate is the refill speed in tokens per second.
func (l Limit) rate() float64 {
	if l.Window <= 0 {
		return 0
	}
	return float64(l.Requests) / l.Window.Seconds()
}

// DefaultLimit applies to classes without an explicit entry.
var DefaultLimit = Limit{Requests: 60, Window: time.Minute, Burst: 10}

// LimitsFromConfig converts the ratelimit config section.
func LimitsFromConfig(in map[string]config.RateLimitConfig) map[string]Limit {
	out := make(map[string]Limit, len(in))
	for class, rc := range in {
		out[class] = Limit{Requests: rc.Requests, Window: rc.Window, Burst: rc.Burst}
	}
	return out
}

// Bucket is a single token bucket. Tokens never exceed capacity.
type Bucket struct {
	limit      Limit
	tokens     float64
	lastRefill time.Time
}

func newBucket(l Limit, now time.Time) *Bucket {
	return &Bucket{limit: l, tokens: l.Capacity(), lastRefill: now}
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.limit.Capacity(), b.tokens+elapsed*b.limit.rate())
	}
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
}

// retryAt is the earliest time one token will be available.
func (b *Bucket) retryAt(now time.Time) time.Time {
	if b.tokens >= 1 {
		return now
	}
	r := b.limit.rate()
	if r <= 0 {
		return now.Add(b.limit.Window)
	}
	wait := time.Duration(math.Ceil((1 - b.tokens) / r * float64(time.Second)))
	return now.Add(wait)
}

// Limiter holds one bucket per operation class. Buckets are created
// lazily and serialized by a single mutex.
type Limiter struct {
	mu      sync.Mutex
	clock   Clock
	limits  map[string]Limit
	buckets map[string]*Bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a Limiter from per-class limits.
func New(limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		clock:   Real(),
		limits:  make(map[string]Limit, len(limits)),
		buckets: make(map[string]*Bucket),
	}
	for class, lim := range limits {
		l.limits[class] = lim
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes one token from the class bucket. It never blocks: on an
// empty bucket it returns a RATE_LIMIT_EXCEEDED error whose RetryAt is
// the earliest time a token will be available.
func (l *Limiter) Acquire(class string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b := l.bucketLocked(class, now)
	b.refill(now)
	if b.tokens >= 1 {
		b.tokens--
		return nil
	}
	at := b.retryAt(now)
	return werrors.New(werrors.CodeRateLimit,
		fmt.Sprintf("rate limit exceeded for %s, retry after %s", class, at.Sub(now).Round(time.Millisecond)), nil).
		WithContext("class", class).
		WithRetryAt(at)
}

// Available reports the current token count of a class after refill.
func (l *Limiter) Available(class string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	b := l.bucketLocked(class, now)
	b.refill(now)
	return b.tokens
}

// Reset refills every bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*Bucket)
}

// Classes lists configured classes in sorted order.
func (l *Limiter) Classes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.limits))
	for class := range l.limits {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

func (l *Limiter) bucketLocked(class string, now time.Time) *Bucket {
	b, ok := l.buckets[class]
	if !ok {
		lim, ok := l.limits[class]
		if !ok {
			lim = DefaultLimit
		}
		b = newBucket(lim, now)
		l.buckets[class] = b
	}
	return b
}
