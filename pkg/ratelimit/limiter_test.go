package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/webrana/webrana/pkg/config"
	werrors "github.com/webrana/webrana/pkg/errors"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestAcquireExhaustsCapacity(t *testing.T) {
	clk := Fake(epoch)
	l := New(map[string]Limit{"shell": {Requests: 3, Window: time.Minute, Burst: 2}}, WithClock(clk))

	for i := 0; i < 5; i++ {
		if err := l.Acquire("shell"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	err := l.Acquire("shell")
	we := werrors.AsWebranaError(err)
	if we == nil || we.Code != werrors.CodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if we.RetryAt.Before(clk.Now()) {
		t.Errorf("retry-at %v before now %v", we.RetryAt, clk.Now())
	}
	// 3 per minute: one token every 20s
	if got := we.RetryAt.Sub(clk.Now()); got != 20*time.Second {
		t.Errorf("expected 20s wait, got %s", got)
	}
}

func TestFullRefillRestoresExactlyCapacity(t *testing.T) {
	clk := Fake(epoch)
	l := New(map[string]Limit{"git": {Requests: 4, Window: time.Minute, Burst: 1}}, WithClock(clk))
	for i := 0; i < 5; i++ {
		_ = l.Acquire("git")
	}
	clk.Advance(24 * time.Hour)
	if got := l.Available("git"); got != 5 {
		t.Fatalf("expected capacity 5 after refill, got %v", got)
	}
	for i := 0; i < 5; i++ {
		if err := l.Acquire("git"); err != nil {
			t.Fatalf("acquire %d after refill failed: %v", i, err)
		}
	}
	if err := l.Acquire("git"); !werrors.IsCode(err, werrors.CodeRateLimit) {
		t.Errorf("expected exhaustion after C acquisitions, got %v", err)
	}
}

func TestPartialRefill(t *testing.T) {
	clk := Fake(epoch)
	l := New(map[string]Limit{"llm": {Requests: 60, Window: time.Minute, Burst: 0}}, WithClock(clk))
	for i := 0; i < 60; i++ {
		_ = l.Acquire("llm")
	}
	clk.Advance(2500 * time.Millisecond)
	if got := l.Available("llm"); got < 2.49 || got > 2.51 {
		t.Errorf("expected ~2.5 tokens, got %v", got)
	}
}

func TestClockGoingBackwards(t *testing.T) {
	clk := Fake(epoch)
	l := New(map[string]Limit{"x": {Requests: 1, Window: time.Second}}, WithClock(clk))
	_ = l.Acquire("x")
	clk.Set(epoch.Add(-time.Hour))
	if got := l.Available("x"); got != 0 {
		t.Errorf("backwards clock must not add tokens, got %v", got)
	}
}

func TestUnknownClassUsesDefault(t *testing.T) {
	l := New(nil, WithClock(Fake(epoch)))
	if got := l.Available("plugin"); got != DefaultLimit.Capacity() {
		t.Errorf("expected default capacity, got %v", got)
	}
}

func TestClassesAreIndependent(t *testing.T) {
	clk := Fake(epoch)
	l := New(map[string]Limit{
		"shell":     {Requests: 1, Window: time.Minute},
		"file_read": {Requests: 1, Window: time.Minute},
	}, WithClock(clk))
	_ = l.Acquire("shell")
	if err := l.Acquire("file_read"); err != nil {
		t.Errorf("file_read must not share shell bucket: %v", err)
	}
	if got := l.Classes(); len(got) != 2 || got[0] != "file_read" {
		t.Errorf("unexpected classes %v", got)
	}
	l.Reset()
	if err := l.Acquire("shell"); err != nil {
		t.Errorf("expected reset bucket, got %v", err)
	}
}

func TestConcurrentAcquireNeverOverdraws(t *testing.T) {
	l := New(map[string]Limit{"c": {Requests: 50, Window: time.Hour}}, WithClock(Fake(epoch)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("c") == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 50 {
		t.Errorf("expected exactly 50 grants, got %d", granted)
	}
}

func TestLimitsFromConfig(t *testing.T) {
	limits := LimitsFromConfig(map[string]config.RateLimitConfig{
		"shell": {Requests: 30, Window: time.Minute, Burst: 10},
	})
	if limits["shell"].Capacity() != 40 {
		t.Errorf("expected capacity 40, got %v", limits["shell"].Capacity())
	}
}
