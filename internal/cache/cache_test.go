package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kingrea/shipyard/internal/procexec"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func TestCacheExpiresWithInjectedClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[int](time.Minute, clock.Now)
	c.Set("balance", 42)
	if v, ok := c.Get("balance"); !ok || v != 42 {
		t.Fatalf("Get = %v, %v; want 42, true", v, ok)
	}
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("balance"); !ok {
		t.Fatalf("entry expired early")
	}
	clock.Advance(time.Second)
	if _, ok := c.Get("balance"); ok {
		t.Fatalf("entry should expire exactly at TTL")
	}
	stats := c.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Sets != 1 || stats.CurrentSize != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCacheInvalidateAndClear(t *testing.T) {
	c := New[string](time.Hour, nil)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("a should be invalidated")
	}
	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should be cleared")
	}
}

func TestCommandCacheRunsOncePerTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	calls := 0
	runner := procexec.RunnerFunc(func(context.Context, procexec.Command) (procexec.Result, error) {
		calls++
		return procexec.Result{Stdout: "  12.5 SOL\n"}, nil
	})
	cc := NewCommandCache(runner, procexec.Command{Name: "wallet", Args: []string{"balance"}}, 30*time.Second, clock.Now)
	for i := 0; i < 3; i++ {
		got, err := cc.Output(context.Background())
		if err != nil || got != "12.5 SOL" {
			t.Fatalf("Output = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("runner called %d times, want 1", calls)
	}
	clock.Advance(31 * time.Second)
	if _, err := cc.Output(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cc.Invalidate()
	if _, err := cc.Output(context.Background()); err != nil {
		t.Fatalf("after invalidate: %v", err)
	}
	if calls != 3 {
		t.Fatalf("runner called %d times, want 3", calls)
	}
}

func TestCommandCacheDoesNotCacheFailures(t *testing.T) {
	calls := 0
	runner := procexec.RunnerFunc(func(context.Context, procexec.Command) (procexec.Result, error) {
		calls++
		if calls == 1 {
			return procexec.Result{}, errors.New("boom")
		}
		return procexec.Result{Stdout: "ok"}, nil
	})
	cc := NewCommandCache(runner, procexec.Command{Name: "tool"}, time.Minute, nil)
	if _, err := cc.Output(context.Background()); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if got, err := cc.Output(context.Background()); err != nil || got != "ok" {
		t.Fatalf("second call = %q, %v", got, err)
	}
}
