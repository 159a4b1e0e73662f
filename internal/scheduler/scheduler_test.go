package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCache struct {
	calls   atomic.Int32
	removed int
	err     error
	lastNow atomic.Value
}

func (f *fakeCache) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	f.calls.Add(1)
	f.lastNow.Store(now)
	return f.removed, f.err
}

func TestSweep(t *testing.T) {
	cache := &fakeCache{removed: 3}
	s := New(cache, time.Minute)
	fixed := time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Sweep() = %d, want 3", n)
	}
	if got := cache.lastNow.Load().(time.Time); !got.Equal(fixed) {
		t.Errorf("DeleteExpired called with %v, want %v", got, fixed)
	}
}

func TestSweepError(t *testing.T) {
	cache := &fakeCache{err: errors.New("database is down")}
	if _, err := New(cache, time.Minute).Sweep(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestStartRunsImmediately(t *testing.T) {
	cache := &fakeCache{}
	s := New(cache, time.Hour)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for cache.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if cache.calls.Load() == 0 {
		t.Error("sweep did not run after Start")
	}
}

func TestDefaultInterval(t *testing.T) {
	if s := New(&fakeCache{}, 0); s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
}
