package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewClampsCeiling(t *testing.T) {
	g := New(0)
	if got := g.Stats().Ceiling; got != 1 {
		t.Errorf("Ceiling = %d, want 1", got)
	}
}

func TestAcquireWithinCeiling(t *testing.T) {
	g := New(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	stats := g.Stats()
	if stats.Current != 3 || stats.Waiting != 0 || stats.MaxSeen != 3 {
		t.Errorf("Stats() = %+v, want current 3, waiting 0, maxSeen 3", stats)
	}
	if g.TryAcquire() {
		t.Error("TryAcquire() succeeded above the ceiling")
	}
}

func TestCurrentNeverExceedsCeiling(t *testing.T) {
	const ceiling = 2
	g := New(ceiling)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		peak int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			mu.Lock()
			if c := g.Stats().Current; c > peak {
				peak = c
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			g.Release()
		}()
	}
	wg.Wait()

	if peak > ceiling {
		t.Errorf("observed %d slots held, ceiling is %d", peak, ceiling)
	}
	if stats := g.Stats(); stats.Current != 0 || stats.Waiting != 0 {
		t.Errorf("Stats() after drain = %+v, want empty", stats)
	}
}

func TestReleaseResumesWaitersInArrivalOrder(t *testing.T) {
	g := New(1)
	ctx := context.Background()
	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const waiters = 5
	order := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("waiter %d: Acquire() error = %v", i, err)
				return
			}
			order <- i
		}(i)
		waitFor(t, func() bool { return g.Stats().Waiting == i+1 })
		// let the waiter reach the semaphore queue before the next one arrives
		time.Sleep(10 * time.Millisecond)
	}

	for want := 0; want < waiters; want++ {
		g.Release()
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("waiter %d resumed, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no waiter resumed after release %d", want)
		}
		select {
		case extra := <-order:
			t.Fatalf("release %d resumed a second waiter %d", want, extra)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := g.Stats().MaxSeen; got != waiters+1 {
		t.Errorf("MaxSeen = %d, want %d", got, waiters+1)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	g := New(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want deadline exceeded", err)
	}

	stats := g.Stats()
	if stats.Current != 1 || stats.Waiting != 0 {
		t.Errorf("Stats() = %+v, want current 1 and no waiter", stats)
	}
}

func TestReleaseWithoutAcquireIsNoop(t *testing.T) {
	g := New(1)
	g.Release()
	if !g.TryAcquire() {
		t.Fatal("TryAcquire() failed on an empty gate")
	}
	if g.TryAcquire() {
		t.Error("extra Release() raised the ceiling")
	}
}

func TestPassIsNetZero(t *testing.T) {
	g := New(1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	g.Pass() // at the ceiling, must not block

	stats := g.Stats()
	if stats.Current != 1 {
		t.Errorf("Current = %d after Pass, want 1", stats.Current)
	}
	if stats.MaxSeen != 2 {
		t.Errorf("MaxSeen = %d after Pass, want 2", stats.MaxSeen)
	}
}
