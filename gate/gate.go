// Package gate bounds the number of native database connections a process
// keeps open. Waiters are admitted strictly in arrival order.
package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate is a process-wide admission counter. Every native connection holds
// one slot from the moment it is being opened until it is physically closed.
type Gate struct {
	sem     *semaphore.Weighted
	ceiling int

	mu      sync.Mutex
	current int // slots held
	waiting int // acquirers queued behind the ceiling
	maxSeen int // peak of current+waiting, diagnostics only
}

type Stats struct {
	Ceiling int
	Current int
	Waiting int
	MaxSeen int
}

// New returns a gate admitting at most ceiling connections. A ceiling below
// one is raised to one.
func New(ceiling int) *Gate {
	if ceiling < 1 {
		ceiling = 1
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(ceiling)),
		ceiling: ceiling,
	}
}

// Acquire blocks until a slot is free or ctx is done. Queued callers are
// served in the order they called Acquire.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	g.waiting++
	g.observe()
	g.mu.Unlock()

	err := g.sem.Acquire(ctx, 1)

	g.mu.Lock()
	g.waiting--
	if err == nil {
		g.current++
	}
	g.mu.Unlock()
	return err
}

// TryAcquire takes a slot only if one is free and nobody is queued.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.mu.Lock()
	g.current++
	g.observe()
	g.mu.Unlock()
	return true
}

// Pass takes and returns a transient slot in one step. It is used when a
// pooled connection is reused: the idle connection already holds a slot, so
// reuse shows up in the counters without ever queueing.
func (g *Gate) Pass() {
	g.mu.Lock()
	g.current++
	g.observe()
	g.current--
	g.mu.Unlock()
}

// Release returns a slot, resuming the oldest waiter if any. Releasing more
// slots than were acquired is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.current == 0 {
		g.mu.Unlock()
		return
	}
	g.current--
	g.mu.Unlock()
	g.sem.Release(1)
}

func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Ceiling: g.ceiling,
		Current: g.current,
		Waiting: g.waiting,
		MaxSeen: g.maxSeen,
	}
}

// observe must be called with mu held.
func (g *Gate) observe() {
	if demand := g.current + g.waiting; demand > g.maxSeen {
		g.maxSeen = demand
	}
}
