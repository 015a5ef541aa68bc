package zombiezen

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Shutdown stops admission, closes idle connections and then every handle
// still open, without vacuum passes. A handle busy on another goroutine is
// closed once its running statement returns. It returns ctx.Err() if ctx
// ends before all handles are closed. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.shuttingDown = true
	handles := make([]*Handle, 0, len(m.handles))
	for h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	m.logger.Info(m.fmt.Start("shutting down"), "open_handles", len(handles), "idle", m.idle.counts())

	drainErr := m.idle.drain()

	errs := make([]error, len(handles))
	var g errgroup.Group
	g.SetLimit(m.gate.Stats().Ceiling)
	for i, h := range handles {
		g.Go(func() error {
			if err := h.Close(true); err != nil {
				errs[i] = fmt.Errorf("close %s: %w", h.name, err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Error(m.fmt.Fail("shutdown timed out"), "error", ctx.Err())
		return ctx.Err()
	}

	stats := m.Stats()
	m.logger.Info(m.fmt.Complete("all connections closed"),
		"max_tagstore_size", stats.MaxTagStoreSize,
		"max_seen", stats.Gate.MaxSeen,
		"reused", stats.Reused,
		"hot_statements", stats.HotStatements,
	)
	return errors.Join(append(errs, drainErr)...)
}
