package zombiezen

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/caasmo/litepool/db"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Handle is one native connection to a database file, with its statement
// cache and registered functions. Operations on one Handle are serialized,
// so a Handle can be closed by Manager.Shutdown while another goroutine uses
// it; parallel work against a file goes through BorrowedTransaction or a
// separate Manager.Open.
//
// Handles are obtained from a Manager. The zero Handle is unusable.
type Handle struct {
	mgr     *Manager
	name    string
	file    string
	creator *Handle // nil for an original handle

	mu        sync.Mutex // held by every operation on conn, so Close waits for it
	conn      *sqlite.Conn
	tags      *TagStore
	fnMu      sync.Mutex
	functions map[string]registeredFunction
}

func newHandle(mgr *Manager, name, file string, creator *Handle) *Handle {
	return &Handle{
		mgr:       mgr,
		name:      name,
		file:      file,
		creator:   creator,
		functions: make(map[string]registeredFunction),
	}
}

func (h *Handle) Name() string { return h.name }

// File is the absolute path of the database file.
func (h *Handle) File() string { return h.file }

func (h *Handle) IsSecondary() bool { return h.creator != nil }

func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// InTransaction reports whether the connection is inside a transaction,
// however it was started.
func (h *Handle) InTransaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && !h.conn.AutocommitEnabled()
}

// TagStore returns the statement cache, nil while the handle is closed.
func (h *Handle) TagStore() *TagStore {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tags
}

// lock takes h.mu for an operation on the open connection. On error the
// mutex is not held.
func (h *Handle) lock() error {
	if h.mgr == nil {
		return db.ErrConstructionMisuse
	}
	h.mu.Lock()
	if h.conn == nil {
		h.mu.Unlock()
		return db.ErrNotOpen
	}
	return nil
}

// Open attaches a native connection if the handle is closed: an idle pooled
// connection of the same file when there is one, a new connection admitted
// by the gate otherwise. Registered functions are replayed on it.
func (h *Handle) Open(ctx context.Context) error {
	if h.mgr == nil {
		return db.ErrConstructionMisuse
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return nil
	}

	conn, err := h.mgr.acquireConn(ctx, h.file)
	if err != nil {
		return err
	}
	if err := h.replayFunctions(conn); err != nil {
		h.mgr.discardConn(conn)
		return err
	}
	if err := h.mgr.track(h); err != nil {
		h.mgr.discardConn(conn)
		return err
	}

	h.conn = conn
	h.tags = newTagStore(conn, h.mgr.cfg.Get().TagStoreCapacity)
	h.tags.onSize = h.mgr.observeTagStoreSize
	h.tags.onUse = h.mgr.recordStatement
	return nil
}

// Close hands the native connection back to the pool. An open transaction is
// rolled back, including one begun with a plain BEGIN statement. Unless
// skipVacuum is set an incremental vacuum pass reclaims free pages first,
// then the write-ahead log is checkpointed. Observers are notified before the
// connection leaves the handle. Close waits for an operation running on
// another goroutine. Closing a closed handle is a no-op.
func (h *Handle) Close(skipVacuum bool) error {
	if h.mgr == nil {
		return db.ErrConstructionMisuse
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	conn := h.conn
	if conn == nil {
		return nil
	}
	logger := h.mgr.logger.With("db", h.name)

	var errs []error
	reusable := true
	info := db.HandleInfo{
		Name:         h.name,
		File:         h.file,
		Secondary:    h.creator != nil,
		InTx:         !conn.AutocommitEnabled(),
		TagStoreSize: h.tags.Size(),
	}

	if info.InTx {
		if err := sqlitex.ExecuteTransient(conn, "ROLLBACK;", nil); err != nil {
			errs = append(errs, fmt.Errorf("rollback on close: %w", err))
		}
		// never pool a connection that still holds a transaction
		reusable = conn.AutocommitEnabled()
	}
	if !skipVacuum {
		if err := sqlitex.ExecuteTransient(conn, "PRAGMA incremental_vacuum;", nil); err != nil {
			logger.Warn(h.mgr.fmt.Warn("incremental vacuum failed"), "error", err)
		}
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA wal_checkpoint(PASSIVE);", nil); err != nil {
		logger.Warn(h.mgr.fmt.Warn("wal checkpoint failed"), "error", err)
	}
	if err := h.tags.close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize statements: %w", err))
	}

	h.conn = nil
	h.tags = nil
	h.mgr.untrack(h)
	h.mgr.notifyClose(info)

	if !reusable {
		h.mgr.discardConn(conn)
		return errors.Join(errs...)
	}
	kept, err := h.mgr.idle.release(h.file, conn, h.mgr.cfg.Get().MinIdle)
	if err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	logger.Debug("connection released", "kept", kept, "secondary", info.Secondary)
	return errors.Join(errs...)
}

// discard closes the native connection without pooling it.
func (h *Handle) discard() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return
	}
	h.tags.close()
	h.mgr.discardConn(h.conn)
	h.conn = nil
	h.tags = nil
	h.mgr.untrack(h)
}

// Exec runs a statement that returns no rows. Rows produced anyway are
// stepped over.
func (h *Handle) Exec(query string, args ...any) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()
	stmt, release, err := h.tags.acquire(query)
	if err != nil {
		return err
	}
	defer release()
	if err := bindArgs(stmt, args); err != nil {
		return fmt.Errorf("exec %q: %w", query, err)
	}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return fmt.Errorf("exec %q: %w", query, err)
		}
		if !hasRow {
			return nil
		}
	}
}

// ExecScript runs several statements separated by semicolons. Scripts are
// not cached.
func (h *Handle) ExecScript(script string) error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()
	return sqlitex.ExecuteScript(h.conn, script, nil)
}

// Prepare returns the cached compiled statement for query. The statement
// stays valid until the handle is closed; the caller resets it between uses
// and must not step it while the handle is being closed.
func (h *Handle) Prepare(query string) (*sqlite.Stmt, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	return h.tags.pin(query)
}

// Iterate steps through the rows of query lazily. The statement is returned
// to the cache when the loop ends, including on break. The handle is locked
// while a row is stepped, not while the loop body runs, so the body may use
// the handle. Closing it there ends the loop with db.ErrNotOpen.
func (h *Handle) Iterate(query string, args ...any) iter.Seq2[db.Row, error] {
	return func(yield func(db.Row, error) bool) {
		if err := h.lock(); err != nil {
			yield(nil, err)
			return
		}
		tags := h.tags
		stmt, release, err := tags.acquire(query)
		if err != nil {
			h.mu.Unlock()
			yield(nil, err)
			return
		}
		defer func() {
			h.mu.Lock()
			release()
			h.mu.Unlock()
		}()
		if err := bindArgs(stmt, args); err != nil {
			h.mu.Unlock()
			yield(nil, fmt.Errorf("query %q: %w", query, err))
			return
		}
		for {
			hasRow, err := stmt.Step()
			var row db.Row
			if err == nil && hasRow {
				row = readRow(stmt)
			}
			h.mu.Unlock()
			switch {
			case err != nil:
				yield(nil, fmt.Errorf("query %q: %w", query, err))
				return
			case !hasRow:
				return
			case !yield(row, nil):
				return
			}

			h.mu.Lock()
			if h.tags != tags {
				h.mu.Unlock()
				yield(nil, db.ErrNotOpen)
				return
			}
		}
	}
}

func (h *Handle) All(query string, args ...any) ([]db.Row, error) {
	var rows []db.Row
	for row, err := range h.Iterate(query, args...) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Get returns the first row of query, db.ErrNoRows when there is none.
func (h *Handle) Get(query string, args ...any) (db.Row, error) {
	for row, err := range h.Iterate(query, args...) {
		return row, err
	}
	return nil, db.ErrNoRows
}
