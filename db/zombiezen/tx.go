package zombiezen

import (
	"context"
	"errors"
	"fmt"

	"github.com/caasmo/litepool/db"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Transaction runs fn between BEGIN and COMMIT on this handle. When fn
// fails the transaction is rolled back and fn's error returned unchanged. A
// panic in fn rolls back before propagating. A handle already inside a
// transaction, whether begun here or by a BEGIN statement, is rejected.
func (h *Handle) Transaction(fn func(*Handle) error) (err error) {
	if err := h.begin(); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			h.rollback()
			panic(p)
		}
	}()

	if err := fn(h); err != nil {
		if rbErr := h.rollback(); rbErr != nil {
			h.mgr.logger.Error(h.mgr.fmt.Fail("rollback failed"), "db", h.name, "error", rbErr)
		}
		return err
	}
	return h.commit()
}

func (h *Handle) begin() error {
	if err := h.lock(); err != nil {
		return err
	}
	defer h.mu.Unlock()
	if !h.conn.AutocommitEnabled() {
		return db.ErrTransactionActive
	}
	if err := sqlitex.ExecuteTransient(h.conn, "BEGIN;", nil); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	return nil
}

func (h *Handle) commit() error {
	if err := h.lock(); err != nil {
		return err // closed inside fn, Close rolled back
	}
	defer h.mu.Unlock()
	if err := sqlitex.ExecuteTransient(h.conn, "COMMIT;", nil); err != nil {
		if !h.conn.AutocommitEnabled() {
			sqlitex.ExecuteTransient(h.conn, "ROLLBACK;", nil)
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (h *Handle) rollback() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil || h.conn.AutocommitEnabled() {
		return nil
	}
	return sqlitex.ExecuteTransient(h.conn, "ROLLBACK;", nil)
}

// BorrowedTransaction runs fn in a transaction on a secondary handle to the
// same file, obtained through the regular acquisition path. The secondary
// handle carries this handle's functions and is closed exactly once when fn
// returns, without a vacuum pass.
func (h *Handle) BorrowedTransaction(ctx context.Context, fn func(context.Context, *Handle) error) (err error) {
	if err := h.lock(); err != nil {
		return err
	}
	h.mu.Unlock()
	root := h
	if h.creator != nil {
		root = h.creator
	}

	sec := newHandle(h.mgr, h.name, h.file, root)
	if err := sec.Open(ctx); err != nil {
		return fmt.Errorf("borrow connection: %w", err)
	}
	defer func() {
		if cerr := sec.Close(true); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close borrowed connection: %w", cerr))
		}
	}()

	return sec.Transaction(func(s *Handle) error {
		return fn(ctx, s)
	})
}
