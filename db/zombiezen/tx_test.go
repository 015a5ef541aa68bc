package zombiezen

import (
	"context"
	"errors"
	"testing"

	"github.com/caasmo/litepool/db"
	"zombiezen.com/go/sqlite"
)

var errUnitOfWork = errors.New("unit of work failed")

func countItems(t *testing.T, h *Handle) int64 {
	t.Helper()
	row, err := h.Get("SELECT count(*) AS n FROM item")
	if err != nil {
		t.Fatalf("count items: %v", err)
	}
	return row.Int64("n")
}

func TestTransaction(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))
	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	err := h.Transaction(func(h *Handle) error {
		if !h.InTransaction() {
			t.Error("InTransaction() = false inside transaction")
		}
		return h.Exec("INSERT INTO item (name) VALUES ('committed')")
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if h.InTransaction() {
		t.Error("InTransaction() = true after commit")
	}
	if n := countItems(t, h); n != 1 {
		t.Errorf("count after commit = %d, want 1", n)
	}

	err = h.Transaction(func(h *Handle) error {
		if err := h.Exec("INSERT INTO item (name) VALUES ('rolled back')"); err != nil {
			return err
		}
		return errUnitOfWork
	})
	if err != errUnitOfWork {
		t.Fatalf("Transaction() error = %v, want the unit of work error unchanged", err)
	}
	if n := countItems(t, h); n != 1 {
		t.Errorf("count after rollback = %d, want 1", n)
	}
}

func TestTransaction_Nested(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))
	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	err := h.Transaction(func(h *Handle) error {
		return h.Transaction(func(*Handle) error { return nil })
	})
	if !errors.Is(err, db.ErrTransactionActive) {
		t.Errorf("nested Transaction() error = %v, want ErrTransactionActive", err)
	}
	if h.InTransaction() {
		t.Error("InTransaction() = true after failed nested transaction")
	}
}

func TestTransaction_PanicRollsBack(t *testing.T) {
	m := newTestManager(t, testConfig(t), scriptsFor("app"))
	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recover() = %v, want boom", r)
			}
		}()
		h.Transaction(func(h *Handle) error {
			if err := h.Exec("INSERT INTO item (name) VALUES ('lost')"); err != nil {
				t.Fatalf("Exec() error = %v", err)
			}
			panic("boom")
		})
	}()

	if h.InTransaction() {
		t.Error("InTransaction() = true after panic")
	}
	if n := countItems(t, h); n != 0 {
		t.Errorf("count after panic = %d, want 0", n)
	}
}

func TestBorrowedTransaction(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 3
	cfg.MinIdle = 1
	counter := &closeCounter{}
	m := newTestManager(t, cfg, scriptsFor("app"), WithObserver(counter))
	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	ctx := context.Background()
	err := h.BorrowedTransaction(ctx, func(ctx context.Context, s *Handle) error {
		if s == h || !s.IsSecondary() {
			t.Error("unit of work did not receive a secondary handle")
		}
		if h.InTransaction() {
			t.Error("original handle in transaction during borrowed transaction")
		}
		return s.Exec("INSERT INTO item (name) VALUES ('borrowed')")
	})
	if err != nil {
		t.Fatalf("BorrowedTransaction() error = %v", err)
	}
	if n := countItems(t, h); n != 1 {
		t.Errorf("count seen by original after commit = %d, want 1", n)
	}

	err = h.BorrowedTransaction(ctx, func(ctx context.Context, s *Handle) error {
		if err := s.Exec("INSERT INTO item (name) VALUES ('rolled back')"); err != nil {
			return err
		}
		return errUnitOfWork
	})
	if !errors.Is(err, errUnitOfWork) {
		t.Fatalf("BorrowedTransaction() error = %v, want errUnitOfWork", err)
	}
	if n := countItems(t, h); n != 1 {
		t.Errorf("count after borrowed rollback = %d, want 1", n)
	}

	secondary, _, inTx := counter.counts()
	if secondary != 2 {
		t.Errorf("secondary closes = %d, want exactly 1 per borrowed transaction", secondary)
	}
	if inTx != 0 {
		t.Errorf("secondary closed with open transaction %d times, want 0", inTx)
	}

	stats := m.Stats()
	if stats.Gate.Current != 2 {
		t.Errorf("gate current = %d, want 2 (original + one idle)", stats.Gate.Current)
	}
	if stats.OpenHandles != 1 {
		t.Errorf("OpenHandles = %d, want 1", stats.OpenHandles)
	}
}

func TestBorrowedTransaction_ReplaysFunctions(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 3
	cfg.MinIdle = 2
	m := newTestManager(t, cfg, scriptsFor("app"))

	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	// a pooled connection that never saw the registration
	mustClose(t, mustOpen(t, m, "app"))
	reusedBefore := m.Stats().Reused

	err := h.RegisterFunction("double", FunctionOptions{NArgs: 1, Deterministic: true}, func(args []sqlite.Value) (sqlite.Value, error) {
		return sqlite.IntegerValue(args[0].Int64() * 2), nil
	})
	if err != nil {
		t.Fatalf("RegisterFunction() error = %v", err)
	}

	err = h.BorrowedTransaction(context.Background(), func(ctx context.Context, s *Handle) error {
		row, err := s.Get("SELECT double(21) AS v")
		if err != nil {
			return err
		}
		if row.Int64("v") != 42 {
			t.Errorf("double(21) on secondary = %d, want 42", row.Int64("v"))
		}

		err = s.RegisterFunction("other", FunctionOptions{NArgs: 0}, func([]sqlite.Value) (sqlite.Value, error) {
			return sqlite.IntegerValue(1), nil
		})
		if !errors.Is(err, db.ErrFunctionRegistration) {
			t.Errorf("RegisterFunction() on secondary error = %v, want ErrFunctionRegistration", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("BorrowedTransaction() error = %v", err)
	}
	if got := m.Stats().Reused; got != reusedBefore+1 {
		t.Errorf("Reused = %d, want %d (secondary took the pooled connection)", got, reusedBefore+1)
	}
}

func TestBorrowedTransaction_GateTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpen = 1
	cfg.MinIdle = 0
	counter := &closeCounter{}
	m := newTestManager(t, cfg, scriptsFor("app"), WithObserver(counter))
	h := mustOpen(t, m, "app")
	defer mustClose(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := h.BorrowedTransaction(ctx, func(context.Context, *Handle) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("BorrowedTransaction() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("unit of work ran without a connection")
	}
	if secondary, _, _ := counter.counts(); secondary != 0 {
		t.Errorf("secondary closes = %d, want 0", secondary)
	}
}
